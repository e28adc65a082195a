package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/archive/archivetest"
)

var fixtureFiles = map[string]string{
	"package.json":      `{"uid":"abc"}`,
	"images/front.png":  "front-bytes",
	"content/page1.txt": "page one",
}

func TestReadTextFromZipAndTarGz(t *testing.T) {
	dir := t.TempDir()
	archives := []string{
		archivetest.WriteZip(t, dir, "pkg.zip", fixtureFiles),
		archivetest.WriteTarGz(t, dir, "pkg.tar.gz", fixtureFiles),
	}

	reader := archive.NewReader()
	for _, path := range archives {
		text, err := reader.ReadText(context.Background(), path, "package.json")
		if err != nil {
			t.Fatalf("%s: read text error: %v", filepath.Base(path), err)
		}
		if text != fixtureFiles["package.json"] {
			t.Fatalf("%s: unexpected text %q", filepath.Base(path), text)
		}
	}
}

func TestReadTextMissingEntry(t *testing.T) {
	path := archivetest.WriteZip(t, t.TempDir(), "pkg.zip", fixtureFiles)

	_, err := archive.NewReader().ReadText(context.Background(), path, "missing.json")
	if !errors.Is(err, archive.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestExtractEntryOnlyWritesRequestedFile(t *testing.T) {
	path := archivetest.WriteZip(t, t.TempDir(), "pkg.zip", fixtureFiles)
	dest := t.TempDir()

	target, err := archive.NewReader().ExtractEntry(context.Background(), path, "images/front.png", dest)
	if err != nil {
		t.Fatalf("extract entry error: %v", err)
	}
	if target != filepath.Join(dest, "images", "front.png") {
		t.Fatalf("unexpected target %s", target)
	}
	body, err := os.ReadFile(target)
	if err != nil || string(body) != "front-bytes" {
		t.Fatalf("unexpected body %q (err=%v)", string(body), err)
	}
	if _, err := os.Stat(filepath.Join(dest, "content", "page1.txt")); !os.IsNotExist(err) {
		t.Fatalf("unrelated entries must not be extracted, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "package.json")); !os.IsNotExist(err) {
		t.Fatalf("package.json must not be extracted, stat err=%v", err)
	}
}

func TestExtractAllOverwrites(t *testing.T) {
	path := archivetest.WriteTarGz(t, t.TempDir(), "pkg.tgz", fixtureFiles)
	dest := t.TempDir()

	stale := filepath.Join(dest, "content", "page1.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	if err := archive.NewReader().ExtractAll(context.Background(), path, dest); err != nil {
		t.Fatalf("extract all error: %v", err)
	}
	for name, want := range fixtureFiles {
		body, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(body) != want {
			t.Fatalf("%s: expected %q got %q", name, want, string(body))
		}
	}
}

func TestListEntries(t *testing.T) {
	path := archivetest.WriteZip(t, t.TempDir(), "pkg.zip", fixtureFiles)

	entries, err := archive.NewReader().List(context.Background(), path)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != len(fixtureFiles) {
		t.Fatalf("expected %d entries, got %d", len(fixtureFiles), len(entries))
	}
}

func TestOpenFailures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(garbage, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	rar := filepath.Join(dir, "pkg.rar")
	if err := os.WriteFile(rar, []byte("Rar!"), 0o644); err != nil {
		t.Fatalf("write rar: %v", err)
	}

	testCases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.zip")},
		{"corrupt zip", garbage},
		{"declared without backend", rar},
		{"unknown extension", filepath.Join(dir, "pkg.7z")},
	}

	reader := archive.NewReader()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reader.ReadText(context.Background(), tc.path, "package.json")
			if !errors.Is(err, archive.ErrArchiveOpen) {
				t.Fatalf("expected ErrArchiveOpen, got %v", err)
			}
		})
	}
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	dest := t.TempDir()
	target, err := archive.SafeJoin(dest, "../../etc/passwd")
	if err != nil {
		t.Fatalf("cleaned path should stay inside dest: %v", err)
	}
	if filepath.Dir(filepath.Dir(target)) != dest {
		t.Fatalf("unexpected target %s", target)
	}
	if _, err := archive.SafeJoin(dest, "/"); err == nil {
		t.Fatalf("root entry should be rejected")
	}
}
