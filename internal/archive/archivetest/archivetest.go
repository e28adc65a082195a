// Package archivetest builds small zip / tar.gz fixtures for tests.
package archivetest

import (
	"archive/tar"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// WriteZip writes files (name -> content) into a zip archive at dir/name and
// returns the archive path. Entries are written in sorted order.
func WriteZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()

	archivePath := filepath.Join(dir, name)
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, entry := range sortedNames(files) {
		w, err := zw.Create(entry)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", entry, err)
		}
		if _, err := w.Write([]byte(files[entry])); err != nil {
			t.Fatalf("write zip entry %s: %v", entry, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return archivePath
}

// WriteTarGz writes files into a gzip-compressed tarball at dir/name.
func WriteTarGz(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()

	archivePath := filepath.Join(dir, name)
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create tarball: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, entry := range sortedNames(files) {
		body := []byte(files[entry])
		hdr := &tar.Header{
			Name:     entry,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", entry, err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("write tar entry %s: %v", entry, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return archivePath
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
