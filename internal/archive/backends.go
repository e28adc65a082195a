package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func init() {
	MustRegister(Format{Key: "zip", Description: "ZIP archive", Extensions: []string{".zip"}, Open: openZip})
	MustRegister(Format{Key: "tar", Description: "uncompressed tarball", Extensions: []string{".tar"}, Open: openTar})
	MustRegister(Format{Key: "tar.gz", Description: "gzip-compressed tarball", Extensions: []string{".tar.gz", ".tgz"}, Open: openTarGzip})
	// rar 仅作为能力声明保留，没有可用的解压后端。
	MustRegister(Format{Key: "rar", Description: "RAR archive (no extraction backend)", Extensions: []string{".rar"}})
}

type zipSource struct {
	reader *zip.ReadCloser
}

func openZip(path string) (Source, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipSource{reader: reader}, nil
}

func (s *zipSource) Walk(fn WalkFunc) error {
	for _, file := range s.reader.File {
		name := cleanName(file.Name)
		if name == "" {
			continue
		}
		info := file.FileInfo()
		entry := Entry{
			Name:  name,
			Size:  int64(file.UncompressedSize64),
			Mode:  file.Mode(),
			IsDir: info.IsDir(),
		}
		if err := fn(entry, file.Open); err != nil {
			return err
		}
	}
	return nil
}

func (s *zipSource) Close() error {
	return s.reader.Close()
}

type tarSource struct {
	file *os.File
	gz   *gzip.Reader
	tr   *tar.Reader
}

func openTar(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &tarSource{file: f, tr: tar.NewReader(f)}, nil
}

func openTarGzip(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	return &tarSource{file: f, gz: gz, tr: tar.NewReader(gz)}, nil
}

func (s *tarSource) Walk(fn WalkFunc) error {
	for {
		hdr, err := s.tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading tar entry: %w", ErrArchiveOpen, err)
		}

		var isDir bool
		switch hdr.Typeflag {
		case tar.TypeDir:
			isDir = true
		case tar.TypeReg:
		default:
			// 链接与设备文件不参与解压。
			continue
		}

		name := cleanName(hdr.Name)
		if name == "" {
			continue
		}
		entry := Entry{
			Name:  name,
			Size:  hdr.Size,
			Mode:  hdr.FileInfo().Mode(),
			IsDir: isDir,
		}
		open := func() (io.ReadCloser, error) {
			return io.NopCloser(s.tr), nil
		}
		if err := fn(entry, open); err != nil {
			return err
		}
	}
}

func (s *tarSource) Close() error {
	var gzErr error
	if s.gz != nil {
		gzErr = s.gz.Close()
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	return gzErr
}
