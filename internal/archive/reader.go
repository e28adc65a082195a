package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrArchiveOpen 表示路径无法作为受支持的归档打开（不存在、格式不支持或已损坏）。
	ErrArchiveOpen = errors.New("archive open failed")
	// ErrEntryNotFound 表示归档中不存在指定条目。
	ErrEntryNotFound = errors.New("archive entry not found")
)

// maxTextSize 限制 ReadText 读取的条目大小，元数据文件远小于该值。
const maxTextSize = 8 << 20

var errStopWalk = errors.New("stop walk")

// Reader 是包引擎依赖的归档读取能力。实现需保证各调用之间相互独立，可并发使用。
type Reader interface {
	// List 返回归档中的全部条目。
	List(ctx context.Context, archivePath string) ([]Entry, error)
	// ReadText 以文本形式读取指定条目，条目不存在时返回 ErrEntryNotFound。
	ReadText(ctx context.Context, archivePath, name string) (string, error)
	// ExtractEntry 仅解压指定条目到 destDir（保留归档内相对路径），返回落盘路径。
	ExtractEntry(ctx context.Context, archivePath, name, destDir string) (string, error)
	// ExtractAll 解压全部条目到 destDir，已存在的文件会被覆盖。
	ExtractAll(ctx context.Context, archivePath, destDir string) error
}

// FileReader 基于格式注册表读取本地归档文件。
type FileReader struct{}

// NewReader 返回默认的本地归档读取器。
func NewReader() *FileReader {
	return &FileReader{}
}

var _ Reader = (*FileReader)(nil)

func (r *FileReader) List(ctx context.Context, archivePath string) ([]Entry, error) {
	var entries []Entry
	err := r.walk(ctx, archivePath, func(entry Entry, _ func() (io.ReadCloser, error)) error {
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *FileReader) ReadText(ctx context.Context, archivePath, name string) (string, error) {
	want := cleanName(name)
	var (
		text  string
		found bool
	)
	err := r.walk(ctx, archivePath, func(entry Entry, open func() (io.ReadCloser, error)) error {
		if entry.IsDir || entry.Name != want {
			return nil
		}
		rc, err := open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(io.LimitReader(rc, maxTextSize))
		if err != nil {
			return fmt.Errorf("read entry %s: %w", entry.Name, err)
		}
		text = string(data)
		found = true
		return errStopWalk
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return text, nil
}

func (r *FileReader) ExtractEntry(ctx context.Context, archivePath, name, destDir string) (string, error) {
	want := cleanName(name)
	var target string
	err := r.walk(ctx, archivePath, func(entry Entry, open func() (io.ReadCloser, error)) error {
		if entry.IsDir || entry.Name != want {
			return nil
		}
		written, err := writeEntry(ctx, destDir, entry, open)
		if err != nil {
			return err
		}
		target = written
		return errStopWalk
	})
	if err != nil {
		return "", err
	}
	if target == "" {
		return "", fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return target, nil
}

func (r *FileReader) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	return r.walk(ctx, archivePath, func(entry Entry, open func() (io.ReadCloser, error)) error {
		if _, err := writeEntry(ctx, destDir, entry, open); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		return nil
	})
}

// walk 打开归档并遍历条目，负责 ctx 检查、errStopWalk 处理与关闭句柄。
func (r *FileReader) walk(ctx context.Context, archivePath string, fn WalkFunc) error {
	src, err := openSource(archivePath)
	if err != nil {
		return err
	}
	defer src.Close()

	err = src.Walk(func(entry Entry, open func() (io.ReadCloser, error)) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(entry, open)
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

func openSource(archivePath string) (Source, error) {
	format, ok := Detect(archivePath)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrArchiveOpen, strings.ToLower(filepath.Ext(archivePath)))
	}
	if !format.Supported() {
		return nil, fmt.Errorf("%w: format %s has no extraction backend", ErrArchiveOpen, format.Key)
	}
	src, err := format.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveOpen, filepath.Base(archivePath), err)
	}
	return src, nil
}
