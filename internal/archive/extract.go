package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const defaultFileMode = 0o644

// cleanName 将条目名规整为不含前导 "/" 或 "./" 的 slash 路径；根目录条目返回空串。
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}

// SafeJoin 将归档内相对路径拼接到 destDir，拒绝逃逸出 destDir 的条目（zip-slip）。
func SafeJoin(destDir, name string) (string, error) {
	rel := cleanName(name)
	if rel == "" {
		return "", fmt.Errorf("invalid entry path %q", name)
	}
	target := filepath.Join(destDir, filepath.FromSlash(rel))
	relPath, err := filepath.Rel(destDir, target)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid entry path %q", name)
	}
	return target, nil
}

// writeEntry 将单个条目写入 destDir。文件通过临时文件 + rename 落盘，失败时清理临时文件。
func writeEntry(ctx context.Context, destDir string, entry Entry, open func() (io.ReadCloser, error)) (string, error) {
	target, err := SafeJoin(destDir, entry.Name)
	if err != nil {
		return "", err
	}

	if entry.IsDir {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", err
		}
		return target, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".extract-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, rc)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	perm := entry.Mode.Perm()
	if perm == 0 {
		perm = defaultFileMode
	}
	if err := os.Chmod(tempName, perm|0o600); err != nil {
		os.Remove(tempName)
		return "", err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return target, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
