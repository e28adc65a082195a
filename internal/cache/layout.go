package cache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrCacheDirectory 表示缓存目录创建失败。
	ErrCacheDirectory = errors.New("cache directory unavailable")
	// ErrInvalidPath 表示缓存键或条目路径会逃逸出缓存根目录。
	ErrInvalidPath = errors.New("invalid cache path")
)

// Layout 描述缓存根目录，磁盘布局遵循：
//
//	<CachePath>/<uid>-<build>/<归档内相对路径>
type Layout struct {
	root string
}

// NewLayout 以 root 为根目录构建缓存布局，整站复用一份实例。
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, errors.New("cache path required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache path: %w", ErrCacheDirectory, err)
	}

	return &Layout{root: abs}, nil
}

// Root 返回缓存根目录的绝对路径。
func (l *Layout) Root() string {
	return l.root
}

// Key 组合 uid 与 build，得到缓存目录名。
func Key(uid, build string) string {
	return uid + "-" + build
}

// Dir 返回 key 对应的缓存目录，纯计算，不访问磁盘。
func (l *Layout) Dir(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: key %q", ErrInvalidPath, key)
	}
	return filepath.Join(l.root, key), nil
}

// EntryPath 将归档内相对路径映射到缓存目录下，拒绝逃逸出 dir 的路径。
func EntryPath(dir, rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: entry %q", ErrInvalidPath, rel)
	}

	filePath := filepath.Join(dir, filepath.FromSlash(cleaned))
	if !strings.HasPrefix(filePath, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q", ErrInvalidPath, rel)
	}
	return filePath, nil
}

// IsAssetCached 判断单个资源文件是否已经落盘。
func IsAssetCached(dir, asset string) bool {
	filePath, err := EntryPath(dir, asset)
	if err != nil {
		return false
	}
	return isRegularFile(filePath)
}

// IsContentComplete 仅当目录存在且所有期望文件都存在时返回 true。
// 任一文件缺失都视为不完整，由调用方整体重新解压。
func IsContentComplete(dir string, files []string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, name := range files {
		filePath, err := EntryPath(dir, name)
		if err != nil || !isRegularFile(filePath) {
			return false
		}
	}
	return true
}

// EnsureDir 创建缓存目录，失败时返回 ErrCacheDirectory。
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCacheDirectory, dir, err)
	}
	return nil
}

func isRegularFile(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
