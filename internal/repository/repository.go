// Package repository 表示一个本地包仓库：PackagesPath 下存放不可变的归档文件，
// CachePath 下存放按 <uid>-<build> 划分的解压缓存。引擎通过它把 PackageInfo
// 映射为归档路径与缓存目录。
package repository

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/cache"
)

// ErrInvalidPath 表示归档文件名会逃逸出仓库目录。
var ErrInvalidPath = errors.New("invalid package path")

// fingerprintLen 是 build 指纹的十六进制长度。
const fingerprintLen = 16

// PackageInfo 标识一个具体的归档实例及其逻辑版本。
type PackageInfo struct {
	UID      string `json:"uid"`
	Build    string `json:"build"`
	Filename string `json:"filename"`
}

// CacheKey 返回 uid-build，作为缓存目录名。
func (i PackageInfo) CacheKey() string {
	return cache.Key(i.UID, i.Build)
}

// Repository 聚合归档目录与缓存布局。
type Repository struct {
	packagesPath string
	layout       *cache.Layout

	mu           sync.Mutex
	fingerprints map[string]fingerprint
}

type fingerprint struct {
	size    int64
	modTime time.Time
	sum     string
}

// New 构建仓库；packagesPath 必须是已存在的目录。
func New(packagesPath string, layout *cache.Layout) (*Repository, error) {
	if packagesPath == "" {
		return nil, errors.New("packages path required")
	}
	if layout == nil {
		return nil, errors.New("cache layout required")
	}

	abs, err := filepath.Abs(packagesPath)
	if err != nil {
		return nil, fmt.Errorf("resolve packages path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("packages path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("packages path %s is not a directory", abs)
	}

	return &Repository{
		packagesPath: abs,
		layout:       layout,
		fingerprints: make(map[string]fingerprint),
	}, nil
}

// PackagesPath 返回归档目录的绝对路径。
func (r *Repository) PackagesPath() string {
	return r.packagesPath
}

// Layout 返回缓存布局。
func (r *Repository) Layout() *cache.Layout {
	return r.layout
}

// Resolve 将仓库内的相对文件名映射为绝对路径，不检查文件是否存在。
func (r *Repository) Resolve(filename string) (string, error) {
	rel := strings.ReplaceAll(filename, "\\", "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}
	return filepath.Join(r.packagesPath, filepath.FromSlash(cleaned)), nil
}

// CacheDir 返回 info 对应的缓存目录。uid 可以为空（package.json 未声明 uid 时
// 目录名为 "-<build>"），build 必须存在。
func (r *Repository) CacheDir(info PackageInfo) (string, error) {
	if info.Build == "" {
		return "", fmt.Errorf("%w: build is required", cache.ErrInvalidPath)
	}
	return r.layout.Dir(info.CacheKey())
}

// List 返回仓库根目录下所有可识别扩展名的归档文件名（按字母序）。
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.packagesPath)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := archive.Detect(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Describe 为 filename 构建 PackageInfo：uid 来自元数据，build 为归档内容的 blake3
// 指纹。归档不可变，因此同一文件总是得到同一缓存目录；文件被替换后指纹随之变化。
func (r *Repository) Describe(filename, uid string) (PackageInfo, error) {
	build, err := r.Fingerprint(filename)
	if err != nil {
		return PackageInfo{}, err
	}
	return PackageInfo{UID: uid, Build: build, Filename: filename}, nil
}

// Fingerprint 计算归档内容的 blake3 摘要前缀；按 (size, modtime) 记忆结果。
func (r *Repository) Fingerprint(filename string) (string, error) {
	archivePath, err := r.Resolve(filename)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", archive.ErrArchiveOpen, err)
	}

	r.mu.Lock()
	cached, ok := r.fingerprints[archivePath]
	r.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.sum, nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", archive.ErrArchiveOpen, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filename, err)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))[:fingerprintLen]

	r.mu.Lock()
	r.fingerprints[archivePath] = fingerprint{size: info.Size(), modTime: info.ModTime(), sum: sum}
	r.mu.Unlock()
	return sum, nil
}
