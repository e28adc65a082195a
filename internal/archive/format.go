package archive

import (
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
)

// Entry 描述归档中的一个条目，Name 为规整后的 slash 风格相对路径。
type Entry struct {
	Name  string
	Size  int64
	Mode  fs.FileMode
	IsDir bool
}

// WalkFunc 在遍历时针对每个条目调用；open 仅在回调期间有效（tar 为流式读取）。
// 返回 errStopWalk 可提前结束遍历。
type WalkFunc func(entry Entry, open func() (io.ReadCloser, error)) error

// Source 是已打开的归档实例，只需支持顺序遍历。
type Source interface {
	Walk(fn WalkFunc) error
	Close() error
}

// Opener 根据文件路径打开某种容器格式。
type Opener func(path string) (Source, error)

// Format 记录一种容器格式的静态信息，供检测与诊断端使用。
type Format struct {
	Key         string
	Description string
	Extensions  []string
	// Open 为空表示仅声明了扩展名、尚无解压后端。
	Open Opener
}

// Supported 返回该格式是否具备解压后端。
func (f Format) Supported() bool {
	return f.Open != nil
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	formats map[string]Format
}

func newRegistry() *registry {
	return &registry{formats: make(map[string]Format)}
}

// Register 将格式加入全局注册表，重复键或重复扩展名会返回错误。
func Register(format Format) error {
	return globalRegistry.register(format)
}

// MustRegister 在注册失败时 panic，适合后端 init() 中调用。
func MustRegister(format Format) {
	if err := Register(format); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的格式。
func Resolve(key string) (Format, bool) {
	return globalRegistry.resolve(key)
}

// Detect 按文件名后缀匹配格式，多个扩展名命中时取最长者（.tar.gz 优先于 .gz）。
func Detect(filename string) (Format, bool) {
	return globalRegistry.detect(filename)
}

// List 返回按键排序的格式列表。
func List() []Format {
	return globalRegistry.list()
}

// Extensions 返回所有已声明的扩展名（含无后端的格式），按字母序排列。
func Extensions() []string {
	var result []string
	for _, format := range List() {
		result = append(result, format.Extensions...)
	}
	sort.Strings(result)
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeExtension(ext string) string {
	ext = normalizeKey(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (r *registry) register(format Format) error {
	key := normalizeKey(format.Key)
	if key == "" {
		return fmt.Errorf("format key is required")
	}
	if len(format.Extensions) == 0 {
		return fmt.Errorf("format %s declares no extensions", key)
	}
	format.Key = key

	exts := make([]string, 0, len(format.Extensions))
	for _, ext := range format.Extensions {
		normalized := normalizeExtension(ext)
		if normalized == "" {
			return fmt.Errorf("format %s has an empty extension", key)
		}
		exts = append(exts, normalized)
	}
	format.Extensions = exts

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formats[key]; exists {
		return fmt.Errorf("format %s already registered", key)
	}
	for _, existing := range r.formats {
		for _, ext := range existing.Extensions {
			for _, candidate := range exts {
				if ext == candidate {
					return fmt.Errorf("extension %s already claimed by format %s", ext, existing.Key)
				}
			}
		}
	}
	r.formats[key] = format
	return nil
}

func (r *registry) resolve(key string) (Format, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Format{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	format, ok := r.formats[normalized]
	return format, ok
}

func (r *registry) detect(filename string) (Format, bool) {
	lower := strings.ToLower(strings.TrimSpace(filename))
	if lower == "" {
		return Format{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    Format
		bestLen int
	)
	for _, format := range r.formats {
		for _, ext := range format.Extensions {
			if strings.HasSuffix(lower, ext) && len(ext) > bestLen {
				best = format
				bestLen = len(ext)
			}
		}
	}
	return best, bestLen > 0
}

func (r *registry) list() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.formats) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.formats))
	for key := range r.formats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Format, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.formats[key])
	}
	return result
}
