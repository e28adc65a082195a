// Package metadata 解析归档内嵌的 package.json，产出只读的 Metadata 记录。
// 没有持久化索引：每次读取都重新打开归档解析，归档不可变，因此结果是确定的。
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/jsonc"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/words"
)

// EntryName 是归档根目录下的元数据条目名。
const EntryName = "package.json"

var (
	// ErrMetadataMissing 表示元数据条目不存在或为空。
	ErrMetadataMissing = errors.New("metadata missing")
	// ErrMetadataParse 表示元数据内容无法解析。
	ErrMetadataParse = errors.New("metadata parse failed")
)

// Metadata 对应 package.json 的结构。Content 为指针，缺失 content 对象时为 nil。
type Metadata struct {
	UID     string   `json:"uid"`
	Content *Content `json:"content,omitempty"`
}

// Content 描述包的展示字段与文件清单。Tags 是单个分隔字符串，按需切分。
type Content struct {
	Title  string     `json:"title"`
	Area   string     `json:"area"`
	Axis   string     `json:"axis"`
	Block  string     `json:"block"`
	Tags   string     `json:"tags"`
	Files  []FileRef  `json:"files"`
	Images []ImageRef `json:"images"`
}

// FileRef 是完整解压后应当存在的内容文件。
type FileRef struct {
	Filename string `json:"filename"`
}

// ImageRef 是可单独解压的资源条目，Type 为自由标签（如 front、content）。
type ImageRef struct {
	Type string `json:"type"`
	Src  string `json:"src"`
}

// Read 打开归档读取 package.json 并解析。
//   - 归档无法打开：archive.ErrArchiveOpen
//   - 条目缺失或为空：ErrMetadataMissing
//   - 内容非法：ErrMetadataParse
func Read(ctx context.Context, reader archive.Reader, archivePath string) (*Metadata, error) {
	text, err := reader.ReadText(ctx, archivePath, EntryName)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrMetadataMissing, archivePath, EntryName)
		}
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s in %s is empty", ErrMetadataMissing, EntryName, archivePath)
	}
	return Parse([]byte(text))
}

// Parse 解析 package.json 文本，允许注释与尾随逗号。顶层必须是 JSON 对象。
func Parse(data []byte) (*Metadata, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMetadataParse)
	}
	plain := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(plain) == 0 || plain[0] != '{' {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrMetadataParse)
	}

	var meta Metadata
	if err := json.Unmarshal(plain, &meta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataParse, err)
	}
	return &meta, nil
}

// Tags 将 content.tags 切分为规整后的标签集合；缺少 content 时返回空切片。
func Tags(meta *Metadata) []string {
	if meta == nil || meta.Content == nil {
		return []string{}
	}
	return words.SplitTags(meta.Content.Tags)
}

// Image 按类型（忽略大小写与首尾空白）查找资源，返回第一个匹配项。
func (m *Metadata) Image(assetType string) (ImageRef, bool) {
	if m == nil || m.Content == nil {
		return ImageRef{}, false
	}
	want := strings.ToLower(strings.TrimSpace(assetType))
	if want == "" {
		return ImageRef{}, false
	}
	for _, img := range m.Content.Images {
		if strings.ToLower(strings.TrimSpace(img.Type)) == want && img.Src != "" {
			return img, true
		}
	}
	return ImageRef{}, false
}

// Files 返回内容文件名列表，跳过空文件名。
func (m *Metadata) Files() []string {
	if m == nil || m.Content == nil {
		return nil
	}
	result := make([]string, 0, len(m.Content.Files))
	for _, f := range m.Content.Files {
		if name := strings.TrimSpace(f.Filename); name != "" {
			result = append(result, name)
		}
	}
	return result
}

// cutUIDMin 是可以缩写的最短 uid 长度（前 7 + 后 7）。
const cutUIDMin = 14

// CutUID 将 uid 缩写为 "前7..后7"，便于日志与列表展示；不足 14 个字符时原样返回。
func CutUID(uid string) string {
	runes := []rune(uid)
	if len(runes) < cutUIDMin {
		return uid
	}
	return string(runes[:7]) + ".." + string(runes[len(runes)-7:])
}
