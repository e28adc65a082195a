// Package words 提供标签与查询值共用的文本规整工具：大小写折叠、Unicode NFC
// 归一化、首尾空白裁剪以及标签串切分。查询比较与 getTags 都依赖同一套规则，
// 保证 "Foo" 与 " foo " 被视为同一个值。
package words

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// tagSeparators 是标签串允许使用的分隔符。
const tagSeparators = ",;"

// Normalize 将文本裁剪首尾空白、折叠内部连续空白，并做 NFC + case folding。
// cases.Caser 非并发安全，因此每次调用都新建实例。
func Normalize(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	joined := norm.NFC.String(strings.Join(fields, " "))
	return cases.Fold().String(joined)
}

// SplitTags 按分隔符切分标签串，返回去重后的规整标签（保持首次出现的顺序）。
// 空串返回非 nil 的空切片，便于 JSON 输出 []。
func SplitTags(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(tagSeparators, r)
	})

	result := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		tag := Normalize(part)
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}
