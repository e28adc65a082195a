// Package query evaluates flat boolean chains of predicates against package
// metadata.
//
// A WhereChain is a linked list, not an expression tree: each node carries one
// predicate and at most one successor reached through "and" or "or". The chain
// is folded strictly left to right with no operator precedence, so
// "A and B or C" is ((A and B) or C) and "A or B and C" is ((A or B) and C).
package query

import (
	"errors"
	"strings"

	"github.com/epm-hub/pad-engine/internal/metadata"
	"github.com/epm-hub/pad-engine/internal/words"
)

// Operator 是谓词比较方式。
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpContains Operator = "contains"
)

// Predicate 是单个叶子条件；Operator 为空或无法识别时按 "=" 处理。
type Predicate struct {
	Key      string   `json:"key"`
	Operator Operator `json:"operator,omitempty"`
	Value    string   `json:"value"`
}

// WhereChain 是由 and/or 串联的线性谓词链。同一节点至多设置 And 或 Or 之一。
type WhereChain struct {
	Predicate
	And *WhereChain `json:"and,omitempty"`
	Or  *WhereChain `json:"or,omitempty"`
}

// ErrAmbiguousLink 表示某个节点同时设置了 And 与 Or。
var ErrAmbiguousLink = errors.New("where chain node has both and/or links")

type link int

const (
	linkNone link = iota
	linkAnd
	linkOr
)

// next 返回后继节点及其连接方式，And 优先。
func (w *WhereChain) next() (link, *WhereChain) {
	switch {
	case w.And != nil:
		return linkAnd, w.And
	case w.Or != nil:
		return linkOr, w.Or
	default:
		return linkNone, nil
	}
}

// Validate 检查链上每个节点至多只有一个后继。
func (w *WhereChain) Validate() error {
	for node := w; node != nil; {
		if node.And != nil && node.Or != nil {
			return ErrAmbiguousLink
		}
		_, node = node.next()
	}
	return nil
}

// Len 返回链上的谓词数量。
func (w *WhereChain) Len() int {
	n := 0
	for node := w; node != nil; _, node = node.next() {
		n++
	}
	return n
}

// IsMatch 自左向右折叠整条链：第一个节点的结果作为初值，之后每个节点的结果
// 按"上一节点指向本节点的连接方式"与累计值合并。nil 链匹配一切，nil 元数据不匹配。
func IsMatch(meta *metadata.Metadata, chain *WhereChain) bool {
	if chain == nil {
		return true
	}
	if meta == nil {
		return false
	}

	var (
		result    bool
		started   bool
		connector = linkNone
	)
	for node := chain; node != nil; {
		current := MatchPredicate(node.Predicate, meta)
		switch {
		case !started:
			result, started = current, true
		case connector == linkAnd:
			result = result && current
		default:
			result = result || current
		}
		connector, node = node.next()
	}
	return result
}

// contentFields 是可直接按键名读取的 content 字段。
var contentFields = []string{"area", "axis", "block", "title"}

// MatchPredicate 按键名分派单个谓词：
//   - 键名包含 "id"（含 uid）：比较 uid；
//   - 键名包含 area/axis/block/title：读取 content 中同名字段，键名需与字段完全一致；
//   - 键名为 "tag"：任一标签满足即为真；
//   - 其它键或读取过程中的任何异常：返回 false。
func MatchPredicate(pred Predicate, meta *metadata.Metadata) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()

	if meta == nil {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(pred.Key))

	if strings.Contains(key, "id") {
		return Compare(pred, meta.UID)
	}
	for _, field := range contentFields {
		if strings.Contains(key, field) {
			value, ok := contentField(meta.Content, key)
			if !ok {
				return false
			}
			return Compare(pred, value)
		}
	}
	if key == "tag" {
		if meta.Content == nil {
			return false
		}
		for _, tag := range metadata.Tags(meta) {
			if Compare(pred, tag) {
				return true
			}
		}
	}
	return false
}

func contentField(content *metadata.Content, key string) (string, bool) {
	if content == nil {
		return "", false
	}
	switch key {
	case "area":
		return content.Area, true
	case "axis":
		return content.Axis, true
	case "block":
		return content.Block, true
	case "title":
		return content.Title, true
	default:
		return "", false
	}
}

// Compare 将谓词值与候选文本规整后比较；候选为空时恒为 false。
func Compare(pred Predicate, text string) bool {
	candidate := words.Normalize(text)
	if candidate == "" {
		return false
	}
	value := words.Normalize(pred.Value)

	switch normalizeOperator(pred.Operator) {
	case OpNotEqual:
		return value != candidate
	case OpContains:
		return strings.Contains(candidate, value)
	default:
		return value == candidate
	}
}

func normalizeOperator(op Operator) Operator {
	switch Operator(strings.ToLower(strings.TrimSpace(string(op)))) {
	case OpNotEqual:
		return OpNotEqual
	case OpContains:
		return OpContains
	default:
		return OpEqual
	}
}
