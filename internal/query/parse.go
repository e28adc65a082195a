package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidQuery 表示查询串无法解析。
var ErrInvalidQuery = errors.New("invalid query")

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse 将扁平查询串解析为 WhereChain。语法：
//
//	chain  = clause { ("and" | "or") clause }
//	clause = key op value
//	op     = "=" | "!=" | "contains"
//
// 不支持括号；含空白的值需要使用双引号。连接词与 contains 不区分大小写。
func Parse(expr string) (*WhereChain, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidQuery)
	}

	var (
		head *WhereChain
		tail *WhereChain
		pos  int
	)
	for {
		node, next, err := parseClause(tokens, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		if head == nil {
			head = node
		}
		if tail != nil {
			switch strings.ToLower(tokens[pos-4].text) {
			case "and":
				tail.And = node
			default:
				tail.Or = node
			}
		}
		tail = node

		if pos == len(tokens) {
			return head, nil
		}
		conn := tokens[pos]
		if conn.kind != tokWord || !isConnector(conn.text) {
			return nil, fmt.Errorf("%w: expected and/or at offset %d, got %q", ErrInvalidQuery, conn.pos, conn.text)
		}
		pos++
		if pos == len(tokens) {
			return nil, fmt.Errorf("%w: dangling %q at offset %d", ErrInvalidQuery, conn.text, conn.pos)
		}
	}
}

// parseClause 从 pos 开始读取 key op value 三个记号。
func parseClause(tokens []token, pos int) (*WhereChain, int, error) {
	if pos+3 > len(tokens) {
		return nil, 0, fmt.Errorf("%w: incomplete clause at offset %d", ErrInvalidQuery, tokens[pos].pos)
	}
	key, op, value := tokens[pos], tokens[pos+1], tokens[pos+2]

	if key.kind != tokWord || isConnector(key.text) {
		return nil, 0, fmt.Errorf("%w: expected key at offset %d, got %q", ErrInvalidQuery, key.pos, key.text)
	}

	var operator Operator
	switch {
	case op.kind == tokOp:
		operator = Operator(op.text)
	case op.kind == tokWord && strings.EqualFold(op.text, string(OpContains)):
		operator = OpContains
	default:
		return nil, 0, fmt.Errorf("%w: expected operator at offset %d, got %q", ErrInvalidQuery, op.pos, op.text)
	}

	if value.kind == tokOp {
		return nil, 0, fmt.Errorf("%w: expected value at offset %d, got %q", ErrInvalidQuery, value.pos, value.text)
	}

	node := &WhereChain{Predicate: Predicate{Key: key.text, Operator: operator, Value: value.text}}
	return node, pos + 3, nil
}

func isConnector(word string) bool {
	return strings.EqualFold(word, "and") || strings.EqualFold(word, "or")
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '=':
			tokens = append(tokens, token{kind: tokOp, text: "=", pos: i})
			i++
		case r == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, fmt.Errorf("%w: unexpected '!' at offset %d", ErrInvalidQuery, i)
			}
			tokens = append(tokens, token{kind: tokOp, text: "!=", pos: i})
			i += 2
		case r == '"':
			start := i
			var b strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					b.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidQuery, start)
			}
			tokens = append(tokens, token{kind: tokString, text: b.String(), pos: start})
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '=' && runes[i] != '!' && runes[i] != '"' {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: string(runes[start:i]), pos: start})
		}
	}
	return tokens, nil
}

// String 将链还原为查询串，值统一加双引号。
func (w *WhereChain) String() string {
	var b strings.Builder
	for node := w; node != nil; {
		op := normalizeOperator(node.Operator)
		fmt.Fprintf(&b, "%s %s %q", node.Key, op, node.Value)
		kind, next := node.next()
		switch kind {
		case linkAnd:
			b.WriteString(" and ")
		case linkOr:
			b.WriteString(" or ")
		}
		node = next
	}
	return b.String()
}
