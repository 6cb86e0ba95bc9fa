package pdfdoc

import (
	"bytes"
	"strconv"
)

// tokenKind classifies a lexeme of a page content stream.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokName
	tokString
	tokArrayOpen
	tokArrayClose
	tokDictOpen
	tokDictClose
	tokKeyword
)

type token struct {
	kind tokenKind
	num  float64
	str  []byte
}

// lexer walks a content stream. It never fails: unknown bytes are skipped,
// which matches how viewers tolerate sloppy CAD exports.
type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte) *lexer {
	return &lexer{data: data}
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) next() token {
	l.skipSpaceAndComments()
	if l.pos >= len(l.data) {
		return token{kind: tokEOF}
	}
	c := l.data[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokString, str: l.literalString()}
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return token{kind: tokDictOpen}
		}
		l.pos++
		return token{kind: tokString, str: l.hexString()}
	case c == '>':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
			l.pos += 2
			return token{kind: tokDictClose}
		}
		l.pos++
		return l.next()
	case c == '[':
		l.pos++
		return token{kind: tokArrayOpen}
	case c == ']':
		l.pos++
		return token{kind: tokArrayClose}
	case c == '{' || c == '}' || c == ')':
		l.pos++
		return l.next()
	case c == '/':
		l.pos++
		return token{kind: tokName, str: l.regular()}
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		raw := l.regular()
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return token{kind: tokNumber, num: f}
		}
		return token{kind: tokKeyword, str: raw}
	default:
		return token{kind: tokKeyword, str: l.regular()}
	}
}

func (l *lexer) regular() []byte {
	start := l.pos
	for l.pos < len(l.data) && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start && l.pos < len(l.data) {
		l.pos++
	}
	return l.data[start:l.pos]
}

// literalString reads a (...) string after the opening paren, resolving
// escapes and balanced nested parentheses.
func (l *lexer) literalString() []byte {
	var buf bytes.Buffer
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return buf.Bytes()
			}
			buf.WriteByte(c)
		case '\\':
			if l.pos >= len(l.data) {
				return buf.Bytes()
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						l.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

func (l *lexer) hexString() []byte {
	var out []byte
	var hi byte
	half := false
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		v, ok := hexVal(c)
		if !ok {
			continue
		}
		if !half {
			hi = v
			half = true
			continue
		}
		out = append(out, hi<<4|v)
		half = false
	}
	if half {
		out = append(out, hi<<4)
	}
	return out
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// skipInlineImage advances past the binary payload of BI ... ID ... EI.
func (l *lexer) skipInlineImage() {
	for l.pos+2 <= len(l.data) {
		if l.data[l.pos] == 'E' && l.data[l.pos+1] == 'I' &&
			(l.pos == 0 || isWhite(l.data[l.pos-1])) &&
			(l.pos+2 == len(l.data) || isWhite(l.data[l.pos+2]) || isDelim(l.data[l.pos+2])) {
			l.pos += 2
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// operand is one value on the operand stack: float64, []byte (string),
// name, or []operand (array). Dictionaries are dropped.
type operand any

type name string

// instruction is an operator together with its operands.
type instruction struct {
	op   string
	args []operand
}

// scan tokenizes the stream and calls fn for each operator.
func scan(data []byte, fn func(instruction)) {
	l := newLexer(data)
	var stack []operand
	for {
		t := l.next()
		switch t.kind {
		case tokEOF:
			return
		case tokNumber:
			stack = append(stack, t.num)
		case tokString:
			stack = append(stack, t.str)
		case tokName:
			stack = append(stack, name(t.str))
		case tokArrayOpen:
			stack = append(stack, l.array())
		case tokDictOpen:
			l.skipDict()
		case tokKeyword:
			op := string(t.str)
			switch op {
			case "true", "false", "null":
				stack = append(stack, op)
				continue
			case "BI":
				stack = stack[:0]
				l.skipInlineImage()
				fn(instruction{op: "BI"})
				continue
			}
			fn(instruction{op: op, args: stack})
			stack = nil
		}
	}
}

func (l *lexer) array() []operand {
	var arr []operand
	for {
		t := l.next()
		switch t.kind {
		case tokEOF, tokArrayClose:
			return arr
		case tokNumber:
			arr = append(arr, t.num)
		case tokString:
			arr = append(arr, t.str)
		case tokName:
			arr = append(arr, name(t.str))
		case tokArrayOpen:
			arr = append(arr, l.array())
		case tokDictOpen:
			l.skipDict()
		case tokKeyword:
			arr = append(arr, string(t.str))
		}
	}
}

func (l *lexer) skipDict() {
	depth := 1
	for depth > 0 {
		t := l.next()
		switch t.kind {
		case tokEOF:
			return
		case tokDictOpen:
			depth++
		case tokDictClose:
			depth--
		}
	}
}
