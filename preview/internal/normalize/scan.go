package normalize

import "strings"

// The scanner is deliberately shallow: it knows enough JavaScript/TSX lexical
// structure (strings, template literals, comments, regex literals, bracket
// nesting, JSX tags and text) to find top-level statements without a real
// parser. It never fails; malformed input degrades to punctuation tokens.

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokTemplate
	tokNumber
	tokRegex
	tokPunct
	tokComment
)

type token struct {
	kind     tokKind
	text     string
	start    int // byte offset, inclusive
	end      int // byte offset, exclusive
	depth    int // bracket depth of the enclosing statement
	line     int
	nlBefore bool // a line break separates this token from the previous one
}

func (t token) is(kind tokKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) punct(text string) bool { return t.is(tokPunct, text) }

func (t token) ident(text string) bool { return t.is(tokIdent, text) }

// scanResult holds the significant (non-comment) tokens and structural notes.
type scanResult struct {
	toks       []token
	unbalanced int // closing brackets seen at depth 0
	unclosed   int // brackets still open at EOF
}

// regexAfterKeyword lists keywords after which a slash starts a regex.
var regexAfterKeyword = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true, "instanceof": true,
}

// jsxMode is what the scanner is inside while it tracks JSX.
type jsxMode int

const (
	jsxTag      jsxMode = iota // <Name ...> or </Name>
	jsxChildren                // between an opening tag and its closing tag
	jsxExpr                    // {...} embedded in a tag or in children
)

type jsxFrame struct {
	mode    jsxMode
	closing bool // jsxTag
	depth   int  // jsxExpr: bracket depth just inside the brace
}

// scan tokenizes src. JSX text is skipped as text so apostrophes and other
// prose cannot open strings. When the JSX structure does not close by EOF
// (partial output, or a type parameter list taken for a tag) the source is
// rescanned without JSX tracking.
func scan(src string) scanResult {
	if res, ok := scanWith(src, true); ok {
		return res
	}
	res, _ := scanWith(src, false)
	return res
}

func scanWith(src string, jsx bool) (scanResult, bool) {
	var res scanResult
	var stack []jsxFrame
	depth := 0
	line := 1
	nl := false
	var prev *token

	emit := func(t token) {
		if t.kind == tokComment {
			return
		}
		t.nlBefore = nl
		nl = false
		res.toks = append(res.toks, t)
		prev = &res.toks[len(res.toks)-1]
	}
	punct := func(i, j int) {
		emit(token{kind: tokPunct, text: src[i:j], start: i, end: j, depth: depth, line: line})
	}
	top := func() *jsxFrame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}
	pop := func() { stack = stack[:len(stack)-1] }

	for i := 0; i < len(src); {
		c := src[i]

		if f := top(); f != nil {
			switch f.mode {
			case jsxChildren:
				switch c {
				case '{':
					// handled below with the other brackets
				case '<':
					punct(i, i+1)
					closing := i+1 < len(src) && src[i+1] == '/'
					if closing {
						pop()
					}
					stack = append(stack, jsxFrame{mode: jsxTag, closing: closing})
					i++
					continue
				default:
					for i < len(src) && src[i] != '<' && src[i] != '{' {
						if src[i] == '\n' {
							nl = true
							line++
						}
						i++
					}
					continue
				}
			case jsxTag:
				if c == '>' {
					punct(i, i+1)
					closing := f.closing
					pop()
					if !closing {
						stack = append(stack, jsxFrame{mode: jsxChildren})
					}
					i++
					continue
				}
				if c == '/' && i+1 < len(src) && src[i+1] == '>' {
					punct(i, i+1)
					punct(i+1, i+2)
					pop()
					i += 2
					continue
				}
			}
		}

		switch {
		case c == '\n':
			nl = true
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			j := i + 2
			for j < len(src) && src[j] != '\n' {
				j++
			}
			emit(token{kind: tokComment, start: i, end: j, depth: depth, line: line})
			i = j
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			j := i + 2
			startLine := line
			for j < len(src) && !(src[j] == '*' && j+1 < len(src) && src[j+1] == '/') {
				if src[j] == '\n' {
					line++
					nl = true
				}
				j++
			}
			if j < len(src) {
				j += 2
			}
			emit(token{kind: tokComment, start: i, end: j, depth: depth, line: startLine})
			i = j
		case c == '"' || c == '\'':
			j := skipQuoted(src, i)
			emit(token{kind: tokString, text: src[i:j], start: i, end: j, depth: depth, line: line})
			i = j
		case c == '`':
			startLine := line
			j, lines := skipTemplate(src, i)
			line += lines
			emit(token{kind: tokTemplate, text: src[i:j], start: i, end: j, depth: depth, line: startLine})
			i = j
		case c == '<' && jsx && (top() == nil || top().mode == jsxExpr) && jsxOpens(prev, src, i):
			punct(i, i+1)
			stack = append(stack, jsxFrame{mode: jsxTag})
			i++
		case c == '/' && regexAllowed(prev, src, i):
			if j, ok := skipRegex(src, i); ok {
				emit(token{kind: tokRegex, text: src[i:j], start: i, end: j, depth: depth, line: line})
				i = j
				continue
			}
			punct(i, i+1)
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			emit(token{kind: tokIdent, text: src[i:j], start: i, end: j, depth: depth, line: line})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			emit(token{kind: tokNumber, text: src[i:j], start: i, end: j, depth: depth, line: line})
			i = j
		case c == '{' || c == '(' || c == '[':
			punct(i, i+1)
			depth++
			if f := top(); c == '{' && f != nil && f.mode != jsxExpr {
				stack = append(stack, jsxFrame{mode: jsxExpr, depth: depth})
			}
			i++
		case c == '}' || c == ')' || c == ']':
			if depth == 0 {
				res.unbalanced++
			} else {
				depth--
			}
			punct(i, i+1)
			if f := top(); f != nil && f.mode == jsxExpr && depth < f.depth {
				pop()
			}
			i++
		default:
			j := i + 1
			// Keep multi-byte UTF-8 sequences and arrows together.
			if c >= 0x80 {
				for j < len(src) && src[j] >= 0x80 && src[j] < 0xC0 {
					j++
				}
			} else if c == '=' && j < len(src) && src[j] == '>' {
				j++
			}
			punct(i, j)
			i = j
		}
	}
	res.unclosed = depth
	return res, len(stack) == 0
}

// jsxOpens reports whether the '<' at i starts a JSX element: an expression
// may begin after prev and a tag name or '>' (fragment) follows. A name
// followed by ',' or "extends" is a type parameter list.
func jsxOpens(prev *token, src string, i int) bool {
	if !expressionMayStart(prev) {
		return false
	}
	j := i + 1
	if j < len(src) && src[j] == '>' {
		return true
	}
	if j >= len(src) || !isIdentStart(src[j]) {
		return false
	}
	for j < len(src) && (isIdentPart(src[j]) || src[j] == '.' || src[j] == '-' || src[j] == ':') {
		j++
	}
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	if j < len(src) && src[j] == ',' {
		return false
	}
	return !strings.HasPrefix(src[j:], "extends ")
}

func expressionMayStart(prev *token) bool {
	if prev == nil {
		return true
	}
	switch prev.kind {
	case tokIdent:
		return prev.text == "default" || regexAfterKeyword[prev.text]
	case tokPunct:
		switch prev.text {
		case ")", "]", "}":
			return false
		}
		return true
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// skipQuoted returns the offset just past a quoted string starting at i.
// An unescaped line break terminates the string: JSX text such as
// <p>Don't</p> must not swallow the rest of the file.
func skipQuoted(src string, i int) int {
	q := src[i]
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case q:
			return j + 1
		case '\n':
			return j
		}
		j++
	}
	return len(src)
}

// skipTemplate returns the offset past a template literal and the number of
// line breaks it spans. Substitutions may nest strings and templates.
func skipTemplate(src string, i int) (int, int) {
	lines := 0
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case '\n':
			lines++
		case '`':
			return j + 1, lines
		case '$':
			if j+1 < len(src) && src[j+1] == '{' {
				end, n := skipSubstitution(src, j+2)
				lines += n
				j = end
				continue
			}
		}
		j++
	}
	return len(src), lines
}

func skipSubstitution(src string, j int) (int, int) {
	lines := 0
	depth := 1
	for j < len(src) {
		switch src[j] {
		case '\n':
			lines++
		case '"', '\'':
			j = skipQuoted(src, j)
			continue
		case '`':
			end, n := skipTemplate(src, j)
			lines += n
			j = end
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1, lines
			}
		}
		j++
	}
	return len(src), lines
}

// regexAllowed decides whether a slash at i opens a regex literal.
func regexAllowed(prev *token, src string, i int) bool {
	if i+1 < len(src) && src[i+1] == '>' {
		return false // JSX self-closing tag
	}
	if prev == nil {
		return true
	}
	switch prev.kind {
	case tokIdent:
		return regexAfterKeyword[prev.text]
	case tokString, tokTemplate, tokNumber, tokRegex:
		return false
	case tokPunct:
		switch prev.text {
		case ")", "]":
			return false
		case "<":
			return false // JSX closing tag: </div>
		}
		return true
	}
	return false
}

// skipRegex scans a regex literal; ok is false when no closing slash exists
// on the same line.
func skipRegex(src string, i int) (int, bool) {
	j := i + 1
	inClass := false
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case '\n':
			return 0, false
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				j++
				for j < len(src) && isIdentPart(src[j]) {
					j++
				}
				return j, true
			}
		}
		j++
	}
	return 0, false
}
