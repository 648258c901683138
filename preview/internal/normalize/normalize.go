// Package normalize rewrites raw generation output into canonical component
// source: fences unwrapped, directives, imports and type-only declarations
// stripped, and the entry component bound to the fixed name EntryPoint.
//
// Normalize never fails. Constructs it cannot classify stay in place and are
// reported as non-fatal anomalies; only an empty result is fatal.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/livepreview/preview/diag"
)

// EntryPoint is the name every canonical source binds its root component to.
const EntryPoint = "PreviewEntry"

// Result is a canonical source plus what normalization observed.
type Result struct {
	Source      string
	Diagnostics diag.List
	Stripped    Stripped
	// Entry is the component name the entry point was bound to ("" when the
	// source already declared EntryPoint or none was found).
	Entry string
}

// Stripped counts the constructs removed or rewritten.
type Stripped struct {
	Fence      bool `json:"fence"`
	Directives int  `json:"directives"`
	Imports    int  `json:"imports"`
	Types      int  `json:"types"`
	Exports    int  `json:"exports"`
}

// Fatal reports whether the result cannot be compiled.
func (r Result) Fatal() bool { return r.Diagnostics.HasFatal() }

type edit struct {
	start, end int
	repl       string
}

type normalizer struct {
	src      string
	toks     []token
	edits    []edit
	diags    diag.List
	stripped Stripped

	strippedTo int // token index just past the last whole-statement strip

	hasDefault bool
	entry      string // component aliased to EntryPoint
	declared   bool   // EntryPoint already declared by the source
	candidate  string // last top-level PascalCase component
}

// Normalize canonicalises raw generated source.
func Normalize(raw string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Source: raw,
				Diagnostics: diag.List{diag.Anomaly(diag.StageNormalize,
					"normalizer aborted, source left unchanged: %v", r)},
			}
		}
	}()

	src := strings.ReplaceAll(raw, "\r\n", "\n")
	src = strings.TrimPrefix(src, "\uFEFF")

	n := &normalizer{}
	if body, ok := unwrapFence(src); ok {
		src = body
		n.stripped.Fence = true
	}
	n.src = src

	sr := scan(src)
	n.toks = sr.toks
	n.walk()

	out := n.apply()
	if n.entry != "" && !n.declared {
		out = strings.TrimRight(out, " \t\n") + fmt.Sprintf("\n\nconst %s = %s;\n", EntryPoint, n.entry)
	}
	out = tidy(out)

	if strings.TrimSpace(out) == "" || len(scan(out).toks) == 0 {
		n.diags = append(n.diags, diag.Diagnostic{
			Kind:    diag.CompileFailure,
			Stage:   diag.StageNormalize,
			Message: "source is empty after normalization",
		})
	} else if n.entry == "" && !n.declared {
		n.diags = append(n.diags, diag.Anomaly(diag.StageNormalize,
			"no component entry point found"))
	}

	entry := n.entry
	if n.declared {
		entry = ""
	}
	return Result{Source: out, Diagnostics: n.diags, Stripped: n.stripped, Entry: entry}
}

func (n *normalizer) anomaly(t token, format string, args ...any) {
	d := diag.Anomaly(diag.StageNormalize, format, args...)
	d.Line = t.line
	n.diags = append(n.diags, d)
}

func (n *normalizer) cut(start, end int, repl string) {
	n.edits = append(n.edits, edit{start: start, end: end, repl: repl})
}

// tok returns the significant token at i, or a zero token past the end.
func (n *normalizer) tok(i int) (token, bool) {
	if i < 0 || i >= len(n.toks) {
		return token{}, false
	}
	return n.toks[i], true
}

// atStatementStart reports whether the depth-0 token at i begins a statement.
func (n *normalizer) atStatementStart(i int) bool {
	t := n.toks[i]
	if t.depth != 0 {
		return false
	}
	if i == 0 || t.nlBefore {
		return true
	}
	p := n.toks[i-1]
	return p.depth == 0 && (p.punct(";") || p.punct("}"))
}

func (n *normalizer) walk() {
	prologue := true
	for i := 0; i < len(n.toks); {
		t := n.toks[i]
		if t.depth != 0 || !n.atStatementStart(i) {
			i++
			continue
		}

		if prologue && t.kind == tokString {
			if next := n.directiveEnd(i); next > i {
				i = next
				continue
			}
		}
		next := i + 1
		switch {
		case t.ident("import"):
			next = n.stripImport(i)
		case t.ident("export"):
			next = n.rewriteExport(i)
		case t.ident("interface"), t.ident("type"), t.ident("declare"):
			if end, ok := n.typeDeclEnd(i); ok {
				n.strip(i, end)
				n.stripped.Types++
				next = end
			}
		case t.ident("function"), t.ident("async"):
			n.noteFunction(i)
		case t.ident("const"), t.ident("let"), t.ident("var"):
			n.noteVariable(i)
		case t.ident("require"):
			n.anomaly(t, "top-level require() left in place")
		}
		// Stripped statements do not end the directive prologue.
		if n.strippedTo != next {
			prologue = false
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}

	if !n.hasDefault && !n.declared && n.candidate != "" {
		n.entry = n.candidate
	}
}

// strip removes tokens [from, to) including a trailing semicolon.
func (n *normalizer) strip(from, to int) {
	end := n.toks[to-1].end
	n.cut(n.toks[from].start, end, "")
	n.strippedTo = to
}

// directiveEnd strips a "use ..." directive at i and returns the index of the
// next statement, or i when the string is not a directive.
func (n *normalizer) directiveEnd(i int) int {
	t := n.toks[i]
	body := strings.Trim(t.text, `"'`)
	if !strings.HasPrefix(body, "use ") {
		return i
	}
	end := i + 1
	if nt, ok := n.tok(end); ok && !nt.nlBefore && !nt.punct(";") {
		return i // part of an expression
	}
	if nt, ok := n.tok(end); ok && nt.punct(";") {
		end++
	}
	n.strip(i, end)
	n.stripped.Directives++
	return end
}

// stripImport removes an import declaration starting at i.
func (n *normalizer) stripImport(i int) int {
	if nt, ok := n.tok(i + 1); ok && (nt.punct("(") || nt.punct(".")) {
		return i + 1 // dynamic import or import.meta
	}
	for j := i + 1; j < len(n.toks); j++ {
		t := n.toks[j]
		if t.depth != 0 {
			continue
		}
		if t.kind == tokString && (j == i+1 || n.toks[j-1].ident("from")) {
			end := j + 1
			// Import attributes: with { type: "json" } / assert { ... }
			if at, ok := n.tok(end); ok && (at.ident("with") || at.ident("assert")) && !at.nlBefore {
				if br, ok := n.tok(end + 1); ok && br.punct("{") {
					if close := n.matching(end + 1); close > 0 {
						end = close + 1
					}
				}
			}
			if sc, ok := n.tok(end); ok && sc.punct(";") {
				end++
			}
			n.strip(i, end)
			n.stripped.Imports++
			return end
		}
		if t.punct(";") || (t.nlBefore && isStatementKeyword(t)) {
			break
		}
	}
	n.anomaly(n.toks[i], "import declaration without module specifier left in place")
	return i + 1
}

// matching returns the index of the bracket closing the one at i, or -1.
func (n *normalizer) matching(i int) int {
	open := n.toks[i]
	closer := map[string]string{"{": "}", "(": ")", "[": "]"}[open.text]
	for j := i + 1; j < len(n.toks); j++ {
		t := n.toks[j]
		if t.depth == open.depth && t.punct(closer) {
			return j
		}
		if t.depth < open.depth {
			return -1
		}
	}
	return -1
}

// typeDeclEnd finds the end (exclusive token index) of a type-only
// declaration at i. ok is false when i is not a type declaration or its end
// cannot be located with confidence.
func (n *normalizer) typeDeclEnd(i int) (int, bool) {
	t := n.toks[i]
	name, ok := n.tok(i + 1)
	if !ok || name.nlBefore {
		return 0, false
	}
	switch {
	case t.ident("interface"):
		if name.kind != tokIdent {
			return 0, false
		}
		return n.blockDeclEnd(i, "interface")
	case t.ident("type"):
		if name.punct("{") || name.punct("*") {
			return 0, false // "type" cannot start these; not ours
		}
		if name.kind != tokIdent {
			return 0, false
		}
		after, ok := n.tok(i + 2)
		if !ok || !(after.punct("=") || after.punct("<")) {
			return 0, false
		}
		return n.aliasEnd(i + 2), true
	case t.ident("declare"):
		switch name.text {
		case "const", "let", "var", "function", "module", "namespace", "global",
			"class", "type", "interface", "enum", "abstract":
		default:
			return 0, false
		}
		for j := i + 1; j < len(n.toks); j++ {
			tj := n.toks[j]
			if tj.depth != 0 {
				continue
			}
			if tj.punct("{") {
				close := n.matching(j)
				if close < 0 {
					n.anomaly(t, "unterminated declare block left in place")
					return 0, false
				}
				return n.withSemicolon(close + 1), true
			}
			if tj.punct(";") {
				return j + 1, true
			}
			if j > i+1 && tj.nlBefore {
				return j, true
			}
		}
		return len(n.toks), true
	}
	return 0, false
}

func (n *normalizer) blockDeclEnd(i int, what string) (int, bool) {
	for j := i + 2; j < len(n.toks); j++ {
		tj := n.toks[j]
		if tj.depth != 0 {
			continue
		}
		if tj.punct("{") {
			close := n.matching(j)
			if close < 0 {
				n.anomaly(n.toks[i], "unterminated %s body left in place", what)
				return 0, false
			}
			return n.withSemicolon(close + 1), true
		}
		if tj.punct(";") || tj.punct("=") {
			break
		}
	}
	n.anomaly(n.toks[i], "%s without body left in place", what)
	return 0, false
}

func (n *normalizer) withSemicolon(j int) int {
	if t, ok := n.tok(j); ok && t.punct(";") && !t.nlBefore {
		return j + 1
	}
	return j
}

// continuation tokens keep a type alias going across a line break.
var continuation = map[string]bool{
	"=": true, "|": true, "&": true, ",": true, "?": true, ":": true,
	"=>": true, "<": true, ".": true,
}

// aliasEnd scans a type alias body from the '=' or '<' at i.
func (n *normalizer) aliasEnd(i int) int {
	for j := i + 1; j < len(n.toks); j++ {
		tj := n.toks[j]
		if tj.depth != 0 {
			continue
		}
		if tj.punct(";") {
			return j + 1
		}
		if tj.nlBefore {
			if tj.punct("}") || tj.punct(")") || tj.punct("]") {
				continue
			}
			prev := n.toks[j-1]
			if prev.kind == tokPunct && continuation[prev.text] && prev.depth == 0 {
				continue
			}
			if prev.depth == 0 && (prev.ident("extends") || prev.ident("keyof")) {
				continue
			}
			if tj.kind == tokPunct && (continuation[tj.text] || tj.text == ">") {
				continue
			}
			if tj.ident("extends") {
				continue
			}
			return j
		}
	}
	return len(n.toks)
}

func isStatementKeyword(t token) bool {
	if t.kind != tokIdent {
		return false
	}
	switch t.text {
	case "import", "export", "const", "let", "var", "function", "class",
		"interface", "type", "declare", "async", "return", "if", "for", "while":
		return true
	}
	return false
}

// rewriteExport handles every export form at i and returns the next index.
func (n *normalizer) rewriteExport(i int) int {
	t := n.toks[i]
	next, ok := n.tok(i + 1)
	if !ok {
		n.strip(i, i+1)
		return i + 1
	}

	switch {
	case next.ident("default"):
		return n.rewriteDefault(i)

	case next.punct("{"):
		close := n.matching(i + 1)
		if close < 0 {
			n.anomaly(t, "unterminated export list left in place")
			return i + 1
		}
		return n.stripExportList(i, close)

	case next.punct("*"):
		for j := i + 2; j < len(n.toks); j++ {
			if n.toks[j].kind == tokString && n.toks[j-1].ident("from") {
				end := n.withSemicolon(j + 1)
				n.strip(i, end)
				n.stripped.Exports++
				return end
			}
		}
		n.anomaly(t, "re-export without module specifier left in place")
		return i + 1

	case next.ident("interface"), next.ident("type"), next.ident("declare"):
		if next.ident("type") {
			if br, ok := n.tok(i + 2); ok && br.punct("{") {
				// export type { A, B } [from "x"]
				if close := n.matching(i + 2); close > 0 {
					return n.stripExportList(i, close)
				}
			}
		}
		if end, ok := n.typeDeclEnd(i + 1); ok {
			n.strip(i, end)
			n.stripped.Types++
			return end
		}
		n.cut(t.start, next.start, "")
		return i + 1

	case next.ident("function"), next.ident("async"), next.ident("const"),
		next.ident("let"), next.ident("var"), next.ident("class"), next.ident("enum"),
		next.ident("abstract"):
		n.cut(t.start, next.start, "")
		n.stripped.Exports++
		switch {
		case next.ident("function"), next.ident("async"):
			n.noteFunction(i + 1)
		case next.ident("const"), next.ident("let"), next.ident("var"):
			n.noteVariable(i + 1)
		}
		return i + 1
	}

	n.anomaly(t, "unrecognised export form left in place")
	return i + 1
}

// stripExportList removes "export [type] { ... } [from "x"];" whose closing
// brace is at close.
func (n *normalizer) stripExportList(i, close int) int {
	end := close + 1
	if f, ok := n.tok(end); ok && f.ident("from") {
		if _, ok := n.tok(end + 1); ok {
			end += 2
		}
	}
	end = n.withSemicolon(end)
	n.strip(i, end)
	n.stripped.Exports++
	return end
}

// rewriteDefault binds the default export to EntryPoint.
func (n *normalizer) rewriteDefault(i int) int {
	exp := n.toks[i]
	def := n.toks[i+1]
	if n.hasDefault {
		n.anomaly(exp, "second default export ignored")
		n.cut(exp.start, def.end, "")
		return i + 2
	}
	n.hasDefault = true
	n.stripped.Exports++

	j := i + 2
	head, ok := n.tok(j)
	if !ok {
		n.strip(i, i+2)
		return i + 2
	}

	fn := j
	if head.ident("async") {
		fn = j + 1
	}
	if ft, ok := n.tok(fn); ok && (ft.ident("function") || ft.ident("class")) {
		nameIdx := fn + 1
		if star, ok := n.tok(nameIdx); ok && star.punct("*") {
			nameIdx++
		}
		name, ok := n.tok(nameIdx)
		if ok && name.kind == tokIdent {
			n.cut(exp.start, head.start, "")
			if name.text == EntryPoint {
				n.declared = true
			} else {
				n.entry = name.text
			}
			return nameIdx + 1
		}
		// Anonymous: export default function () {} -> function PreviewEntry() {}
		n.cut(exp.start, head.start, "")
		n.cut(n.toks[nameIdx-1].end, n.toks[nameIdx-1].end, " "+EntryPoint)
		n.declared = true
		return nameIdx
	}

	// export default Name;
	if head.kind == tokIdent {
		after, ok := n.tok(j + 1)
		if !ok || after.punct(";") || after.nlBefore {
			end := j + 1
			if ok && after.punct(";") {
				end++
			}
			// The alias is appended at the end so a component declared
			// below the export is initialised first.
			n.strip(i, end)
			if head.text == EntryPoint {
				n.declared = true
			} else {
				n.entry = head.text
			}
			return end
		}
	}

	// export default <expression>
	n.cut(exp.start, def.end, "const "+EntryPoint+" =")
	n.declared = true
	return j
}

// noteFunction records top-level function declarations.
func (n *normalizer) noteFunction(i int) {
	j := i
	if n.toks[j].ident("async") {
		j++
		if t, ok := n.tok(j); !ok || !t.ident("function") {
			return
		}
	}
	j++
	if t, ok := n.tok(j); ok && t.punct("*") {
		j++
	}
	name, ok := n.tok(j)
	if !ok || name.kind != tokIdent {
		return
	}
	n.noteName(name.text)
}

// noteVariable records top-level component constants.
func (n *normalizer) noteVariable(i int) {
	name, ok := n.tok(i + 1)
	if !ok || name.kind != tokIdent {
		return
	}
	if name.text == EntryPoint {
		n.declared = true
		return
	}
	if !isComponentName(name.text) {
		return
	}
	for j := i + 2; j < len(n.toks); j++ {
		t := n.toks[j]
		if t.depth != 0 {
			continue
		}
		if t.punct(";") || (t.nlBefore && j > i+2 && isStatementKeyword(t)) {
			return
		}
		if !t.punct("=") {
			continue
		}
		init, ok := n.tok(j + 1)
		if !ok {
			return
		}
		switch {
		case init.punct("("), init.ident("function"), init.ident("async"),
			init.ident("memo"), init.ident("forwardRef"):
			n.noteName(name.text)
		case init.ident("React"):
			if m, ok := n.tok(j + 3); ok && (m.ident("memo") || m.ident("forwardRef")) {
				n.noteName(name.text)
			}
		case init.kind == tokIdent:
			if arrow, ok := n.tok(j + 2); ok && arrow.punct("=>") {
				n.noteName(name.text)
			}
		}
		return
	}
}

func (n *normalizer) noteName(name string) {
	if name == EntryPoint {
		n.declared = true
		return
	}
	if isComponentName(name) {
		n.candidate = name
	}
}

// isComponentName reports PascalCase names with at least one lower-case rune.
func isComponentName(s string) bool {
	if s == "" || !unicode.IsUpper(rune(s[0])) {
		return false
	}
	for _, r := range s[1:] {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

// apply rewrites the source with all non-overlapping edits.
func (n *normalizer) apply() string {
	sort.SliceStable(n.edits, func(a, b int) bool { return n.edits[a].start < n.edits[b].start })
	var b strings.Builder
	pos := 0
	for _, e := range n.edits {
		if e.start < pos {
			continue
		}
		b.WriteString(n.src[pos:e.start])
		b.WriteString(e.repl)
		pos = e.end
	}
	b.WriteString(n.src[pos:])
	return b.String()
}

// tidy trims trailing spaces and collapses blank-line runs. Lines that end
// inside a template literal belong to its value and are kept verbatim.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	keep := templateLines(s)
	out := make([]string, 0, len(lines))
	blank := 0
	for n, ln := range lines {
		if keep[n+1] {
			out = append(out, ln)
			blank = 0
			continue
		}
		ln = strings.TrimRight(ln, " \t")
		if ln == "" {
			blank++
			if blank > 1 || len(out) == 0 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, ln)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// templateLines returns the 1-based lines whose line break falls inside a
// template literal.
func templateLines(s string) map[int]bool {
	keep := map[int]bool{}
	for _, t := range scan(s).toks {
		if t.kind != tokTemplate {
			continue
		}
		for k := 0; k < strings.Count(t.text, "\n"); k++ {
			keep[t.line+k] = true
		}
	}
	return keep
}
