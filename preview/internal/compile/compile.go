// Package compile turns canonical component source into a goja program.
//
// The TSX is transpiled by esbuild with a fixed JSX factory, wrapped in a
// scope function whose free identifiers resolve through a with-statement
// over the sandbox's stub scope, and parsed once by goja. The resulting
// program is realm-independent and may be run in any number of sandboxes.
//
// Compile never returns an error: failures are diagnostics on the artifact.
package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/internal/normalize"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

const (
	// JSXFactory and JSXFragment are the names esbuild emits for JSX. The
	// stub catalogue binds both.
	JSXFactory  = "__h"
	JSXFragment = "__Fragment"

	// ScopeParam is the wrapper's parameter the sandbox passes its scope in.
	ScopeParam = "__scope"

	// SourceName is the file name goja reports in positions and stacks.
	SourceName = "preview.tsx"
)

// wrapperHead precedes the transpiled body.
const wrapperHead = "(function (" + ScopeParam + ") {\nwith (" + ScopeParam + ") {\nreturn (function () {\n"

// WrapperLines is subtracted from goja line numbers to map them back onto
// the canonical source.
var WrapperLines = strings.Count(wrapperHead, "\n")

var entryDecl = regexp.MustCompile(`(?m)\b(?:function\*?|class|const|let|var)\s+` + normalize.EntryPoint + `\b`)

// Artifact is the result of one compilation. It is immutable once returned
// and may be shared between sandboxes.
type Artifact struct {
	Program     *goja.Program
	Diagnostics diag.List
	Hash        string
	EntryPoint  string
	JS          string // transpiled body, before wrapping
	Catalogue   string // registry version the source was compiled against
	Duration    time.Duration
}

// Runnable reports whether the artifact may be executed.
func (a *Artifact) Runnable() bool {
	return a != nil && a.Program != nil && !a.Diagnostics.HasFatal()
}

// Options configures a Compiler.
type Options struct {
	Budget    time.Duration // warn when a compile takes longer; default 50ms
	CacheSize int           // memoized artifacts; default 64
	Logger    *slog.Logger
}

// Compiler compiles canonical sources. Safe for concurrent use.
type Compiler struct {
	budget time.Duration
	memo   *memo
	logger *slog.Logger
}

// New creates a Compiler.
func New(opts Options) *Compiler {
	if opts.Budget <= 0 {
		opts.Budget = 50 * time.Millisecond
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Compiler{budget: opts.Budget, memo: newMemo(opts.CacheSize), logger: opts.Logger}
}

// Stats returns memo counters.
func (c *Compiler) Stats() Stats { return c.memo.stats() }

// Key identifies a (source, catalogue) pair.
func Key(src string, reg *stubs.Registry) string {
	h := sha256.New()
	h.Write([]byte(reg.Version()))
	h.Write([]byte{0})
	h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

// Compile transpiles and parses src. Identical sources compiled against the
// same catalogue version return the memoized artifact.
func (c *Compiler) Compile(src string, reg *stubs.Registry) *Artifact {
	key := Key(src, reg)
	if art, ok := c.memo.get(key); ok {
		return art
	}

	start := time.Now()
	art := c.compile(src)
	art.Hash = key
	art.Catalogue = reg.Version()
	art.Duration = time.Since(start)

	if art.Duration > c.budget {
		c.logger.Warn("compile: budget exceeded",
			"duration", art.Duration, "budget", c.budget, "bytes", len(src))
	}
	if d, ok := art.Diagnostics.FirstFatal(); ok {
		c.logger.Debug("compile: failed", "hash", key[:12], "diagnostic", d.String())
	}
	c.memo.put(key, art)
	return art
}

func (c *Compiler) compile(src string) *Artifact {
	art := &Artifact{EntryPoint: normalize.EntryPoint}
	if strings.TrimSpace(src) == "" {
		art.Diagnostics = diag.List{failure("source is empty", 0, 0)}
		return art
	}

	res := api.Transform(src, api.TransformOptions{
		Loader:      api.LoaderTSX,
		JSX:         api.JSXTransform,
		JSXFactory:  JSXFactory,
		JSXFragment: JSXFragment,
		Target:      api.ES2019,
		Sourcefile:  SourceName,
		LogLevel:    api.LogLevelSilent,
	})
	for _, w := range res.Warnings {
		c.logger.Debug("compile: esbuild warning", "text", w.Text)
	}
	if len(res.Errors) > 0 {
		for _, m := range res.Errors {
			line, col := 0, 0
			if m.Location != nil {
				line, col = m.Location.Line, m.Location.Column+1
			}
			art.Diagnostics = append(art.Diagnostics, failure(m.Text, line, col))
		}
		return art
	}

	js := string(res.Code)
	art.JS = js
	if !entryDecl.MatchString(js) {
		art.Diagnostics = diag.List{failure(fmt.Sprintf("no component bound to %s", normalize.EntryPoint), 0, 0)}
		return art
	}

	prg, err := goja.Compile(SourceName, wrap(js), false)
	if err != nil {
		art.Diagnostics = diag.List{syntaxFailure(err)}
		return art
	}
	art.Program = prg
	return art
}

// wrap encloses the body in the scope function the sandbox invokes:
//
//	(function (__scope) { with (__scope) { return (function () { BODY; return PreviewEntry })() } })
func wrap(js string) string {
	var b strings.Builder
	b.Grow(len(wrapperHead) + len(js) + 64)
	b.WriteString(wrapperHead)
	b.WriteString(js)
	b.WriteString("\nreturn " + normalize.EntryPoint + ";\n})();\n}\n})")
	return b.String()
}

func failure(msg string, line, col int) diag.Diagnostic {
	return diag.Diagnostic{
		Kind:    diag.CompileFailure,
		Stage:   diag.StageCompile,
		Message: msg,
		Line:    line,
		Column:  col,
	}
}

func syntaxFailure(err error) diag.Diagnostic {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) && se.File != nil {
		pos := se.File.Position(se.Offset)
		line := pos.Line - WrapperLines
		if line < 0 {
			line = 0
		}
		return failure(se.Message, line, pos.Column)
	}
	return failure(err.Error(), 0, 0)
}
