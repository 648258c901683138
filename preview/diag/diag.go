// Package diag defines the single diagnostic shape shared by every stage of
// the preview pipeline. Normalizer anomalies, compile failures, first-render
// failures and later runtime failures all travel as a Diagnostic, so a host
// renders one error taxonomy regardless of where a version broke.
package diag

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind string

const (
	NormalizationAnomaly Kind = "normalization_anomaly" // non-fatal, pipeline continues
	CompileFailure       Kind = "compile_failure"       // fatal for this version, no invoke
	MountFailure         Kind = "mount_failure"         // exception during first render
	RuntimeFailure       Kind = "runtime_failure"       // exception during a later render or interaction
)

// Stage names the pipeline step that produced a diagnostic.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageResolve   Stage = "resolve"
	StageCompile   Stage = "compile"
	StageMount     Stage = "mount"
	StageRender    Stage = "render"
	StageInteract  Stage = "interact"
)

// Diagnostic is one finding about a source version.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// Fatal reports whether the diagnostic prevents the version from rendering.
func (d Diagnostic) Fatal() bool {
	return d.Kind != NormalizationAnomaly
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", d.Kind, d.Stage)
	if d.Line > 0 {
		fmt.Fprintf(&b, " %d:%d", d.Line, d.Column)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Anomaly builds a non-fatal diagnostic.
func Anomaly(stage Stage, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: NormalizationAnomaly, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// List is an ordered set of diagnostics.
type List []Diagnostic

// HasFatal reports whether any diagnostic is fatal.
func (l List) HasFatal() bool {
	for _, d := range l {
		if d.Fatal() {
			return true
		}
	}
	return false
}

// FirstFatal returns the first fatal diagnostic.
func (l List) FirstFatal() (Diagnostic, bool) {
	for _, d := range l {
		if d.Fatal() {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// OfKind filters the list.
func (l List) OfKind(k Kind) List {
	var out List
	for _, d := range l {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// Merge concatenates lists into a fresh slice.
func Merge(lists ...List) List {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	if n == 0 {
		return nil
	}
	out := make(List, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
