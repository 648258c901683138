// Package stubs builds the environment generated components run against: a
// versioned catalogue of promised globals (React, animation, icons, framework
// stand-ins, inert browser globals) and the code that realises each of them
// inside one sandbox realm.
//
// A Registry is immutable and safe to share. Per-realm state (hook cells,
// storage maps, cached icon components) lives in the Env returned by Install.
package stubs

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Kind classifies a catalogued symbol.
type Kind string

const (
	KindNamespace   Kind = "namespace"
	KindHook        Kind = "hook"
	KindFunction    Kind = "function"
	KindComponent   Kind = "component"
	KindFont        Kind = "font"
	KindValue       Kind = "value"
	KindConstructor Kind = "constructor"
)

// Symbol is one catalogued global.
type Symbol struct {
	Name     string `yaml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Family   string `yaml:"family" json:"family"`
	Doc      string `yaml:"doc" json:"doc,omitempty"`
	Internal bool   `yaml:"internal" json:"internal,omitempty"`
}

type family struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

type iconRules struct {
	Suffixes []string `yaml:"suffixes"`
	Prefixes []string `yaml:"prefixes"`
	Packs    []string `yaml:"packs"`
	Glyphs   []string `yaml:"glyphs"`
}

type catalog struct {
	Version  string    `yaml:"version"`
	Families []family  `yaml:"families"`
	Symbols  []Symbol  `yaml:"symbols"`
	Icons    iconRules `yaml:"icons"`
	Builtins []string  `yaml:"builtins"`
}

// Resolution says how a free identifier binds inside a sandbox.
type Resolution int

const (
	Unresolved Resolution = iota // left to the global scope: ReferenceError
	Builtin                      // allow-listed JavaScript builtin
	Catalogued                   // catalogue symbol
	Icon                         // icon-like name, generic glyph
	Fallback                     // unknown component name, inert pass-through
)

func (r Resolution) String() string {
	switch r {
	case Builtin:
		return "builtin"
	case Catalogued:
		return "catalogued"
	case Icon:
		return "icon"
	case Fallback:
		return "fallback"
	}
	return "unresolved"
}

// Registry is the immutable symbol table shared by compile and sandbox.
type Registry struct {
	version  string
	families []family
	symbols  map[string]Symbol
	names    []string
	icons    iconRules
	glyphs   map[string]bool
	builtins map[string]bool
	impls    map[string]builder
}

// Build parses the embedded catalogue. It panics only if the embedded file is
// malformed, which the package tests rule out.
func Build() *Registry {
	r, err := parse(catalogYAML)
	if err != nil {
		panic(fmt.Sprintf("stubs: embedded catalogue: %v", err))
	}
	return r
}

func parse(data []byte) (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("stubs: parse catalogue: %w", err)
	}
	if c.Version == "" {
		return nil, fmt.Errorf("stubs: catalogue has no version")
	}
	r := &Registry{
		version:  c.Version,
		families: c.Families,
		symbols:  make(map[string]Symbol, len(c.Symbols)),
		icons:    c.Icons,
		glyphs:   make(map[string]bool, len(c.Icons.Glyphs)),
		builtins: make(map[string]bool, len(c.Builtins)),
		impls:    builders(),
	}
	for _, s := range c.Symbols {
		if _, dup := r.symbols[s.Name]; dup {
			return nil, fmt.Errorf("stubs: duplicate symbol %q", s.Name)
		}
		r.symbols[s.Name] = s
		r.names = append(r.names, s.Name)
	}
	sort.Strings(r.names)
	for _, g := range c.Icons.Glyphs {
		r.glyphs[g] = true
	}
	for _, b := range c.Builtins {
		r.builtins[b] = true
	}
	return r, nil
}

// Version identifies the catalogue revision. Compiled artifacts are keyed by it.
func (r *Registry) Version() string { return r.version }

// Names returns the catalogued symbol names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Symbols returns the public (non-internal) catalogue entries, sorted by name.
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, 0, len(r.names))
	for _, n := range r.names {
		if s := r.symbols[n]; !s.Internal {
			out = append(out, s)
		}
	}
	return out
}

// Lookup returns the catalogue entry for name.
func (r *Registry) Lookup(name string) (Symbol, bool) {
	s, ok := r.symbols[name]
	return s, ok
}

// Allowed reports whether name is an allow-listed JavaScript builtin.
func (r *Registry) Allowed(name string) bool { return r.builtins[name] }

// Builtins returns the allow-list.
func (r *Registry) Builtins() []string {
	out := make([]string, 0, len(r.builtins))
	for b := range r.builtins {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Resolve classifies a free identifier. It never fails.
func (r *Registry) Resolve(name string) Resolution {
	switch {
	case name == "":
		return Unresolved
	case r.symbols[name].Name != "":
		return Catalogued
	case r.builtins[name]:
		return Builtin
	case r.IsIconName(name):
		return Icon
	case isPascal(name):
		return Fallback
	}
	return Unresolved
}

// IsIconName reports whether name looks like an icon component: a catalogued
// glyph, a PascalCase name ending in "Icon", starting with "Icon" or "Lucide",
// or carrying a react-icons pack prefix ("FaGithub", "HiOutlineX").
func (r *Registry) IsIconName(name string) bool {
	if r.glyphs[name] {
		return true
	}
	if !isPascal(name) {
		return false
	}
	for _, s := range r.icons.Suffixes {
		if len(name) > len(s) && strings.HasSuffix(name, s) {
			return true
		}
	}
	return hasPrefixWord(name, r.icons.Prefixes) || hasPrefixWord(name, r.icons.Packs)
}

func hasPrefixWord(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(name) > len(p) && strings.HasPrefix(name, p) && isUpperASCII(name[len(p)]) {
			return true
		}
	}
	return false
}

// PromptFragment renders the catalogue for the generation collaborator's
// system prompt. Prompt and sandbox read the same table.
func (r *Registry) PromptFragment() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Runtime globals (catalogue %s). Do not write import statements; these names are already in scope:\n", r.version)
	byFamily := make(map[string][]string)
	for _, s := range r.Symbols() {
		byFamily[s.Family] = append(byFamily[s.Family], s.Name)
	}
	for _, f := range r.families {
		names := byFamily[f.ID]
		if len(names) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Title, strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "- Icon components: any name ending in %s or starting with %s, and common glyphs such as %s.\n",
		strings.Join(r.icons.Suffixes, "/"), strings.Join(r.icons.Prefixes, "/"),
		strings.Join(sample(r.icons.Glyphs, 8), ", "))
	b.WriteString("Export exactly one component with `export default`. Timers and network requests do not run.\n")
	return b.String()
}

func sample(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isPascal(name string) bool {
	if name == "" || !isUpperASCII(name[0]) {
		return false
	}
	for _, c := range name[1:] {
		if unicode.IsLower(c) {
			return true
		}
	}
	return false
}

func isUpperASCII(c byte) bool { return c >= 'A' && c <= 'Z' }
