package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/diag"
)

const fencedHero = "Here is your component:\n\n```tsx\n" + `"use client";
import React, { useState } from "react";
import { ArrowRight } from "lucide-react";

interface Props {
  title?: string;
  items: { id: number; label: string }[];
}

export default function Hero({ title = "Hi" }: Props) {
  const [open, setOpen] = useState(false);
  return (
    <section className="p-4">
      <h1>{title}</h1>
      <ArrowRight />
    </section>
  );
}
` + "```\nHope this helps!\n"

func TestNormalize_FenceImportInterface(t *testing.T) {
	res := Normalize(fencedHero)
	require.False(t, res.Fatal(), "diagnostics: %v", res.Diagnostics)

	for _, gone := range []string{"```", "import", "interface", "use client", "Hope this helps", "export"} {
		assert.NotContains(t, res.Source, gone)
	}
	assert.True(t, strings.HasPrefix(res.Source, "function Hero("), "source:\n%s", res.Source)
	assert.Contains(t, res.Source, "const PreviewEntry = Hero;")
	assert.Equal(t, "Hero", res.Entry)
	assert.True(t, res.Stripped.Fence)
	assert.Equal(t, 1, res.Stripped.Directives)
	assert.Equal(t, 2, res.Stripped.Imports)
	assert.Equal(t, 1, res.Stripped.Types)
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		fencedHero,
		"export default function () { return <p>hi</p> }",
		"const A = () => <b/>;\nexport default A;\n",
		"import x from 'y'\n\"use client\"\nfunction Page() { return null }\n",
		"type A =\n  | \"x\"\n  | \"y\";\nexport const Tag = ({ v }: { v: A }) => <i>{v}</i>;\n",
		"function helper() {}\n\n\n\nfunction Card() { return <div/> }",
		"interface Broken {\n  a: string;\n",
		"export default memo(Card)\nfunction Card() { return <div/> }",
	}
	for _, in := range inputs {
		once := Normalize(in).Source
		twice := Normalize(once).Source
		assert.Equal(t, once, twice, "input:\n%s", in)
	}
}

func TestNormalize_NestedBracesInTypeStrings(t *testing.T) {
	src := `interface Weird {
  pattern: "{{ not a brace }";
  nested: { deep: { deeper: string } };
}
function Card() { const s = "}"; return <div>{s}</div>; }
`
	res := Normalize(src)
	assert.NotContains(t, res.Source, "Weird")
	assert.Contains(t, res.Source, `function Card() { const s = "}"; return <div>{s}</div>; }`)
	assert.Contains(t, res.Source, "const PreviewEntry = Card;")
	assert.Empty(t, res.Diagnostics)
}

func TestNormalize_TypeAliases(t *testing.T) {
	src := `type Variant =
  | "primary"
  | "secondary";
type Props = {
  variant: Variant;
};
const Button = ({ variant }) => <button className={variant}>Go</button>;
`
	res := Normalize(src)
	want := "const Button = ({ variant }) => <button className={variant}>Go</button>;\n\nconst PreviewEntry = Button;\n"
	assert.Equal(t, want, res.Source)
	assert.Equal(t, 2, res.Stripped.Types)
}

func TestNormalize_ExportForms(t *testing.T) {
	src := `export const Badge = () => <span>b</span>;
export function Page() { return <Badge />; }
export { Badge };
`
	res := Normalize(src)
	want := "const Badge = () => <span>b</span>;\nfunction Page() { return <Badge />; }\n\nconst PreviewEntry = Page;\n"
	assert.Equal(t, want, res.Source)
	assert.Equal(t, "Page", res.Entry)
}

func TestNormalize_DefaultExportVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"anonymous function", "export default function () { return <p/> }", "function PreviewEntry () { return <p/> }"},
		{"identifier", "const A = () => <b/>;\nexport default A;", "const PreviewEntry = A;"},
		{"expression", "export default memo(Card)", "const PreviewEntry = memo(Card)"},
		{"async function", "export default async function Load() { return null }", "const PreviewEntry = Load;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.in)
			assert.Contains(t, res.Source, tt.want)
			assert.NotContains(t, res.Source, "export")
		})
	}
}

func TestNormalize_NoDefaultPicksLastComponent(t *testing.T) {
	src := `function useThing() { return 1 }
function Header() { return <h1/> }
const Footer = () => <footer/>;
function App() { return <><Header/><Footer/></> }
`
	res := Normalize(src)
	assert.Equal(t, "App", res.Entry)
	assert.True(t, strings.HasSuffix(res.Source, "const PreviewEntry = App;\n"))
}

func TestNormalize_ImportsInsideStringsKept(t *testing.T) {
	src := "const s = \"import x from 'y'\";\nfunction Card() { return <p>{s}</p> }\n"
	res := Normalize(src)
	assert.Contains(t, res.Source, "import x from 'y'")
	assert.Equal(t, 0, res.Stripped.Imports)
}

func TestNormalize_MultilineAndSideEffectImports(t *testing.T) {
	src := `import {
  motion,
  AnimatePresence,
} from "framer-motion";
import "./globals.css";
import type { FC } from "react";
function Card() { return <div/> }
`
	res := Normalize(src)
	assert.Equal(t, 3, res.Stripped.Imports)
	assert.True(t, strings.HasPrefix(res.Source, "function Card()"), res.Source)
}

func TestNormalize_JSXApostrophesDoNotBreakDepth(t *testing.T) {
	src := `function Card() {
  return (
    <div>
      <p>Don't miss {count} items</p>
      <p>It's {label}</p>
    </div>
  );
}
interface Later { a: string }
`
	res := Normalize(src)
	assert.NotContains(t, res.Source, "interface")
	assert.Contains(t, res.Source, "Don't miss {count} items")
}

func TestNormalize_JSXTextQuotesKeepNesting(t *testing.T) {
	src := "function Page(){ return (<div><p>Don't miss</p><button onClick={() => {\n alert(1);\n }}>x</button><Badge/></div>); function Badge(){ return <i/>; } }\n"
	res := Normalize(src)
	assert.Equal(t, "Page", res.Entry)
	assert.Contains(t, res.Source, "const PreviewEntry = Page;")
	assert.NotContains(t, res.Source, "PreviewEntry = Badge")
}

func TestNormalize_TypeParameterListIsNotJSX(t *testing.T) {
	src := "const first = <T,>(xs: T[]) => xs[0];\nfunction Card() { return <b>{first([1])}</b> }\n"
	res := Normalize(src)
	assert.Equal(t, "Card", res.Entry)
}

func TestNormalize_UnterminatedInterfaceIsAnomaly(t *testing.T) {
	res := Normalize("function Card() { return <div/> }\ninterface Broken {\n  a: string;\n")
	assert.False(t, res.Fatal())
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, diag.NormalizationAnomaly, res.Diagnostics[0].Kind)
	assert.Contains(t, res.Source, "interface Broken")
}

func TestNormalize_EmptyIsFatal(t *testing.T) {
	for _, in := range []string{"", "   \n\n", "```tsx\n```", "import x from 'y';\n"} {
		res := Normalize(in)
		require.True(t, res.Fatal(), "input %q", in)
		d, _ := res.Diagnostics.FirstFatal()
		assert.Equal(t, diag.CompileFailure, d.Kind)
		assert.Equal(t, diag.StageNormalize, d.Stage)
	}
}

func TestNormalize_CollapsesBlankLines(t *testing.T) {
	res := Normalize("function A() {}\n\n\n\n\nfunction Card() { return null }   \n")
	assert.Equal(t, "function A() {}\n\nfunction Card() { return null }\n\nconst PreviewEntry = Card;\n", res.Source)
}

func TestNormalize_TemplateLiteralWhitespaceKept(t *testing.T) {
	res := Normalize("const s = `a   \n\n\n\nb  `;\n\n\n\nfunction Card() { return <p>{s}</p> }\n")
	assert.Contains(t, res.Source, "`a   \n\n\n\nb  `;\n\nfunction Card()")
}

func TestNormalize_StripsByteOrderMark(t *testing.T) {
	res := Normalize("\uFEFFfunction Card() { return <p>hi</p> }\n")
	require.False(t, res.Fatal())
	assert.True(t, strings.HasPrefix(res.Source, "function Card()"))
	assert.NotContains(t, res.Source, "\uFEFF")
}

func TestNormalize_UnterminatedFenceStreaming(t *testing.T) {
	res := Normalize("```jsx\nfunction Card() {\n  return <div>partial")
	assert.NotContains(t, res.Source, "```")
	assert.Contains(t, res.Source, "function Card()")
}

func TestNormalize_DeclareStripped(t *testing.T) {
	res := Normalize("declare module \"x\" {\n  const y: number;\n}\ndeclare const z: string;\nfunction Card() { return null }\n")
	assert.NotContains(t, res.Source, "declare")
	assert.Equal(t, 2, res.Stripped.Types)
}
