package stubs

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost records what stubs ask of the renderer.
type fakeHost struct {
	rt         *goja.Runtime
	elements   map[*goja.Object]bool
	fragment   *goja.Object
	unresolved []string
	effects    int
	rerenders  int
}

func newFakeHost() *fakeHost {
	rt := goja.New()
	return &fakeHost{rt: rt, elements: make(map[*goja.Object]bool), fragment: rt.NewObject()}
}

func (h *fakeHost) Runtime() *goja.Runtime { return h.rt }
func (h *fakeHost) Logger() *slog.Logger { return slog.Default() }
func (h *fakeHost) Viewport() (int, int) { return 1280, 800 }
func (h *fakeHost) Fragment() goja.Value { return h.fragment }
func (h *fakeHost) Cell() *Cell { return &Cell{} }
func (h *fakeHost) Rerender() { h.rerenders++ }
func (h *fakeHost) Effect(*Cell, goja.Callable) { h.effects++ }
func (h *fakeHost) Unresolved(name string) { h.unresolved = append(h.unresolved, name) }
func (h *fakeHost) Context(*goja.Object) (goja.Value, bool) { return nil, false }

func (h *fakeHost) Element(typ goja.Value, props *goja.Object) goja.Value {
	el := h.rt.NewObject()
	_ = el.Set("type", typ)
	_ = el.Set("props", props)
	h.elements[el] = true
	return el
}

func (h *fakeHost) IsElement(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	return ok && h.elements[obj]
}

func (h *fakeHost) Provide(_ *goja.Object, _, children goja.Value) goja.Value { return children }

func install(t *testing.T) (*fakeHost, *Env) {
	t.Helper()
	h := newFakeHost()
	return h, Build().Install(h)
}

// expose binds names on the realm's global object for direct scripting.
func expose(t *testing.T, h *fakeHost, env *Env, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, h.rt.Set(n, env.Get(n)))
	}
}

func TestCatalogue_LockstepWithImplementations(t *testing.T) {
	reg := Build()
	require.NotEmpty(t, reg.Version())

	for _, name := range reg.Names() {
		_, ok := reg.impls[name]
		assert.True(t, ok, "catalogued symbol %q has no implementation", name)
	}
	for name := range reg.impls {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "implementation %q is not catalogued", name)
	}
}

func TestInstall_EverySymbolMaterialises(t *testing.T) {
	h, env := install(t)
	for _, name := range env.Registry().Names() {
		v := env.Get(name)
		require.NotNil(t, v, name)
		assert.False(t, goja.IsUndefined(v), "%s resolved to undefined", name)
		assert.Same(t, v, env.Get(name), "%s must be cached per realm", name)
	}
	assert.Empty(t, h.unresolved)
}

func TestResolve(t *testing.T) {
	reg := Build()
	tests := []struct {
		name string
		want Resolution
	}{
		{"useState", Catalogued},
		{"motion", Catalogued},
		{"Math", Builtin},
		{"JSON", Builtin},
		{"ArrowRight", Icon},
		{"X", Icon},
		{"SparklesIcon", Icon},
		{"IconBrandGithub", Icon},
		{"LucideStar", Icon},
		{"FaGithub", Icon},
		{"HiOutlineMenu", Icon},
		{"Fancy", Fallback},
		{"PricingTable", Fallback},
		{"Icon", Fallback},
		{"fooBar", Unresolved},
		{"eval", Unresolved},
		{"Function", Fallback},
		{"HTTP", Unresolved},
		{"", Unresolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Resolve(tt.name))
		})
	}
}

func TestIconFactory_AnyIconLikeNameRenders(t *testing.T) {
	h, env := install(t)
	for _, name := range []string{"TotallyInventedIcon", "IconQuantumFlux", "Check", "BsRocketTakeoff"} {
		comp, ok := goja.AssertFunction(env.Get(name))
		require.True(t, ok, name)

		props := h.rt.NewObject()
		_ = props.Set("className", "w-4 h-4")
		out, err := comp(goja.Undefined(), props)
		require.NoError(t, err, name)
		require.True(t, h.IsElement(out), name)

		el := out.ToObject(h.rt)
		assert.Equal(t, "svg", el.Get("type").String())
		p := el.Get("props").ToObject(h.rt)
		assert.Equal(t, name, p.Get("data-icon").String())
		assert.Equal(t, "w-4 h-4", p.Get("className").String())
	}
	assert.Empty(t, h.unresolved)
}

func TestIconsNamespace(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "Icons")
	v, err := h.rt.RunString(`typeof Icons.Whatever === "function" && Icons.Whatever === Icons.Whatever`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestFallback_RecordsUnresolvedOnce(t *testing.T) {
	h, env := install(t)
	a := env.Get("MysteryWidget")
	b := env.Get("MysteryWidget")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"MysteryWidget"}, h.unresolved)

	comp, ok := goja.AssertFunction(a)
	require.True(t, ok)
	props := h.rt.NewObject()
	_ = props.Set("children", "inside")
	out, err := comp(goja.Undefined(), props)
	require.NoError(t, err)
	assert.Equal(t, "inside", out.String())
}

func TestClassNames(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "cn", "clsx")
	v, err := h.rt.RunString(`cn("a", {b: true, c: false}, ["d", null, ["e"]], 0, undefined, "  f  ", false && "g")`)
	require.NoError(t, err)
	assert.Equal(t, "a b d e f", v.String())

	v, err = h.rt.RunString(`clsx("x", 1)`)
	require.NoError(t, err)
	assert.Equal(t, "x 1", v.String())
}

func TestStorage_InMemoryPerRealm(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "localStorage", "window")
	v, err := h.rt.RunString(`
		localStorage.setItem("theme", "dark");
		window.localStorage.getItem("theme") + ":" + localStorage.length + ":" + localStorage.getItem("nope")`)
	require.NoError(t, err)
	assert.Equal(t, "dark:1:null", v.String())

	h2, env2 := install(t)
	expose(t, h2, env2, "localStorage")
	v, err = h2.rt.RunString(`localStorage.getItem("theme")`)
	require.NoError(t, err)
	assert.True(t, goja.IsNull(v))
}

func TestFetch_RejectsNetworkDisabled(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "fetch")
	_, err := h.rt.RunString(`var msg; fetch("https://example.com").catch(function (e) { msg = e.message; });`)
	require.NoError(t, err)
	assert.Equal(t, "network disabled", h.rt.Get("msg").String())
}

func TestMotion_DropsAnimationProps(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "motion")
	v, err := h.rt.RunString(`motion.div({initial: {opacity: 0}, animate: {opacity: 1}, className: "card", children: "hi"})`)
	require.NoError(t, err)
	require.True(t, h.IsElement(v))

	el := v.ToObject(h.rt)
	assert.Equal(t, "div", el.Get("type").String())
	props := el.Get("props").ToObject(h.rt)
	assert.Nil(t, props.Get("initial"))
	assert.Nil(t, props.Get("animate"))
	assert.Equal(t, "card", props.Get("className").String())

	same, err := h.rt.RunString(`motion.div === motion.div`)
	require.NoError(t, err)
	assert.True(t, same.ToBoolean())
}

func TestCreateElement_Children(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "__h", "Children")
	v, err := h.rt.RunString(`
		var el = __h("ul", {id: "list"}, __h("li", null, "a"), [__h("li", null, "b"), null, false]);
		Children.count(el.props.children) + ":" + el.props.id`)
	require.NoError(t, err)
	assert.Equal(t, "2:list", v.String())
}

func TestFonts_ReturnClassNames(t *testing.T) {
	h, env := install(t)
	expose(t, h, env, "Inter", "Playfair_Display")
	v, err := h.rt.RunString(`Inter({subsets: ["latin"]}).className + " " + Playfair_Display({}).style.fontFamily`)
	require.NoError(t, err)
	assert.Equal(t, "font-inter 'Playfair Display', sans-serif", v.String())
}

func TestPromptFragment_ListsPublicSymbols(t *testing.T) {
	reg := Build()
	frag := reg.PromptFragment()
	assert.Contains(t, frag, reg.Version())
	for _, s := range reg.Symbols() {
		assert.Contains(t, frag, s.Name)
	}
	assert.NotContains(t, frag, "__h")
	assert.True(t, strings.Contains(frag, "Do not write import statements"))
}
