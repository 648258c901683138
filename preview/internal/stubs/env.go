package stubs

import (
	"log/slog"
	"strconv"

	"github.com/dop251/goja"
)

// Host is the renderer a realm's stubs call back into. The sandbox
// implements it; elements, hook cells and context scopes are its business.
type Host interface {
	Runtime() *goja.Runtime
	Logger() *slog.Logger
	Viewport() (width, height int)

	// Element builds a renderable element. Elements expose "type" and
	// "props" properties; children live in props.children.
	Element(typ goja.Value, props *goja.Object) goja.Value
	IsElement(v goja.Value) bool
	Fragment() goja.Value

	// Provide returns an element that renders children with ctx bound to value.
	Provide(ctx *goja.Object, value, children goja.Value) goja.Value
	// Context returns the nearest provided value of ctx.
	Context(ctx *goja.Object) (goja.Value, bool)

	// Cell returns the next hook cell of the component being rendered. It
	// throws into the realm when called outside a render.
	Cell() *Cell
	// Rerender schedules another pass after the current one.
	Rerender()
	// Effect queues fn to run once the current pass is committed. The host
	// runs c.Cleanup first and stores the function fn returns, if any.
	Effect(c *Cell, fn goja.Callable)

	// Unresolved records that name was bound to the inert fallback component.
	Unresolved(name string)
}

// Cell is one hook slot of a component instance.
type Cell struct {
	Ready   bool
	Value   goja.Value
	Aux     goja.Value // setter, dispatcher or other stable companion
	Fn      goja.Value // latest reducer
	Deps    []goja.Value
	HasDeps bool
	Cleanup goja.Callable
}

// builder realises one catalogued symbol inside a realm.
type builder func(e *Env) goja.Value

// Env is a Registry installed into one realm. It is owned by the realm's
// goroutine and must not be shared.
type Env struct {
	reg *Registry
	h   Host
	rt  *goja.Runtime

	values    map[string]goja.Value
	icons     map[string]goja.Value
	fallbacks map[string]goja.Value
	motions   map[string]goja.Value
	classes   []goja.Value // Component, PureComponent

	seq int64 // ids for useId and timers
}

// Install binds the registry to a realm. Symbols are realised lazily on
// first lookup and cached for the realm's lifetime.
func (r *Registry) Install(h Host) *Env {
	return &Env{
		reg:       r,
		h:         h,
		rt:        h.Runtime(),
		values:    make(map[string]goja.Value),
		icons:     make(map[string]goja.Value),
		fallbacks: make(map[string]goja.Value),
		motions:   make(map[string]goja.Value),
	}
}

// Registry returns the registry the env was installed from.
func (e *Env) Registry() *Registry { return e.reg }

// Has reports whether name binds through the stub scope rather than the
// realm's global object.
func (e *Env) Has(name string) bool {
	switch e.reg.Resolve(name) {
	case Catalogued, Icon, Fallback:
		return true
	}
	return false
}

// Get returns the binding for name. Names Has rejects yield undefined.
func (e *Env) Get(name string) goja.Value {
	switch e.reg.Resolve(name) {
	case Catalogued:
		return e.symbol(name)
	case Icon:
		return e.Icon(name)
	case Fallback:
		return e.fallback(name)
	}
	return goja.Undefined()
}

func (e *Env) symbol(name string) goja.Value {
	if v, ok := e.values[name]; ok {
		return v
	}
	b, ok := e.reg.impls[name]
	if !ok {
		e.h.Logger().Warn("stubs: catalogued symbol without implementation", "symbol", name)
		return goja.Undefined()
	}
	v := b(e)
	e.values[name] = v
	return v
}

// fallback returns the inert pass-through component standing in for an
// unknown component name.
func (e *Env) fallback(name string) goja.Value {
	if v, ok := e.fallbacks[name]; ok {
		return v
	}
	e.h.Unresolved(name)
	v := e.component(name, passThrough)
	e.fallbacks[name] = v
	return v
}

func passThrough(e *Env, props *goja.Object) goja.Value {
	return children(props)
}

// component wraps a Go render function as a named function component.
func (e *Env) component(name string, render func(e *Env, props *goja.Object) goja.Value) goja.Value {
	fn := e.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return render(e, e.object(call.Argument(0)))
	}).(*goja.Object)
	_ = fn.DefineDataProperty("name", e.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = fn.Set("displayName", name)
	return fn
}

func (e *Env) fn(f func(call goja.FunctionCall) goja.Value) goja.Value {
	return e.rt.ToValue(f)
}

func (e *Env) noop() goja.Value {
	return e.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
}

// constant returns a function that always returns v.
func (e *Env) constant(v goja.Value) goja.Value {
	return e.fn(func(goja.FunctionCall) goja.Value { return v })
}

// object converts v to an object, yielding an empty one for null and undefined.
func (e *Env) object(v goja.Value) *goja.Object {
	if isNullish(v) {
		return e.rt.NewObject()
	}
	return v.ToObject(e.rt)
}

// call invokes a realm function, rethrowing its exception into the realm.
func (e *Env) call(fn goja.Value, args ...goja.Value) goja.Value {
	f, ok := goja.AssertFunction(fn)
	if !ok {
		panic(e.rt.NewTypeError("%s is not a function", fn.String()))
	}
	v, err := f(goja.Undefined(), args...)
	if err != nil {
		panic(err)
	}
	return v
}

// items returns the elements of an array-like value.
func (e *Env) items(v goja.Value) []goja.Value {
	if isNullish(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	n := obj.Get("length")
	if n == nil {
		return nil
	}
	out := make([]goja.Value, 0, n.ToInteger())
	for i := int64(0); i < n.ToInteger(); i++ {
		out = append(out, obj.Get(strconv.FormatInt(i, 10)))
	}
	return out
}

func (e *Env) array(vals []goja.Value) goja.Value {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return e.rt.NewArray(out...)
}

func (e *Env) nextID() int64 {
	e.seq++
	return e.seq
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func children(props *goja.Object) goja.Value {
	c := props.Get("children")
	if c == nil || goja.IsUndefined(c) {
		return goja.Null()
	}
	return c
}

// copyProps copies own enumerable properties of src into a new object,
// skipping names in drop.
func (e *Env) copyProps(src *goja.Object, drop map[string]bool) *goja.Object {
	out := e.rt.NewObject()
	if src == nil {
		return out
	}
	for _, k := range src.Keys() {
		if drop[k] {
			continue
		}
		_ = out.Set(k, src.Get(k))
	}
	return out
}

// builders maps every catalogued symbol to its implementation.
func builders() map[string]builder {
	m := make(map[string]builder)
	for name, b := range reactBuilders() {
		m[name] = b
	}
	for name, b := range motionBuilders() {
		m[name] = b
	}
	for name, b := range frameworkBuilders() {
		m[name] = b
	}
	for name, b := range browserBuilders() {
		m[name] = b
	}
	m["Icons"] = func(e *Env) goja.Value { return e.iconNamespace() }
	m["cn"] = func(e *Env) goja.Value { return e.fn(e.classNames) }
	m["clsx"] = func(e *Env) goja.Value { return e.symbol("cn") }
	m["twMerge"] = func(e *Env) goja.Value { return e.symbol("cn") }
	return m
}
