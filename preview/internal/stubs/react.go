package stubs

import (
	"fmt"

	"github.com/dop251/goja"
)

// contextDefault holds a context's default value on the context object.
const contextDefault = "_defaultValue"

func reactBuilders() map[string]builder {
	m := map[string]builder{
		"useState":             func(e *Env) goja.Value { return e.fn(e.useState) },
		"useReducer":           func(e *Env) goja.Value { return e.fn(e.useReducer) },
		"useRef":               func(e *Env) goja.Value { return e.fn(e.useRef) },
		"useMemo":              func(e *Env) goja.Value { return e.fn(e.useMemo) },
		"useCallback":          func(e *Env) goja.Value { return e.fn(e.useCallback) },
		"useEffect":            func(e *Env) goja.Value { return e.fn(e.useEffect) },
		"useLayoutEffect":      func(e *Env) goja.Value { return e.symbol("useEffect") },
		"useContext":           func(e *Env) goja.Value { return e.fn(e.useContext) },
		"useId":                func(e *Env) goja.Value { return e.fn(e.useID) },
		"useTransition":        func(e *Env) goja.Value { return e.fn(e.useTransition) },
		"useDeferredValue":     func(e *Env) goja.Value { return e.fn(identity) },
		"useImperativeHandle":  func(e *Env) goja.Value { return e.fn(e.useImperativeHandle) },
		"useSyncExternalStore": func(e *Env) goja.Value { return e.fn(e.useSyncExternalStore) },
		"createContext":        func(e *Env) goja.Value { return e.fn(e.createContext) },
		"createElement":        func(e *Env) goja.Value { return e.fn(e.createElement) },
		"cloneElement":         func(e *Env) goja.Value { return e.fn(e.cloneElement) },
		"isValidElement": func(e *Env) goja.Value {
			return e.fn(func(call goja.FunctionCall) goja.Value {
				return e.rt.ToValue(e.h.IsElement(call.Argument(0)))
			})
		},
		"forwardRef": func(e *Env) goja.Value { return e.fn(e.forwardRef) },
		"memo":       func(e *Env) goja.Value { return e.fn(identity) },
		"Fragment":   func(e *Env) goja.Value { return e.h.Fragment() },
		"StrictMode": func(e *Env) goja.Value { return e.component("StrictMode", passThrough) },
		"Suspense":   func(e *Env) goja.Value { return e.component("Suspense", passThrough) },
		"Children":   func(e *Env) goja.Value { return e.childrenNamespace() },

		"Component":     func(e *Env) goja.Value { return e.componentClasses()[0] },
		"PureComponent": func(e *Env) goja.Value { return e.componentClasses()[1] },

		"__h":        func(e *Env) goja.Value { return e.symbol("createElement") },
		"__Fragment": func(e *Env) goja.Value { return e.symbol("Fragment") },
	}
	m["React"] = func(e *Env) goja.Value {
		ns := e.rt.NewObject()
		for name := range m {
			if name == "React" || name[0] == '_' {
				continue
			}
			_ = ns.Set(name, e.symbol(name))
		}
		_ = ns.Set("version", "18.3.1")
		return ns
	}
	return m
}

func identity(call goja.FunctionCall) goja.Value { return call.Argument(0) }

// classSource defines the class component bases. The host recognises
// subclasses by prototype.isReactComponent and drives them through render().
const classSource = `(function (rerender) {
	class Component {
		constructor(props) {
			this.props = props;
			this.state = null;
		}
		setState(update) {
			var next = typeof update === "function" ? update(this.state, this.props) : update;
			if (next == null) return;
			var merged = {};
			for (var k in this.state) merged[k] = this.state[k];
			for (var k in next) merged[k] = next[k];
			this.state = merged;
			rerender();
		}
		forceUpdate() { rerender(); }
	}
	Component.prototype.isReactComponent = {};
	class PureComponent extends Component {}
	return [Component, PureComponent];
})`

func (e *Env) componentClasses() []goja.Value {
	if e.classes != nil {
		return e.classes
	}
	v, err := e.rt.RunString(classSource)
	if err != nil {
		panic(err)
	}
	rerender := e.fn(func(goja.FunctionCall) goja.Value {
		e.h.Rerender()
		return goja.Undefined()
	})
	e.classes = e.items(e.call(v, rerender))
	return e.classes
}

// initial resolves a lazy initial state.
func (e *Env) initial(v goja.Value) goja.Value {
	if _, ok := goja.AssertFunction(v); ok {
		return e.call(v)
	}
	return v
}

func (e *Env) useState(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if !c.Ready {
		c.Ready = true
		c.Value = e.initial(call.Argument(0))
		c.Aux = e.fn(func(call goja.FunctionCall) goja.Value {
			next := call.Argument(0)
			if _, ok := goja.AssertFunction(next); ok {
				next = e.call(next, c.Value)
			}
			if !next.SameAs(c.Value) {
				c.Value = next
				e.h.Rerender()
			}
			return goja.Undefined()
		})
	}
	return e.array([]goja.Value{c.Value, c.Aux})
}

func (e *Env) useReducer(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	c.Fn = call.Argument(0)
	if !c.Ready {
		c.Ready = true
		c.Value = call.Argument(1)
		if init := call.Argument(2); !isNullish(init) {
			c.Value = e.call(init, c.Value)
		}
		c.Aux = e.fn(func(call goja.FunctionCall) goja.Value {
			next := e.call(c.Fn, c.Value, call.Argument(0))
			if !next.SameAs(c.Value) {
				c.Value = next
				e.h.Rerender()
			}
			return goja.Undefined()
		})
	}
	return e.array([]goja.Value{c.Value, c.Aux})
}

func (e *Env) useRef(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if !c.Ready {
		c.Ready = true
		ref := e.rt.NewObject()
		_ = ref.Set("current", call.Argument(0))
		c.Value = ref
	}
	return c.Value
}

// depsChanged reports whether a hook must recompute. Absent deps always do.
func (e *Env) depsChanged(c *Cell, deps goja.Value) bool {
	if !c.Ready || isNullish(deps) || !c.HasDeps {
		return true
	}
	next := e.items(deps)
	if len(next) != len(c.Deps) {
		return true
	}
	for i := range next {
		if !next[i].SameAs(c.Deps[i]) {
			return true
		}
	}
	return false
}

func (e *Env) setDeps(c *Cell, deps goja.Value) {
	c.Ready = true
	c.HasDeps = !isNullish(deps)
	c.Deps = e.items(deps)
}

func (e *Env) useMemo(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if e.depsChanged(c, call.Argument(1)) {
		c.Value = e.call(call.Argument(0))
		e.setDeps(c, call.Argument(1))
	}
	return c.Value
}

func (e *Env) useCallback(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if e.depsChanged(c, call.Argument(1)) {
		c.Value = call.Argument(0)
		e.setDeps(c, call.Argument(1))
	}
	return c.Value
}

func (e *Env) useEffect(call goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if !e.depsChanged(c, call.Argument(1)) {
		return goja.Undefined()
	}
	e.setDeps(c, call.Argument(1))
	if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
		e.h.Effect(c, fn)
	}
	return goja.Undefined()
}

func (e *Env) useContext(call goja.FunctionCall) goja.Value {
	ctx, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(e.rt.NewTypeError("useContext: argument is not a context"))
	}
	if v, ok := e.h.Context(ctx); ok {
		return v
	}
	if v := ctx.Get(contextDefault); v != nil {
		return v
	}
	return goja.Undefined()
}

func (e *Env) useID(goja.FunctionCall) goja.Value {
	c := e.h.Cell()
	if !c.Ready {
		c.Ready = true
		c.Value = e.rt.ToValue(fmt.Sprintf(":pv%d:", e.nextID()))
	}
	return c.Value
}

func (e *Env) useTransition(goja.FunctionCall) goja.Value {
	start := e.fn(func(call goja.FunctionCall) goja.Value {
		if _, ok := goja.AssertFunction(call.Argument(0)); ok {
			e.call(call.Argument(0))
		}
		return goja.Undefined()
	})
	return e.array([]goja.Value{e.rt.ToValue(false), start})
}

func (e *Env) useImperativeHandle(call goja.FunctionCall) goja.Value {
	ref, ok := call.Argument(0).(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	if _, ok := goja.AssertFunction(call.Argument(1)); ok {
		_ = ref.Set("current", e.call(call.Argument(1)))
	}
	return goja.Undefined()
}

func (e *Env) useSyncExternalStore(call goja.FunctionCall) goja.Value {
	return e.call(call.Argument(1))
}

func (e *Env) createContext(call goja.FunctionCall) goja.Value {
	ctx := e.rt.NewObject()
	_ = ctx.Set(contextDefault, call.Argument(0))
	_ = ctx.Set("displayName", "Context")
	_ = ctx.Set("Provider", e.component("Context.Provider", func(e *Env, props *goja.Object) goja.Value {
		return e.h.Provide(ctx, props.Get("value"), children(props))
	}))
	_ = ctx.Set("Consumer", e.component("Context.Consumer", func(e *Env, props *goja.Object) goja.Value {
		render := props.Get("children")
		if _, ok := goja.AssertFunction(render); !ok {
			return goja.Null()
		}
		v, ok := e.h.Context(ctx)
		if !ok {
			v = ctx.Get(contextDefault)
		}
		return e.call(render, v)
	}))
	return ctx
}

// createElement is also the compiler's JSX factory.
func (e *Env) createElement(call goja.FunctionCall) goja.Value {
	props := e.rt.NewObject()
	if src := call.Argument(1); !isNullish(src) {
		props = e.copyProps(src.ToObject(e.rt), nil)
	}
	if len(call.Arguments) > 2 {
		setChildren(e, props, call.Arguments[2:])
	}
	return e.h.Element(call.Argument(0), props)
}

func setChildren(e *Env, props *goja.Object, kids []goja.Value) {
	if len(kids) == 1 {
		_ = props.Set("children", kids[0])
		return
	}
	_ = props.Set("children", e.array(kids))
}

func (e *Env) cloneElement(call goja.FunctionCall) goja.Value {
	el := call.Argument(0)
	if !e.h.IsElement(el) {
		panic(e.rt.NewTypeError("cloneElement: argument is not an element"))
	}
	obj := el.ToObject(e.rt)
	props := e.copyProps(e.object(obj.Get("props")), nil)
	if extra := call.Argument(1); !isNullish(extra) {
		eo := extra.ToObject(e.rt)
		for _, k := range eo.Keys() {
			_ = props.Set(k, eo.Get(k))
		}
	}
	if len(call.Arguments) > 2 {
		setChildren(e, props, call.Arguments[2:])
	}
	return e.h.Element(obj.Get("type"), props)
}

func (e *Env) forwardRef(call goja.FunctionCall) goja.Value {
	render := call.Argument(0)
	return e.component("ForwardRef", func(e *Env, props *goja.Object) goja.Value {
		ref := props.Get("ref")
		if ref == nil {
			ref = goja.Null()
		}
		return e.call(render, props, ref)
	})
}

// flatten expands nested child arrays, dropping null, undefined and booleans.
func (e *Env) flatten(v goja.Value, out []goja.Value) []goja.Value {
	if isNullish(v) {
		return out
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		if _, isBool := v.Export().(bool); isBool {
			return out
		}
		return append(out, v)
	}
	if obj.ClassName() == "Array" {
		for _, item := range e.items(obj) {
			out = e.flatten(item, out)
		}
		return out
	}
	return append(out, v)
}

func (e *Env) childrenNamespace() goja.Value {
	ns := e.rt.NewObject()
	each := func(call goja.FunctionCall, collect bool) goja.Value {
		kids := e.flatten(call.Argument(0), nil)
		var out []goja.Value
		for i, k := range kids {
			v := e.call(call.Argument(1), k, e.rt.ToValue(i))
			if collect {
				out = e.flatten(v, out)
			}
		}
		if !collect {
			return goja.Undefined()
		}
		return e.array(out)
	}
	_ = ns.Set("map", func(call goja.FunctionCall) goja.Value { return each(call, true) })
	_ = ns.Set("forEach", func(call goja.FunctionCall) goja.Value { return each(call, false) })
	_ = ns.Set("count", func(call goja.FunctionCall) goja.Value {
		return e.rt.ToValue(len(e.flatten(call.Argument(0), nil)))
	})
	_ = ns.Set("toArray", func(call goja.FunctionCall) goja.Value {
		return e.array(e.flatten(call.Argument(0), nil))
	})
	_ = ns.Set("only", func(call goja.FunctionCall) goja.Value {
		kids := e.flatten(call.Argument(0), nil)
		if len(kids) != 1 || !e.h.IsElement(kids[0]) {
			panic(e.rt.NewTypeError("Children.only expected to receive a single element"))
		}
		return kids[0]
	})
	return ns
}
