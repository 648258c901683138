package stubs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

func browserBuilders() map[string]builder {
	timer := func(e *Env) goja.Value {
		return e.fn(func(goja.FunctionCall) goja.Value { return e.rt.ToValue(e.nextID()) })
	}
	return map[string]builder{
		"window":                func(e *Env) goja.Value { return e.window() },
		"document":              func(e *Env) goja.Value { return e.document() },
		"navigator":             func(e *Env) goja.Value { return e.navigator() },
		"localStorage":          func(e *Env) goja.Value { return e.storage() },
		"sessionStorage":        func(e *Env) goja.Value { return e.storage() },
		"console":               func(e *Env) goja.Value { return e.console() },
		"process":               func(e *Env) goja.Value { return e.process() },
		"setTimeout":            timer,
		"setInterval":           timer,
		"requestAnimationFrame": timer,
		"clearTimeout":          func(e *Env) goja.Value { return e.noop() },
		"clearInterval":         func(e *Env) goja.Value { return e.noop() },
		"cancelAnimationFrame":  func(e *Env) goja.Value { return e.noop() },
		"queueMicrotask":        func(e *Env) goja.Value { return e.noop() },
		"fetch": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value {
				return e.promise(false, e.rt.NewTypeError("network disabled"))
			})
		},
		"IntersectionObserver": func(e *Env) goja.Value { return e.observer() },
		"ResizeObserver":       func(e *Env) goja.Value { return e.observer() },
		"MutationObserver":     func(e *Env) goja.Value { return e.observer() },
	}
}

var browserGlobals = []string{
	"document", "navigator", "localStorage", "sessionStorage", "console",
	"setTimeout", "setInterval", "clearTimeout", "clearInterval",
	"requestAnimationFrame", "cancelAnimationFrame", "queueMicrotask", "fetch",
	"IntersectionObserver", "ResizeObserver", "MutationObserver",
}

func (e *Env) window() goja.Value {
	w := e.rt.NewObject()
	for _, name := range browserGlobals {
		_ = w.Set(name, e.symbol(name))
	}
	width, height := e.h.Viewport()
	_ = w.Set("innerWidth", width)
	_ = w.Set("innerHeight", height)
	_ = w.Set("outerWidth", width)
	_ = w.Set("outerHeight", height)
	_ = w.Set("devicePixelRatio", 1)
	_ = w.Set("scrollX", 0)
	_ = w.Set("scrollY", 0)
	_ = w.Set("pageYOffset", 0)
	loc := e.rt.NewObject()
	for k, v := range map[string]string{"href": "about:preview", "pathname": "/", "search": "", "hash": "", "origin": "null", "host": ""} {
		_ = loc.Set(k, v)
	}
	_ = w.Set("location", loc)
	for _, m := range []string{"addEventListener", "removeEventListener", "scrollTo", "scrollBy", "open", "alert", "postMessage"} {
		_ = w.Set(m, e.noop())
	}
	_ = w.Set("matchMedia", func(call goja.FunctionCall) goja.Value {
		mq := e.rt.NewObject()
		_ = mq.Set("matches", false)
		_ = mq.Set("media", call.Argument(0))
		for _, m := range []string{"addListener", "removeListener", "addEventListener", "removeEventListener"} {
			_ = mq.Set(m, e.noop())
		}
		return mq
	})
	_ = w.Set("getComputedStyle", func(goja.FunctionCall) goja.Value { return e.inertNode() })
	_ = w.Set("window", w)
	_ = w.Set("self", w)
	return w
}

// inertNode stands in for any DOM node generated code reaches for.
func (e *Env) inertNode() *goja.Object {
	n := e.rt.NewObject()
	_ = n.Set("style", e.rt.NewObject())
	cl := e.rt.NewObject()
	for _, m := range []string{"add", "remove", "toggle"} {
		_ = cl.Set(m, e.noop())
	}
	_ = cl.Set("contains", e.constant(e.rt.ToValue(false)))
	_ = n.Set("classList", cl)
	for _, m := range []string{"setAttribute", "removeAttribute", "appendChild", "removeChild", "append", "remove",
		"addEventListener", "removeEventListener", "focus", "blur", "click", "scrollIntoView"} {
		_ = n.Set(m, e.noop())
	}
	_ = n.Set("getAttribute", e.constant(goja.Null()))
	_ = n.Set("getBoundingClientRect", func(goja.FunctionCall) goja.Value {
		r := e.rt.NewObject()
		for _, k := range []string{"x", "y", "top", "left", "right", "bottom", "width", "height"} {
			_ = r.Set(k, 0)
		}
		return r
	})
	_ = n.Set("getPropertyValue", e.constant(e.rt.ToValue("")))
	return n
}

func (e *Env) document() goja.Value {
	d := e.inertNode()
	_ = d.Set("title", "")
	_ = d.Set("cookie", "")
	_ = d.Set("readyState", "complete")
	_ = d.Set("body", e.inertNode())
	_ = d.Set("head", e.inertNode())
	_ = d.Set("documentElement", e.inertNode())
	_ = d.Set("getElementById", e.constant(goja.Null()))
	_ = d.Set("querySelector", e.constant(goja.Null()))
	empty := func(goja.FunctionCall) goja.Value { return e.rt.NewArray() }
	_ = d.Set("querySelectorAll", empty)
	_ = d.Set("getElementsByClassName", empty)
	_ = d.Set("getElementsByTagName", empty)
	_ = d.Set("createElement", func(goja.FunctionCall) goja.Value { return e.inertNode() })
	return d
}

func (e *Env) navigator() goja.Value {
	n := e.rt.NewObject()
	_ = n.Set("userAgent", "Mozilla/5.0 (livepreview)")
	_ = n.Set("language", "en-US")
	_ = n.Set("languages", e.rt.NewArray("en-US"))
	_ = n.Set("onLine", false)
	clip := e.rt.NewObject()
	_ = clip.Set("writeText", func(goja.FunctionCall) goja.Value { return e.promise(true, goja.Undefined()) })
	_ = clip.Set("readText", func(goja.FunctionCall) goja.Value { return e.promise(true, e.rt.ToValue("")) })
	_ = n.Set("clipboard", clip)
	return n
}

// storage is an in-memory Web Storage scoped to the realm.
func (e *Env) storage() goja.Value {
	data := make(map[string]string)
	s := e.rt.NewObject()
	_ = s.Set("getItem", func(call goja.FunctionCall) goja.Value {
		if v, ok := data[call.Argument(0).String()]; ok {
			return e.rt.ToValue(v)
		}
		return goja.Null()
	})
	_ = s.Set("setItem", func(call goja.FunctionCall) goja.Value {
		data[call.Argument(0).String()] = call.Argument(1).String()
		return goja.Undefined()
	})
	_ = s.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		delete(data, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = s.Set("clear", func(goja.FunctionCall) goja.Value {
		clear(data)
		return goja.Undefined()
	})
	_ = s.Set("key", func(call goja.FunctionCall) goja.Value {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		i := int(call.Argument(0).ToInteger())
		if i < 0 || i >= len(keys) {
			return goja.Null()
		}
		return e.rt.ToValue(keys[i])
	})
	_ = s.DefineAccessorProperty("length",
		e.fn(func(goja.FunctionCall) goja.Value { return e.rt.ToValue(len(data)) }),
		nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	return s
}

// console forwards generated code's logging to the host logger.
func (e *Env) console() goja.Value {
	c := e.rt.NewObject()
	levels := map[string]slog.Level{
		"log": slog.LevelDebug, "info": slog.LevelDebug, "debug": slog.LevelDebug,
		"trace": slog.LevelDebug, "table": slog.LevelDebug,
		"warn": slog.LevelInfo, "error": slog.LevelWarn,
	}
	for name, level := range levels {
		method, lvl := name, level
		_ = c.Set(method, func(call goja.FunctionCall) goja.Value {
			e.h.Logger().Log(context.Background(), lvl, "stubs: console", "method", method, "text", e.format(call.Arguments))
			return goja.Undefined()
		})
	}
	for _, m := range []string{"group", "groupCollapsed", "groupEnd", "time", "timeEnd", "count", "assert", "clear"} {
		_ = c.Set(m, e.noop())
	}
	return c
}

// format renders console arguments without calling back into the realm.
func (e *Env) format(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if _, ok := a.(*goja.Object); !ok {
			parts = append(parts, a.String())
			continue
		}
		b, err := json.Marshal(a.Export())
		if err != nil {
			parts = append(parts, "[object]")
			continue
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, " ")
}

func (e *Env) process() goja.Value {
	p := e.rt.NewObject()
	env := e.rt.NewObject()
	_ = env.Set("NODE_ENV", "production")
	_ = p.Set("env", env)
	return p
}

// observer returns an observer constructor whose instances never report.
func (e *Env) observer() goja.Value {
	return e.rt.ToValue(func(call goja.ConstructorCall) *goja.Object {
		o := call.This
		for _, m := range []string{"observe", "unobserve", "disconnect"} {
			_ = o.Set(m, e.noop())
		}
		_ = o.Set("takeRecords", func(goja.FunctionCall) goja.Value { return e.rt.NewArray() })
		return nil
	})
}

// classNames implements cn/clsx: strings, numbers, arrays and objects with
// truthy values, joined by spaces.
func (e *Env) classNames(call goja.FunctionCall) goja.Value {
	var parts []string
	var walk func(v goja.Value)
	walk = func(v goja.Value) {
		if isNullish(v) || !v.ToBoolean() {
			return
		}
		obj, ok := v.(*goja.Object)
		if !ok {
			if _, isBool := v.Export().(bool); !isBool {
				parts = append(parts, v.String())
			}
			return
		}
		if obj.ClassName() == "Array" {
			for _, item := range e.items(obj) {
				walk(item)
			}
			return
		}
		for _, k := range obj.Keys() {
			if obj.Get(k).ToBoolean() {
				parts = append(parts, k)
			}
		}
	}
	for _, a := range call.Arguments {
		walk(a)
	}
	return e.rt.ToValue(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}
