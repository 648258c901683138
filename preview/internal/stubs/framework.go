package stubs

import (
	"strings"

	"github.com/dop251/goja"
)

var fonts = []string{
	"Inter", "Roboto", "Poppins", "Montserrat", "Open_Sans", "Lato",
	"Playfair_Display", "Space_Grotesk", "DM_Sans", "Geist", "Geist_Mono",
	"JetBrains_Mono",
}

var linkOnlyProps = map[string]bool{
	"prefetch": true, "replace": true, "scroll": true, "shallow": true,
	"passHref": true, "legacyBehavior": true, "locale": true, "as": true,
}

var imageOnlyProps = map[string]bool{
	"fill": true, "priority": true, "placeholder": true, "quality": true,
	"sizes": true, "loader": true, "blurDataURL": true, "unoptimized": true,
	"overrideSrc": true,
}

func frameworkBuilders() map[string]builder {
	m := map[string]builder{
		"Link":   func(e *Env) goja.Value { return e.component("Link", renderLink) },
		"Image":  func(e *Env) goja.Value { return e.component("Image", renderImage) },
		"Head":   func(e *Env) goja.Value { return e.component("Head", renderNothing) },
		"Script": func(e *Env) goja.Value { return e.component("Script", renderNothing) },
		"useRouter": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value { return e.router() })
		},
		"usePathname": func(e *Env) goja.Value { return e.constant(e.rt.ToValue("/")) },
		"useSearchParams": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value { return e.searchParams() })
		},
		"useParams": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value { return e.rt.NewObject() })
		},
		"redirect": func(e *Env) goja.Value { return e.navigationNoop("redirect") },
		"notFound": func(e *Env) goja.Value { return e.navigationNoop("notFound") },
	}
	for _, f := range fonts {
		name := f
		m[name] = func(e *Env) goja.Value { return e.fontLoader(name) }
	}
	return m
}

func renderNothing(*Env, *goja.Object) goja.Value { return goja.Null() }

func renderLink(e *Env, props *goja.Object) goja.Value {
	attrs := e.copyProps(props, linkOnlyProps)
	if href, ok := props.Get("href").(*goja.Object); ok {
		// next/link accepts URL objects.
		path := href.Get("pathname")
		if isNullish(path) {
			path = e.rt.ToValue("/")
		}
		_ = attrs.Set("href", path)
	}
	return e.h.Element(e.rt.ToValue("a"), attrs)
}

func renderImage(e *Env, props *goja.Object) goja.Value {
	attrs := e.copyProps(props, imageOnlyProps)
	if src, ok := props.Get("src").(*goja.Object); ok {
		// Static imports resolve to {src, width, height}.
		_ = attrs.Set("src", src.Get("src"))
	}
	if fill := props.Get("fill"); fill != nil && fill.ToBoolean() {
		style := e.copyProps(e.object(props.Get("style")), nil)
		for k, v := range map[string]string{"position": "absolute", "inset": "0", "width": "100%", "height": "100%"} {
			if style.Get(k) == nil {
				_ = style.Set(k, v)
			}
		}
		_ = attrs.Set("style", style)
	}
	if attrs.Get("alt") == nil {
		_ = attrs.Set("alt", "")
	}
	_ = attrs.Delete("children")
	return e.h.Element(e.rt.ToValue("img"), attrs)
}

func (e *Env) router() goja.Value {
	r := e.rt.NewObject()
	for _, m := range []string{"push", "replace", "back", "forward", "refresh", "prefetch", "reload"} {
		_ = r.Set(m, e.navigationNoop("router."+m))
	}
	_ = r.Set("pathname", "/")
	_ = r.Set("asPath", "/")
	_ = r.Set("route", "/")
	_ = r.Set("query", e.rt.NewObject())
	_ = r.Set("isReady", true)
	return r
}

func (e *Env) searchParams() goja.Value {
	sp := e.rt.NewObject()
	_ = sp.Set("get", e.constant(goja.Null()))
	_ = sp.Set("getAll", func(goja.FunctionCall) goja.Value { return e.rt.NewArray() })
	_ = sp.Set("has", e.constant(e.rt.ToValue(false)))
	_ = sp.Set("toString", e.constant(e.rt.ToValue("")))
	_ = sp.Set("forEach", e.noop())
	return sp
}

func (e *Env) navigationNoop(what string) goja.Value {
	return e.fn(func(call goja.FunctionCall) goja.Value {
		e.h.Logger().Debug("stubs: navigation ignored", "call", what, "target", call.Argument(0).String())
		return goja.Undefined()
	})
}

// fontLoader mimics next/font: calling it returns class and variable names.
func (e *Env) fontLoader(name string) goja.Value {
	family := strings.ReplaceAll(name, "_", " ")
	slug := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	return e.fn(func(goja.FunctionCall) goja.Value {
		f := e.rt.NewObject()
		_ = f.Set("className", "font-"+slug)
		_ = f.Set("variable", "--font-"+slug)
		style := e.rt.NewObject()
		_ = style.Set("fontFamily", "'"+family+"', sans-serif")
		_ = f.Set("style", style)
		return f
	})
}
