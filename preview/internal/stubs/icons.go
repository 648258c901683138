package stubs

import (
	"hash/fnv"

	"github.com/dop251/goja"
)

// glyphPaths are the generic shapes icon stand-ins draw. The shape is picked
// by name so neighbouring icons stay visually distinct.
var glyphPaths = []string{
	"M5 12h14M12 5l7 7-7 7",
	"M20 6 9 17l-5-5",
	"M12 3v18M3 12h18",
	"M4 6h16M4 12h16M4 18h16",
	"M12 2l3 7h7l-5.5 4.5L18 21l-6-4-6 4 1.5-7.5L2 9h7z",
}

// Icon returns the glyph component for an icon-like name. Any name works.
func (e *Env) Icon(name string) goja.Value {
	if v, ok := e.icons[name]; ok {
		return v
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	path := glyphPaths[int(h.Sum32())%len(glyphPaths)]

	v := e.component(name, func(e *Env, props *goja.Object) goja.Value {
		return e.glyph(name, path, props)
	})
	e.icons[name] = v
	return v
}

func (e *Env) glyph(name, path string, props *goja.Object) goja.Value {
	size := props.Get("size")
	if isNullish(size) {
		size = e.rt.ToValue(24)
	}
	stroke := props.Get("color")
	if isNullish(stroke) {
		stroke = e.rt.ToValue("currentColor")
	}
	strokeWidth := props.Get("strokeWidth")
	if isNullish(strokeWidth) {
		strokeWidth = e.rt.ToValue(2)
	}

	attrs := e.copyProps(props, map[string]bool{"size": true, "color": true, "strokeWidth": true, "absoluteStrokeWidth": true, "children": true})
	for k, v := range map[string]any{
		"xmlns":          "http://www.w3.org/2000/svg",
		"width":          size,
		"height":         size,
		"viewBox":        "0 0 24 24",
		"fill":           "none",
		"stroke":         stroke,
		"strokeWidth":    strokeWidth,
		"strokeLinecap":  "round",
		"strokeLinejoin": "round",
		"aria-hidden":    "true",
		"data-icon":      name,
	} {
		if attrs.Get(k) == nil {
			_ = attrs.Set(k, v)
		}
	}

	frame := e.rt.NewObject()
	for k, v := range map[string]any{"x": 3, "y": 3, "width": 18, "height": 18, "rx": 4, "opacity": 0.25} {
		_ = frame.Set(k, v)
	}
	stroke2 := e.rt.NewObject()
	_ = stroke2.Set("d", path)
	_ = attrs.Set("children", e.array([]goja.Value{
		e.h.Element(e.rt.ToValue("rect"), frame),
		e.h.Element(e.rt.ToValue("path"), stroke2),
	}))
	return e.h.Element(e.rt.ToValue("svg"), attrs)
}

// iconNamespace answers Icons.<Name> with a glyph component.
func (e *Env) iconNamespace() goja.Value {
	proxy := e.rt.NewProxy(e.rt.NewObject(), &goja.ProxyTrapConfig{
		Get: func(_ *goja.Object, prop string, _ goja.Value) goja.Value {
			return e.Icon(prop)
		},
		Has: func(*goja.Object, string) bool { return true },
	})
	return e.rt.ToValue(proxy)
}
