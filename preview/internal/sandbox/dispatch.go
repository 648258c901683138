package sandbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
)

// handlerProps maps DOM event types to the JSX props that handle them, in
// call order.
var handlerProps = map[string][]string{
	"click":        {"onClick"},
	"dblclick":     {"onDoubleClick"},
	"contextmenu":  {"onContextMenu"},
	"input":        {"onInput", "onChange"},
	"change":       {"onChange"},
	"submit":       {"onSubmit"},
	"reset":        {"onReset"},
	"focus":        {"onFocus"},
	"blur":         {"onBlur"},
	"keydown":      {"onKeyDown"},
	"keyup":        {"onKeyUp"},
	"keypress":     {"onKeyPress"},
	"mousedown":    {"onMouseDown"},
	"mouseup":      {"onMouseUp"},
	"mouseenter":   {"onMouseEnter"},
	"mouseleave":   {"onMouseLeave"},
	"mouseover":    {"onMouseOver"},
	"mouseout":     {"onMouseOut"},
	"pointerdown":  {"onPointerDown"},
	"pointerup":    {"onPointerUp"},
	"pointerenter": {"onPointerEnter"},
	"pointerleave": {"onPointerLeave"},
	"touchstart":   {"onTouchStart"},
	"touchend":     {"onTouchEnd"},
	"scroll":       {"onScroll"},
	"wheel":        {"onWheel"},
}

var nonBubbling = map[string]bool{
	"mouseenter": true, "mouseleave": true, "pointerenter": true, "pointerleave": true, "scroll": true,
}

// handlerNames returns the props an interaction calls on each element of the
// bubbling path. JSX prop names ("onClick") are accepted as types too.
func handlerNames(typ string, target *html.Node) []string {
	if isHandlerProp(typ) {
		return []string{typ}
	}
	typ = strings.ToLower(typ)
	names, ok := handlerProps[typ]
	if !ok {
		names = []string{"on" + strings.ToUpper(typ[:1]) + typ[1:]}
	}
	if typ == "click" && isToggle(target) {
		names = append(names[:1:1], "onChange")
	}
	return names
}

func isToggle(n *html.Node) bool {
	if n.Data != "input" {
		return false
	}
	t, _ := getAttr(n, "type")
	return t == "checkbox" || t == "radio"
}

// dispatch drives an interaction through the handlers of the last rendered
// tree, then settles the resulting state updates.
func (r *renderer) dispatch(in event.Interaction) (diag.List, error) {
	if r.last == nil {
		return nil, ErrUnknownNode
	}
	target, ok := r.last.nodes[in.NodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, in.NodeID)
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, fmt.Errorf("sandbox: dispatch: empty event type")
	}
	names := handlerNames(in.Type, target)
	bubbles := !nonBubbling[strings.ToLower(in.Type)]
	t := r.last

	err := r.guard(func() error {
		ev, stopped := r.syntheticEvent(in, target)
		for id := in.NodeID; id != ""; id = t.parents[id] {
			_ = ev.Set("currentTarget", r.targetObject(t.nodes[id], event.Interaction{}))
			for _, name := range names {
				fn, ok := goja.AssertFunction(t.handlers[id][name])
				if !ok {
					continue
				}
				if _, err := fn(goja.Undefined(), ev); err != nil {
					return err
				}
			}
			if *stopped || !bubbles {
				break
			}
		}
		return nil
	})
	if err != nil {
		return r.collect(err, diag.RuntimeFailure, diag.StageInteract), nil
	}
	return r.collect(r.settle(), diag.RuntimeFailure, diag.StageRender), nil
}

func (r *renderer) syntheticEvent(in event.Interaction, target *html.Node) (*goja.Object, *bool) {
	stopped := new(bool)
	ev := r.rt.NewObject()
	tgt := r.targetObject(target, in)
	_ = ev.Set("type", strings.ToLower(in.Type))
	_ = ev.Set("target", tgt)
	_ = ev.Set("currentTarget", tgt)
	_ = ev.Set("bubbles", !nonBubbling[strings.ToLower(in.Type)])
	_ = ev.Set("defaultPrevented", false)
	_ = ev.Set("timeStamp", time.Now().UnixMilli())
	_ = ev.Set("key", in.Key)
	_ = ev.Set("code", in.Key)
	for _, k := range []string{"altKey", "ctrlKey", "metaKey", "shiftKey"} {
		_ = ev.Set(k, false)
	}
	for _, k := range []string{"clientX", "clientY", "pageX", "pageY", "button"} {
		_ = ev.Set(k, 0)
	}
	_ = ev.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		_ = ev.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	_ = ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		*stopped = true
		return goja.Undefined()
	})
	_ = ev.Set("persist", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = ev.Set("nativeEvent", ev)
	return ev, stopped
}

// targetObject is the event.target view of a rendered element. Values from
// the interaction override what the element was rendered with.
func (r *renderer) targetObject(n *html.Node, in event.Interaction) *goja.Object {
	o := r.rt.NewObject()
	if n == nil {
		return o
	}
	_ = o.Set("tagName", strings.ToUpper(n.Data))
	_ = o.Set("nodeName", strings.ToUpper(n.Data))
	for _, k := range []string{"id", "name", "type"} {
		v, _ := getAttr(n, k)
		_ = o.Set(k, v)
	}
	value, _ := getAttr(n, "value")
	if in.Value != nil {
		value = *in.Value
	}
	_ = o.Set("value", value)

	_, checked := getAttr(n, "checked")
	switch {
	case in.Checked != nil:
		checked = *in.Checked
	case strings.EqualFold(in.Type, "click") && isToggle(n):
		checked = !checked
	}
	_ = o.Set("checked", checked)

	dataset := r.rt.NewObject()
	for _, a := range n.Attr {
		if strings.HasPrefix(a.Key, "data-") && a.Key != NodeAttr {
			_ = dataset.Set(camel(strings.TrimPrefix(a.Key, "data-")), a.Val)
		}
	}
	_ = o.Set("dataset", dataset)
	for _, m := range []string{"focus", "blur", "click", "scrollIntoView", "reset"} {
		_ = o.Set(m, func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	return o
}

func camel(s string) string {
	parts := strings.Split(s, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
