package sandbox

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/event"
)

// NodeAttr carries the handler-table id of every rendered element.
const NodeAttr = "data-pv-id"

// RootID is the id of the element the preview renders into.
const RootID = "preview-root"

const maxInspectText = 200

// tree is the output of one render pass.
type tree struct {
	root     *html.Node
	nodes    map[string]*html.Node
	parents  map[string]string
	handlers map[string]map[string]goja.Value
	seq      int
}

func newTree() *tree {
	return &tree{
		root:     element("div", attr("id", RootID)),
		nodes:    make(map[string]*html.Node),
		parents:  make(map[string]string),
		handlers: make(map[string]map[string]goja.Value),
	}
}

func (t *tree) add(n *html.Node, parentID string) string {
	t.seq++
	id := "n" + strconv.Itoa(t.seq)
	t.nodes[id] = n
	t.parents[id] = parentID
	return id
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

var attrName = regexp.MustCompile(`^[a-zA-Z_:][-a-zA-Z0-9_:.]*$`)

// skipProps never become attributes.
var skipProps = map[string]bool{
	"children": true, "key": true, "ref": true,
	"suppressHydrationWarning": true, "suppressContentEditableWarning": true,
}

func (r *renderer) hostElement(tag string, props *goja.Object, parent *html.Node, path, parentID string) error {
	n := element(tag)
	id := r.out.add(n, parentID)

	var inner goja.Value
	var text string
	for _, k := range props.Keys() {
		v := props.Get(k)
		switch {
		case skipProps[k]:
			continue
		case k == "dangerouslySetInnerHTML":
			inner = v
			continue
		case isHandlerProp(k):
			if _, ok := goja.AssertFunction(v); ok {
				if r.out.handlers[id] == nil {
					r.out.handlers[id] = make(map[string]goja.Value)
				}
				r.out.handlers[id][k] = v
			}
			continue
		case tag == "textarea" && (k == "value" || k == "defaultValue"):
			if !isNullish(v) {
				text = v.String()
			}
			continue
		}
		if a, ok := attribute(k, v); ok {
			n.Attr = append(n.Attr, a)
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: NodeAttr, Val: id})
	parent.AppendChild(n)

	switch {
	case voidElements[tag]:
		return nil
	case inner != nil:
		r.appendSanitized(n, inner)
		return nil
	case text != "":
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		return nil
	}
	return r.render(props.Get("children"), n, path+"/"+tag, id)
}

func (r *renderer) appendSanitized(n *html.Node, v goja.Value) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return
	}
	raw := obj.Get("__html")
	if isNullish(raw) {
		return
	}
	clean := r.policy.Sanitize(raw.String())
	nodes, err := html.ParseFragment(strings.NewReader(clean), &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
	if err != nil {
		r.logger.Debug("sandbox: parse sanitized html", "error", err)
		return
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
}

func isHandlerProp(k string) bool {
	return len(k) > 2 && strings.HasPrefix(k, "on") && k[2] >= 'A' && k[2] <= 'Z'
}

var booleanAttrs = map[string]bool{
	"allowfullscreen": true, "async": true, "autofocus": true, "autoplay": true, "checked": true,
	"controls": true, "default": true, "defer": true, "disabled": true, "formnovalidate": true,
	"hidden": true, "inert": true, "loop": true, "multiple": true, "muted": true, "novalidate": true,
	"open": true, "playsinline": true, "readonly": true, "required": true, "reversed": true,
	"selected": true,
}

var renamedProps = map[string]string{
	"className":      "class",
	"htmlFor":        "for",
	"defaultValue":   "value",
	"defaultChecked": "checked",
	"xlinkHref":      "xlink:href",
	"xmlLang":        "xml:lang",
}

// svgCamel keeps its case in the serialised document.
var svgCamel = map[string]bool{
	"viewBox": true, "preserveAspectRatio": true, "gradientUnits": true, "gradientTransform": true,
	"patternUnits": true, "patternContentUnits": true, "patternTransform": true, "clipPathUnits": true,
	"markerWidth": true, "markerHeight": true, "refX": true, "refY": true, "stdDeviation": true,
	"pathLength": true, "spreadMethod": true, "textLength": true, "lengthAdjust": true,
	"maskUnits": true, "maskContentUnits": true, "filterUnits": true, "primitiveUnits": true,
}

// svgHyphen are SVG presentation props written in camel case in JSX.
var svgHyphen = map[string]bool{
	"strokeWidth": true, "strokeLinecap": true, "strokeLinejoin": true, "strokeDasharray": true,
	"strokeDashoffset": true, "strokeOpacity": true, "strokeMiterlimit": true, "fillOpacity": true,
	"fillRule": true, "clipRule": true, "clipPath": true, "stopColor": true, "stopOpacity": true,
	"textAnchor": true, "dominantBaseline": true, "floodColor": true, "floodOpacity": true,
	"vectorEffect": true, "shapeRendering": true, "colorInterpolationFilters": true,
	"fontFamily": true, "fontSize": true, "fontWeight": true, "letterSpacing": true,
	"markerEnd": true, "markerStart": true, "markerMid": true, "alignmentBaseline": true,
}

// attribute maps one JSX prop to an HTML attribute.
func attribute(prop string, v goja.Value) (html.Attribute, bool) {
	if isNullish(v) {
		return html.Attribute{}, false
	}
	if _, ok := goja.AssertFunction(v); ok {
		return html.Attribute{}, false
	}
	name := propName(prop)
	if !attrName.MatchString(name) {
		return html.Attribute{}, false
	}
	if name == "style" {
		if obj, ok := v.(*goja.Object); ok {
			css := styleString(obj)
			return html.Attribute{Key: "style", Val: css}, css != ""
		}
	}
	if b, ok := v.Export().(bool); ok && !isObjectValue(v) {
		switch {
		case strings.HasPrefix(name, "aria-") || strings.HasPrefix(name, "data-"):
			return html.Attribute{Key: name, Val: strconv.FormatBool(b)}, true
		case !b:
			return html.Attribute{}, false
		case booleanAttrs[name]:
			return html.Attribute{Key: name}, true
		default:
			return html.Attribute{Key: name, Val: "true"}, true
		}
	}
	return html.Attribute{Key: name, Val: v.String()}, true
}

func propName(prop string) string {
	if n, ok := renamedProps[prop]; ok {
		return n
	}
	switch {
	case strings.HasPrefix(prop, "data-"), strings.HasPrefix(prop, "aria-"), svgCamel[prop]:
		return prop
	case svgHyphen[prop]:
		return kebab(prop)
	}
	return strings.ToLower(prop)
}

// unitless CSS properties take bare numbers.
var unitless = map[string]bool{
	"animationIterationCount": true, "aspectRatio": true, "columnCount": true, "columns": true,
	"flex": true, "flexGrow": true, "flexShrink": true, "flexPositive": true, "flexNegative": true,
	"fontWeight": true, "gridArea": true, "gridColumn": true, "gridColumnEnd": true,
	"gridColumnStart": true, "gridRow": true, "gridRowEnd": true, "gridRowStart": true,
	"lineClamp": true, "WebkitLineClamp": true, "lineHeight": true, "opacity": true, "order": true,
	"orphans": true, "scale": true, "tabSize": true, "widows": true, "zIndex": true, "zoom": true,
	"fillOpacity": true, "floodOpacity": true, "stopOpacity": true, "strokeDashoffset": true,
	"strokeMiterlimit": true, "strokeOpacity": true, "strokeWidth": true,
}

func styleString(obj *goja.Object) string {
	var parts []string
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if isNullish(v) || isObjectValue(v) {
			continue
		}
		var val string
		switch x := v.Export().(type) {
		case bool:
			continue
		case int64:
			val = strconv.FormatInt(x, 10)
			if x != 0 && !unitless[k] && !strings.HasPrefix(k, "--") {
				val += "px"
			}
		case float64:
			val = v.String()
			if x != 0 && !unitless[k] && !strings.HasPrefix(k, "--") {
				val += "px"
			}
		default:
			val = strings.TrimSpace(v.String())
		}
		if val == "" {
			continue
		}
		parts = append(parts, cssName(k)+":"+val)
	}
	return strings.Join(parts, ";")
}

func cssName(k string) string {
	if strings.HasPrefix(k, "--") {
		return k
	}
	if strings.HasPrefix(k, "ms") && len(k) > 2 && k[2] >= 'A' && k[2] <= 'Z' {
		return "-" + kebab(k)
	}
	if k != "" && k[0] >= 'A' && k[0] <= 'Z' {
		return "-" + kebab(k) // WebkitTransform
	}
	return kebab(k)
}

func kebab(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteByte(c + 'a' - 'A')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isObjectValue(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return ok
}

func element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag)), Attr: attrs}
}

func attr(k, v string) html.Attribute { return html.Attribute{Key: k, Val: v} }

func text(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

// renderDocument wraps root in a complete HTML document.
func renderDocument(root *html.Node, stylesheet string) []byte {
	if root.Parent != nil {
		root.Parent.RemoveChild(root)
	}
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	htmlEl := element("html", attr("lang", "en"))
	head := element("head")
	head.AppendChild(element("meta", attr("charset", "utf-8")))
	head.AppendChild(element("meta", attr("name", "viewport"), attr("content", "width=device-width, initial-scale=1")))
	if stylesheet != "" {
		style := element("style")
		style.AppendChild(text(stylesheet))
		head.AppendChild(style)
	}
	body := element("body")
	body.AppendChild(root)
	htmlEl.AppendChild(head)
	htmlEl.AppendChild(body)
	doc.AppendChild(htmlEl)

	var buf bytes.Buffer
	_ = html.Render(&buf, doc)
	return buf.Bytes()
}

const errorStyles = `.pv-error{font-family:ui-monospace,Menlo,monospace;margin:24px;padding:16px 20px;border:1px solid #f5c2c7;border-radius:8px;background:#fff5f5;color:#842029}` +
	`.pv-error h2{margin:0 0 8px;font-size:15px}.pv-error pre{margin:0;white-space:pre-wrap;font-size:13px}` +
	`.pv-error ul{margin:12px 0 0;padding-left:18px;font-size:12px;color:#6c757d}`

var errorTitles = map[diag.Kind]string{
	diag.CompileFailure: "Preview failed to compile",
	diag.MountFailure:   "Preview failed to mount",
	diag.RuntimeFailure: "Preview crashed",
}

// errorDocument is the deterministic error surface for a failed version.
func errorDocument(diags diag.List, stylesheet string) []byte {
	d, ok := diags.FirstFatal()
	if !ok {
		d = diag.Diagnostic{Kind: diag.RuntimeFailure, Message: "unknown failure"}
	}
	panel := element("div", attr("class", "pv-error"), attr("role", "alert"), attr("data-pv-error", string(d.Kind)))
	h := element("h2")
	h.AppendChild(text(errorTitles[d.Kind]))
	panel.AppendChild(h)
	pre := element("pre")
	pre.AppendChild(text(d.String()))
	panel.AppendChild(pre)

	var notes []diag.Diagnostic
	for _, x := range diags {
		if !x.Fatal() {
			notes = append(notes, x)
		}
	}
	if len(notes) > 0 {
		ul := element("ul")
		for _, x := range notes {
			li := element("li")
			li.AppendChild(text(x.Message))
			ul.AppendChild(li)
		}
		panel.AppendChild(ul)
	}

	root := element("div", attr("id", RootID))
	root.AppendChild(panel)
	return renderDocument(root, errorStyles+stylesheet)
}

// inspect describes the rendered element with the given node id.
func (t *tree) inspect(id string) (event.ElementInfo, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return event.ElementInfo{}, false
	}
	info := event.ElementInfo{NodeID: id, Tag: n.Data}
	for _, a := range n.Attr {
		if a.Key == "class" {
			info.Classes = strings.Fields(a.Val)
		}
	}
	info.Text = truncate(strings.Join(strings.Fields(textContent(n)), " "), maxInspectText)
	return info, true
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
