package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/livepreview/preview/diag"
	"github.com/hazyhaar/livepreview/preview/internal/compile"
	"github.com/hazyhaar/livepreview/preview/internal/normalize"
	"github.com/hazyhaar/livepreview/preview/internal/stubs"
)

var (
	notDefined = regexp.MustCompile(`ReferenceError: ([\p{L}\p{N}_$]+) is not defined`)
	stackPos   = regexp.MustCompile(regexp.QuoteMeta(compile.SourceName) + `:(\d+):(\d+)`)
	tagName    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)
)

// errBudget is the interrupt value of a render that overran its budget.
var errBudget = errors.New("render budget exceeded")

// instance is the hook state of one mounted component.
type instance struct {
	cells []*stubs.Cell
	next  int
	seen  bool
}

type effect struct {
	cell *stubs.Cell
	fn   goja.Callable
}

// renderer is one realm plus the component tree evaluated in it. It is only
// touched from its handle's goroutine.
type renderer struct {
	rt     *goja.Runtime
	env    *stubs.Env
	logger *slog.Logger
	policy *bluemonday.Policy
	vp     Viewport
	budget time.Duration
	passes int

	brand    *goja.Symbol // marks element objects
	ctxKey   *goja.Symbol // context object of a provider element
	fragment *goja.Object
	provider *goja.Object

	root      goja.Value // element rendered by every pass
	instances map[string]*instance
	typeIDs   map[*goja.Object]int
	current   *instance
	contexts  map[*goja.Object][]goja.Value
	effects   []effect
	dirty     bool

	out  *tree // tree of the pass in progress
	last *tree // tree of the last completed pass

	anomalies diag.List
}

func newRenderer(x *Executor, reg *stubs.Registry, logger *slog.Logger) *renderer {
	rt := goja.New()
	r := &renderer{
		rt:        rt,
		logger:    logger,
		policy:    x.policy,
		vp:        x.opts.Viewport,
		budget:    x.opts.RenderBudget,
		passes:    x.opts.MaxPasses,
		brand:     goja.NewSymbol("preview.element"),
		ctxKey:    goja.NewSymbol("preview.context"),
		fragment:  rt.NewObject(),
		provider:  rt.NewObject(),
		instances: make(map[string]*instance),
		typeIDs:   make(map[*goja.Object]int),
	}
	_ = r.fragment.Set("displayName", "Fragment")
	_ = r.provider.Set("displayName", "Provider")
	r.env = reg.Install(r)
	return r
}

// Host implementation.

func (r *renderer) Runtime() *goja.Runtime { return r.rt }
func (r *renderer) Logger() *slog.Logger   { return r.logger }
func (r *renderer) Viewport() (int, int)   { return r.vp.Width, r.vp.Height }
func (r *renderer) Fragment() goja.Value   { return r.fragment }
func (r *renderer) Rerender()              { r.dirty = true }

func (r *renderer) Element(typ goja.Value, props *goja.Object) goja.Value {
	el := r.rt.NewObject()
	key := goja.Null()
	if k := props.Get("key"); !isNullish(k) {
		key = r.rt.ToValue(k.String())
		_ = props.Delete("key")
	}
	_ = el.Set("type", typ)
	_ = el.Set("props", props)
	_ = el.Set("key", key)
	_ = el.SetSymbol(r.brand, true)
	return el
}

func (r *renderer) IsElement(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	b := obj.GetSymbol(r.brand)
	return b != nil && b.ToBoolean()
}

func (r *renderer) Provide(ctx *goja.Object, value, children goja.Value) goja.Value {
	props := r.rt.NewObject()
	_ = props.Set("value", value)
	_ = props.Set("children", children)
	_ = props.SetSymbol(r.ctxKey, ctx)
	return r.Element(r.provider, props)
}

func (r *renderer) Context(ctx *goja.Object) (goja.Value, bool) {
	stack := r.contexts[ctx]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

func (r *renderer) Cell() *stubs.Cell {
	in := r.current
	if in == nil {
		panic(r.rt.NewTypeError("Invalid hook call: hooks can only be called inside the body of a function component"))
	}
	if in.next == len(in.cells) {
		in.cells = append(in.cells, &stubs.Cell{})
	}
	c := in.cells[in.next]
	in.next++
	return c
}

func (r *renderer) Effect(c *stubs.Cell, fn goja.Callable) {
	r.effects = append(r.effects, effect{cell: c, fn: fn})
}

func (r *renderer) Unresolved(name string) {
	r.logger.Debug("sandbox: inert fallback", "symbol", name)
	r.anomalies = append(r.anomalies, diag.Diagnostic{
		Kind:    diag.NormalizationAnomaly,
		Stage:   diag.StageResolve,
		Symbol:  name,
		Message: fmt.Sprintf("unresolved symbol %s, using inert fallback", name),
	})
}

// mount evaluates the artifact and settles its first render.
func (r *renderer) mount(art *compile.Artifact) diag.List {
	err := r.guard(func() error { return r.evaluate(art) })
	if err == nil {
		err = r.settle()
	}
	return r.collect(err, diag.MountFailure, diag.StageMount)
}

func (r *renderer) evaluate(art *compile.Artifact) error {
	if err := r.strip(); err != nil {
		return err
	}
	v, err := r.rt.RunProgram(art.Program)
	if err != nil {
		return err
	}
	wrapper, ok := goja.AssertFunction(v)
	if !ok {
		return errors.New("program did not produce a scope function")
	}
	entry, err := wrapper(goja.Undefined(), r.scope())
	if err != nil {
		return err
	}
	if r.IsElement(entry) {
		r.root = entry
		return nil
	}
	if _, ok := goja.AssertFunction(entry); !ok {
		return fmt.Errorf("%s is not a component (got %s)", normalize.EntryPoint, describe(entry))
	}
	r.root = r.Element(entry, r.rt.NewObject())
	return nil
}

// strip deletes every global the catalogue does not allow.
func (r *renderer) strip() error {
	v, err := r.rt.RunString(`Object.getOwnPropertyNames(this)`)
	if err != nil {
		return fmt.Errorf("list globals: %w", err)
	}
	var names []string
	if err := r.rt.ExportTo(v, &names); err != nil {
		return fmt.Errorf("list globals: %w", err)
	}
	g := r.rt.GlobalObject()
	reg := r.env.Registry()
	for _, n := range names {
		if !reg.Allowed(n) {
			_ = g.Delete(n)
		}
	}
	return nil
}

// scope is the object the compiled wrapper resolves free identifiers through.
func (r *renderer) scope() goja.Value {
	p := r.rt.NewProxy(r.rt.NewObject(), &goja.ProxyTrapConfig{
		Has: func(_ *goja.Object, name string) bool { return r.env.Has(name) },
		Get: func(_ *goja.Object, name string, _ goja.Value) goja.Value { return r.env.Get(name) },
	})
	return r.rt.ToValue(p)
}

// guard runs fn under the interrupt budget and converts Go panics to errors.
func (r *renderer) guard(fn func() error) (err error) {
	r.rt.ClearInterrupt()
	t := time.AfterFunc(r.budget, func() { r.rt.Interrupt(errBudget) })
	defer t.Stop()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("sandbox: panic in realm", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return fn()
}

// settle renders until no state update is pending, committing effects after
// every pass.
func (r *renderer) settle() error {
	for pass := 0; ; pass++ {
		if pass == r.passes {
			r.anomalies = append(r.anomalies, diag.Anomaly(diag.StageRender,
				"render did not settle after %d passes; showing the last one", r.passes))
			return nil
		}
		r.dirty = false
		if err := r.guard(r.pass); err != nil {
			return err
		}
		if err := r.guard(r.commit); err != nil {
			return err
		}
		if !r.dirty {
			return nil
		}
	}
}

func (r *renderer) pass() error {
	for _, in := range r.instances {
		in.seen = false
	}
	r.out = newTree()
	r.contexts = make(map[*goja.Object][]goja.Value)
	r.effects = r.effects[:0]
	if err := r.render(r.root, r.out.root, "", ""); err != nil {
		r.current = nil
		return err
	}
	r.unmountUnseen()
	r.last = r.out
	return nil
}

func (r *renderer) commit() error {
	jobs := r.effects
	r.effects = nil
	for _, j := range jobs {
		if j.cell.Cleanup != nil {
			cleanup := j.cell.Cleanup
			j.cell.Cleanup = nil
			if _, err := cleanup(goja.Undefined()); err != nil {
				return err
			}
		}
		ret, err := j.fn(goja.Undefined())
		if err != nil {
			return err
		}
		if fn, ok := goja.AssertFunction(ret); ok {
			j.cell.Cleanup = fn
		}
	}
	return nil
}

func (r *renderer) render(v goja.Value, parent *html.Node, path, parentID string) error {
	if isNullish(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		if _, isBool := v.Export().(bool); isBool {
			return nil
		}
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
		return nil
	}
	if r.IsElement(obj) {
		return r.renderElement(obj, parent, path, parentID)
	}
	if obj.ClassName() == "Array" {
		for i, item := range r.items(obj) {
			if err := r.render(item, parent, path+"["+r.keyOf(item, i)+"]", parentID); err != nil {
				return err
			}
		}
		return nil
	}
	if _, ok := goja.AssertFunction(obj); ok {
		r.logger.Debug("sandbox: function passed as a child", "path", path)
		return nil
	}
	if _, ok := goja.AssertFunction(obj.Get("then")); ok {
		return typeError("a component returned a Promise; async components cannot render in the preview")
	}
	if get, ok := goja.AssertFunction(obj.Get("get")); ok {
		// motion values render their current value
		cur, err := get(obj)
		if err != nil {
			return err
		}
		return r.render(cur, parent, path, parentID)
	}
	return typeError("Objects are not valid as a child (found: object with keys {%s})", strings.Join(obj.Keys(), ", "))
}

func (r *renderer) renderElement(el *goja.Object, parent *html.Node, path, parentID string) error {
	typ := el.Get("type")
	props := r.object(el.Get("props"))

	if isNullish(typ) {
		return typeError("Element type is invalid: expected a string or a component but got %s", describe(typ))
	}
	obj, ok := typ.(*goja.Object)
	if !ok {
		s := typ.String()
		if !tagName.MatchString(s) {
			return typeError("invalid element type %q", s)
		}
		return r.hostElement(s, props, parent, path, parentID)
	}
	switch {
	case obj == r.fragment:
		return r.render(props.Get("children"), parent, path+"/<>", parentID)
	case obj == r.provider:
		ctx, _ := props.GetSymbol(r.ctxKey).(*goja.Object)
		r.contexts[ctx] = append(r.contexts[ctx], props.Get("value"))
		err := r.render(props.Get("children"), parent, path+"/ctx", parentID)
		r.contexts[ctx] = r.contexts[ctx][:len(r.contexts[ctx])-1]
		return err
	}
	fn, ok := goja.AssertFunction(obj)
	if !ok {
		return typeError("Element type is invalid: expected a string or a component but got %s", describe(typ))
	}
	class := isClassComponent(obj)

	ipath := path + "#" + strconv.Itoa(r.typeID(obj))
	in := r.instances[ipath]
	if in == nil {
		in = &instance{}
		r.instances[ipath] = in
	}
	in.seen = true
	in.next = 0

	prev := r.current
	r.current = in
	var (
		out goja.Value
		err error
	)
	if class {
		out, err = r.renderClass(obj, props)
	} else {
		out, err = fn(goja.Undefined(), props)
	}
	r.current = prev
	if err != nil {
		return err
	}
	return r.render(out, parent, ipath, parentID)
}

func isClassComponent(obj *goja.Object) bool {
	proto, ok := obj.Get("prototype").(*goja.Object)
	return ok && !isNullish(proto.Get("isReactComponent"))
}

// renderClass renders a class component. The instance lives in the first
// hook cell so its state survives passes; componentDidMount runs as that
// cell's effect and componentWillUnmount as its cleanup.
func (r *renderer) renderClass(class, props *goja.Object) (goja.Value, error) {
	c := r.Cell()
	if !c.Ready {
		inst, err := r.rt.New(class, props)
		if err != nil {
			return nil, err
		}
		c.Ready = true
		c.Value = inst
		r.Effect(c, func(goja.Value, ...goja.Value) (goja.Value, error) {
			if mount, ok := goja.AssertFunction(inst.Get("componentDidMount")); ok {
				if _, err := mount(inst); err != nil {
					return nil, err
				}
			}
			unmount, ok := goja.AssertFunction(inst.Get("componentWillUnmount"))
			if !ok {
				return goja.Undefined(), nil
			}
			return r.rt.ToValue(func(goja.FunctionCall) goja.Value {
				if _, err := unmount(inst); err != nil {
					panic(err)
				}
				return goja.Undefined()
			}), nil
		})
	}
	inst := c.Value.(*goja.Object)
	_ = inst.Set("props", props)
	render, ok := goja.AssertFunction(inst.Get("render"))
	if !ok {
		return nil, typeError("class component %s has no render method", describe(class))
	}
	return render(inst)
}

func (r *renderer) typeID(obj *goja.Object) int {
	id, ok := r.typeIDs[obj]
	if !ok {
		id = len(r.typeIDs) + 1
		r.typeIDs[obj] = id
	}
	return id
}

func (r *renderer) keyOf(item goja.Value, i int) string {
	if r.IsElement(item) {
		if k := item.(*goja.Object).Get("key"); !isNullish(k) {
			return "k:" + k.String()
		}
	}
	return strconv.Itoa(i)
}

// unmountUnseen runs the cleanups of components the last pass did not reach.
func (r *renderer) unmountUnseen() {
	var gone []string
	for k, in := range r.instances {
		if !in.seen {
			gone = append(gone, k)
		}
	}
	sort.Strings(gone)
	for _, k := range gone {
		r.cleanup(r.instances[k])
		delete(r.instances, k)
	}
}

func (r *renderer) cleanup(in *instance) {
	for _, c := range in.cells {
		if c.Cleanup == nil {
			continue
		}
		fn := c.Cleanup
		c.Cleanup = nil
		if _, err := fn(goja.Undefined()); err != nil {
			r.logger.Debug("sandbox: effect cleanup failed", "error", err)
		}
	}
}

// dispose runs every pending cleanup.
func (r *renderer) dispose() {
	err := r.guard(func() error {
		keys := make([]string, 0, len(r.instances))
		for k := range r.instances {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.cleanup(r.instances[k])
		}
		return nil
	})
	if err != nil {
		r.logger.Debug("sandbox: dispose", "error", err)
	}
	r.instances = nil
}

// collect drains the anomalies recorded since the last call and appends the
// failure err maps to, if any.
func (r *renderer) collect(err error, kind diag.Kind, stage diag.Stage) diag.List {
	out := r.anomalies
	r.anomalies = nil
	if err != nil {
		out = append(out, r.failure(err, kind, stage))
	}
	return out
}

func (r *renderer) failure(err error, kind diag.Kind, stage diag.Stage) diag.Diagnostic {
	d := diag.Diagnostic{Kind: kind, Stage: stage}
	var intr *goja.InterruptedError
	var ex *goja.Exception
	switch {
	case errors.As(err, &intr):
		d.Message = fmt.Sprintf("render did not finish within %s", r.budget)
	case errors.As(err, &ex):
		d.Message = ex.Error()
		if v := ex.Value(); v != nil {
			d.Message = v.String()
		}
		if m := stackPos.FindStringSubmatch(ex.String()); m != nil {
			line, _ := strconv.Atoi(m[1])
			col, _ := strconv.Atoi(m[2])
			if line > compile.WrapperLines {
				d.Line, d.Column = line-compile.WrapperLines, col
			}
		}
	default:
		d.Message = err.Error()
	}
	if m := notDefined.FindStringSubmatch(d.Message); m != nil {
		d.Symbol = m[1]
	}
	return d
}

func (r *renderer) object(v goja.Value) *goja.Object {
	if isNullish(v) {
		return r.rt.NewObject()
	}
	return v.ToObject(r.rt)
}

func (r *renderer) items(obj *goja.Object) []goja.Value {
	n := obj.Get("length").ToInteger()
	out := make([]goja.Value, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, obj.Get(strconv.FormatInt(i, 10)))
	}
	return out
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// typeError reports a tree the renderer cannot turn into a document.
func typeError(format string, args ...any) error {
	return fmt.Errorf("TypeError: "+format, args...)
}

func describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, fn := goja.AssertFunction(obj); fn {
			return "function"
		}
		return "object"
	}
	return fmt.Sprintf("%T", v.Export())
}
