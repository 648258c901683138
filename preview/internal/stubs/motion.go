package stubs

import (
	"github.com/dop251/goja"
)

// motionProps are animation props dropped before rendering the target: the
// preview shows the settled layout, not the animation.
var motionProps = map[string]bool{
	"initial": true, "animate": true, "exit": true, "transition": true,
	"variants": true, "whileHover": true, "whileTap": true, "whileFocus": true,
	"whileDrag": true, "whileInView": true, "viewport": true, "layout": true,
	"layoutId": true, "layoutScroll": true, "drag": true, "dragConstraints": true,
	"dragElastic": true, "dragMomentum": true, "dragSnapToOrigin": true,
	"onAnimationStart": true, "onAnimationComplete": true, "onUpdate": true,
	"onHoverStart": true, "onHoverEnd": true, "onTap": true, "onTapStart": true,
	"onViewportEnter": true, "onViewportLeave": true, "custom": true, "inherit": true,
}

func motionBuilders() map[string]builder {
	return map[string]builder{
		"motion":          func(e *Env) goja.Value { return e.motionNamespace() },
		"AnimatePresence": func(e *Env) goja.Value { return e.component("AnimatePresence", passThrough) },
		"LayoutGroup":     func(e *Env) goja.Value { return e.component("LayoutGroup", passThrough) },
		"MotionConfig":    func(e *Env) goja.Value { return e.component("MotionConfig", passThrough) },
		"useInView":       func(e *Env) goja.Value { return e.constant(e.rt.ToValue(true)) },
		"useReducedMotion": func(e *Env) goja.Value {
			return e.constant(e.rt.ToValue(true))
		},
		"useScroll": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value {
				o := e.rt.NewObject()
				for _, k := range []string{"scrollX", "scrollY", "scrollXProgress", "scrollYProgress"} {
					_ = o.Set(k, e.motionValue(e.rt.ToValue(0)))
				}
				return o
			})
		},
		"useMotionValue": func(e *Env) goja.Value {
			return e.fn(func(call goja.FunctionCall) goja.Value {
				c := e.h.Cell()
				if !c.Ready {
					c.Ready = true
					c.Value = e.motionValue(call.Argument(0))
				}
				return c.Value
			})
		},
		"useSpring": func(e *Env) goja.Value {
			return e.fn(func(call goja.FunctionCall) goja.Value {
				return e.motionValue(e.current(call.Argument(0)))
			})
		},
		"useTransform": func(e *Env) goja.Value { return e.fn(e.useTransform) },
		"useAnimation": func(e *Env) goja.Value {
			return e.fn(func(goja.FunctionCall) goja.Value {
				ctl := e.rt.NewObject()
				_ = ctl.Set("start", func(goja.FunctionCall) goja.Value { return e.promise(true, goja.Undefined()) })
				_ = ctl.Set("stop", e.noop())
				_ = ctl.Set("set", e.noop())
				_ = ctl.Set("mount", e.noop())
				return ctl
			})
		},
	}
}

// motionNamespace answers motion.<tag> with a component rendering <tag>, and
// motion(Component) / motion.create(Component) with a wrapped component.
func (e *Env) motionNamespace() goja.Value {
	wrap := func(target goja.Value) goja.Value {
		return e.component("motion", func(e *Env, props *goja.Object) goja.Value {
			return e.h.Element(target, e.copyProps(props, motionProps))
		})
	}
	target := e.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return wrap(call.Argument(0))
	}).(*goja.Object)
	proxy := e.rt.NewProxy(target, &goja.ProxyTrapConfig{
		Get: func(_ *goja.Object, prop string, _ goja.Value) goja.Value {
			if prop == "create" {
				return e.fn(func(call goja.FunctionCall) goja.Value { return wrap(call.Argument(0)) })
			}
			if v, ok := e.motions[prop]; ok {
				return v
			}
			v := wrap(e.rt.ToValue(prop))
			e.motions[prop] = v
			return v
		},
		Apply: func(_ *goja.Object, _ goja.Value, args []goja.Value) goja.Value {
			if len(args) == 0 {
				return goja.Undefined()
			}
			return wrap(args[0])
		},
	})
	return e.rt.ToValue(proxy)
}

// motionValue is a static MotionValue: get/set work, subscriptions never fire.
// Its string form is the current value so it can sit in a style object.
func (e *Env) motionValue(initial goja.Value) goja.Value {
	cur := initial
	mv := e.rt.NewObject()
	_ = mv.Set("get", func(goja.FunctionCall) goja.Value { return cur })
	_ = mv.Set("set", func(call goja.FunctionCall) goja.Value {
		cur = call.Argument(0)
		return goja.Undefined()
	})
	_ = mv.Set("jump", mv.Get("set"))
	_ = mv.Set("getVelocity", e.constant(e.rt.ToValue(0)))
	unsubscribe := e.noop()
	_ = mv.Set("on", e.constant(unsubscribe))
	_ = mv.Set("onChange", e.constant(unsubscribe))
	_ = mv.Set("destroy", e.noop())
	_ = mv.Set("toString", func(goja.FunctionCall) goja.Value { return e.rt.ToValue(cur.String()) })
	_ = mv.Set("toJSON", func(goja.FunctionCall) goja.Value { return cur })
	return mv
}

// current unwraps a motion value.
func (e *Env) current(v goja.Value) goja.Value {
	if obj, ok := v.(*goja.Object); ok {
		if get, ok := goja.AssertFunction(obj.Get("get")); ok {
			out, err := get(obj)
			if err != nil {
				panic(err)
			}
			return out
		}
	}
	return v
}

// useTransform supports (value, input[], output[]), (value, fn) and (fn).
func (e *Env) useTransform(call goja.FunctionCall) goja.Value {
	first := call.Argument(0)
	if _, ok := goja.AssertFunction(first); ok {
		return e.motionValue(e.call(first))
	}
	second := call.Argument(1)
	if _, ok := goja.AssertFunction(second); ok {
		return e.motionValue(e.call(second, e.current(first)))
	}
	if out := e.items(call.Argument(2)); len(out) > 0 {
		return e.motionValue(out[0])
	}
	return e.motionValue(e.current(first))
}

// promise returns an already settled promise.
func (e *Env) promise(resolve bool, v goja.Value) goja.Value {
	ctor := e.rt.Get("Promise")
	if isNullish(ctor) {
		return goja.Undefined()
	}
	method := "resolve"
	if !resolve {
		method = "reject"
	}
	obj := ctor.ToObject(e.rt)
	f, ok := goja.AssertFunction(obj.Get(method))
	if !ok {
		return goja.Undefined()
	}
	p, err := f(obj, v)
	if err != nil {
		panic(err)
	}
	return p
}
