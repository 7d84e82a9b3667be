package interceptz

import (
	"reflect"
	"runtime/debug"

	"github.com/google/uuid"
)

// Dispatcher runs the interception sequence around a call: interceptor,
// real invocation, outcome observation.
//
// A Dispatcher holds only its interceptor and configuration, so one
// instance can serve any number of concurrent calls. Use it directly with
// Invoke, Exec and InvokeAsync to build typed wrappers, or through Wrap.
type Dispatcher struct {
	hook Interceptor
	cfg  config
}

// NewDispatcher creates a dispatcher for hook. A nil hook intercepts nothing.
//
// Example:
//
//	d := interceptz.NewDispatcher(tracer,
//	    interceptz.WithScheduler(loop),
//	    interceptz.WithHookIsolation(),
//	)
func NewDispatcher(hook Interceptor, opts ...Option) *Dispatcher {
	return &Dispatcher{
		hook: hook,
		cfg:  newConfig(opts),
	}
}

// Invoke intercepts fn as the member name called with args.
// The result and error of fn are returned unchanged.
func Invoke[R any](d *Dispatcher, name string, fn func() (R, error), args ...any) (R, error) {
	b := d.begin(name, args)
	if b == nil {
		return fn()
	}
	v, err := guard(d, name, b, fn)
	d.observe(name, b, v, err, false)
	return v, err
}

// Exec intercepts fn as the member name called with args, for members that
// only return an error. OnSuccess receives nil.
func Exec(d *Dispatcher, name string, fn func() error, args ...any) error {
	_, err := Invoke(d, name, func() (any, error) {
		return nil, fn()
	}, args...)
	return err
}

// InvokeAsync intercepts fn as the asynchronous member name called with
// args. The returned future settles after the source returned by fn has
// settled and the matching callback has run.
//
// A nil source future is treated as a synchronous success: OnSuccess
// observes it and it is returned as is.
func InvokeAsync[R any](d *Dispatcher, name string, fn func() *Future[R], args ...any) *Future[R] {
	b := d.begin(name, args)
	if b == nil {
		return fn()
	}
	src, _ := guard(d, name, b, func() (*Future[R], error) {
		return fn(), nil
	})
	if src == nil {
		d.observe(name, b, src, nil, false)
		return nil
	}
	return relay(d, name, b, src.Then)
}

// begin builds the Call and runs the interceptor.
func (d *Dispatcher) begin(name string, args []any) *Bundle {
	if d.hook == nil {
		return nil
	}
	call := Call{
		Name:    name,
		Args:    append(make([]any, 0, len(args)), args...),
		Started: d.cfg.clock.Now(),
	}
	if d.cfg.ids {
		call.ID = uuid.NewString()
	}
	return d.hook(call)
}

// guard runs fn, reporting a panic to OnError before re-raising it.
func guard[R any](d *Dispatcher, name string, b *Bundle, fn func() (R, error)) (v R, err error) {
	returned := false
	defer func() {
		if returned {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit
			return
		}
		d.observe(name, b, nil, &PanicError{Value: r, Stack: debug.Stack()}, false)
		panic(r)
	}()
	v, err = fn()
	returned = true
	return v, err
}

// relay returns a future mirroring the source attached through attach,
// settling it only after the outcome has been observed.
func relay[T any](d *Dispatcher, name string, b *Bundle, attach func(func(T, error))) *Future[T] {
	out := NewFuture[T]()
	attach(func(v T, err error) {
		d.cfg.scheduler.Schedule(func() {
			if hp := d.observe(name, b, v, err, true); hp != nil {
				out.Reject(hp)
				return
			}
			if err != nil {
				out.Reject(err)
				return
			}
			out.Resolve(v)
		})
	})
	return out
}

// observe runs the callback matching the outcome. It is the single place
// where post-call hooks execute, for both synchronous and asynchronous
// outcomes.
//
// Callback panics are recovered when isolation is on (logged, nil returned)
// or when observing an asynchronous settlement (returned as a
// *HookPanicError). A synchronous callback panic without isolation reaches
// the caller.
func (d *Dispatcher) observe(name string, b *Bundle, value any, err error, async bool) (hp *HookPanicError) {
	if d.cfg.isolate || async {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if d.cfg.isolate {
				d.cfg.logger.Error("interceptz: hook panicked",
					"call", name,
					"panic", r,
					"async", async,
				)
				return
			}
			hp = &HookPanicError{Call: name, Value: r}
		}()
	}

	if err != nil {
		if b.OnError != nil {
			b.OnError(err)
		}
		return nil
	}
	if b.OnSuccess != nil {
		b.OnSuccess(value)
	}
	return nil
}

// settlerOf reports whether v is a non-nil Settler.
func settlerOf(v any) (Settler, bool) {
	s, ok := v.(Settler)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
	}
	return s, true
}
