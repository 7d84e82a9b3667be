package interceptz

import (
	"fmt"
	"reflect"
	"sort"
)

var errorType = reflect.TypeFor[error]()

// Proxy is a reflective interception wrapper around a target value.
//
// Targets are either a non-nil pointer or a non-nil map keyed by a string
// type. For pointers, callable members are the exported methods of the
// pointer type (covering value and pointer receivers) plus non-nil exported
// func fields; other exported fields are data members. For maps, non-nil
// func values are callable and every other value is data.
//
// Methods are always bound to the original pointer, so a method reading its
// own fields, exported or not, sees the target's real state.
//
// A Proxy is stateless beyond its target, interceptor and configuration.
type Proxy struct {
	target any
	value  reflect.Value
	d      *Dispatcher
}

// Member describes one accessible member of a proxied target.
type Member struct {
	Name     string
	Callable bool
}

// Wrap creates a Proxy around target that runs hook before every method call.
//
// Example:
//
//	proxy, err := interceptz.Wrap(&Greeter{}, func(call interceptz.Call) *interceptz.Bundle {
//	    return &interceptz.Bundle{OnSuccess: func(v any) { fmt.Println(call.Name, v) }}
//	})
func Wrap(target any, hook Interceptor, opts ...Option) (*Proxy, error) {
	if target == nil {
		return nil, ErrNilTarget
	}

	v := reflect.ValueOf(target)
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil, ErrNilTarget
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: %T has non-string keys", ErrUnsupportedTarget, target)
		}
		if v.IsNil() {
			return nil, ErrNilTarget
		}
	default:
		return nil, fmt.Errorf("%w: %T is not a pointer or map", ErrUnsupportedTarget, target)
	}

	return &Proxy{
		target: target,
		value:  v,
		d:      NewDispatcher(hook, opts...),
	}, nil
}

// Target returns the wrapped value.
func (p *Proxy) Target() any {
	return p.target
}

// Get reads the member name.
//
// Data members are returned as stored on the target and no interceptor
// runs. Callable members are returned as a Method running the full
// interception sequence on each call.
func (p *Proxy) Get(name string) (any, error) {
	v, callable, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	if !callable {
		return v.Interface(), nil
	}
	return p.method(name, v), nil
}

// Call invokes the callable member name with args.
func (p *Proxy) Call(name string, args ...any) (any, error) {
	v, callable, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	if !callable {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, name)
	}
	return p.invoke(name, v, args)
}

// Set writes value to the member name on the target. Writes are never
// intercepted. Map targets accept new keys; struct targets only accept
// existing exported fields.
func (p *Proxy) Set(name string, value any) error {
	if p.value.Kind() == reflect.Map {
		key := reflect.ValueOf(name).Convert(p.value.Type().Key())
		elem, err := assignable(p.value.Type().Elem(), value)
		if err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
		p.value.SetMapIndex(key, elem)
		return nil
	}

	if p.value.MethodByName(name).IsValid() {
		return fmt.Errorf("%w: %s is a method", ErrReadOnly, name)
	}
	field, ok := p.field(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	}
	if !field.CanSet() {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	v, err := assignable(field.Type(), value)
	if err != nil {
		return fmt.Errorf("%w: %s", err, name)
	}
	field.Set(v)
	return nil
}

// Members lists the target's accessible members sorted by name.
func (p *Proxy) Members() []Member {
	var members []Member

	if p.value.Kind() == reflect.Map {
		iter := p.value.MapRange()
		for iter.Next() {
			members = append(members, Member{
				Name:     iter.Key().String(),
				Callable: isCallable(unwrapInterface(iter.Value())),
			})
		}
	} else {
		t := p.value.Type()
		for i := 0; i < t.NumMethod(); i++ {
			members = append(members, Member{Name: t.Method(i).Name, Callable: true})
		}
		if elem := p.value.Elem(); elem.Kind() == reflect.Struct {
			for _, sf := range reflect.VisibleFields(elem.Type()) {
				if !sf.IsExported() {
					continue
				}
				f, err := elem.FieldByIndexErr(sf.Index)
				if err != nil {
					// promoted through a nil embedded pointer
					continue
				}
				members = append(members, Member{Name: sf.Name, Callable: isCallable(f)})
			}
		}
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Name < members[j].Name
	})
	return members
}

// lookup resolves name to a reflected member and whether it is callable.
func (p *Proxy) lookup(name string) (reflect.Value, bool, error) {
	if p.value.Kind() == reflect.Map {
		key := reflect.ValueOf(name).Convert(p.value.Type().Key())
		v := p.value.MapIndex(key)
		if !v.IsValid() {
			return reflect.Value{}, false, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
		}
		inner := unwrapInterface(v)
		if isCallable(inner) {
			return inner, true, nil
		}
		return v, false, nil
	}

	// Bound to the original pointer, never to the proxy.
	if m := p.value.MethodByName(name); m.IsValid() {
		return m, true, nil
	}
	if f, ok := p.field(name); ok {
		return f, isCallable(f), nil
	}
	return reflect.Value{}, false, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// field returns the exported struct field name of the target.
func (p *Proxy) field(name string) (reflect.Value, bool) {
	elem := p.value.Elem()
	if elem.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	sf, ok := elem.Type().FieldByName(name)
	if !ok || !sf.IsExported() {
		return reflect.Value{}, false
	}
	f, err := elem.FieldByIndexErr(sf.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}

func (p *Proxy) method(name string, fn reflect.Value) Method {
	return func(args ...any) (any, error) {
		return p.invoke(name, fn, args)
	}
}

// invoke runs the interception sequence around a reflected callable.
func (p *Proxy) invoke(name string, fn reflect.Value, args []any) (any, error) {
	in, err := bindArgs(name, fn.Type(), args)
	if err != nil {
		return nil, err
	}
	call := func() (any, error) {
		return results(fn.Type(), fn.Call(in))
	}

	d := p.d
	b := d.begin(name, args)
	if b == nil {
		return call()
	}

	value, err := guard(d, name, b, call)
	if err == nil {
		if s, ok := settlerOf(value); ok {
			return relay(d, name, b, s.OnSettle), nil
		}
	}
	d.observe(name, b, value, err, false)
	return value, err
}

// bindArgs converts args to the parameter types of ft.
func bindArgs(name string, ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%w: %s wants at least %d, got %d", ErrArgCount, name, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%w: %s wants %d, got %d", ErrArgCount, name, n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := assignable(pt, arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d", err, name, i)
		}
		in[i] = v
	}
	return in, nil
}

// results splits a trailing error from the other results.
func results(ft reflect.Type, out []reflect.Value) (any, error) {
	var err error
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if last := out[n-1]; !last.IsNil() {
			err = last.Interface().(error)
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	}
	values := make([]any, len(out))
	for i, v := range out {
		values[i] = v.Interface()
	}
	return values, err
}

// assignable converts v to a value assignable to t. A nil v becomes the
// zero value of nilable types.
func assignable(t reflect.Type, v any) (reflect.Value, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map,
			reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil for %s", ErrArgType, t)
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%w: %T for %s", ErrArgType, v, t)
	}
	return rv, nil
}

func unwrapInterface(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		return v.Elem()
	}
	return v
}

func isCallable(v reflect.Value) bool {
	return v.Kind() == reflect.Func && !v.IsNil()
}
