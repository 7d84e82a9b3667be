package interceptz

import (
	"errors"
	"fmt"
)

// Wrapping Errors
//
// These errors are returned by Wrap when the target cannot be proxied.

// ErrNilTarget is returned when Wrap is given a nil target or a nil pointer.
var ErrNilTarget = errors.New("target is nil")

// ErrUnsupportedTarget is returned when the target is neither a pointer to a
// struct nor a map keyed by string. Pointers are required for structs so
// that methods run against the caller's value and not a copy.
var ErrUnsupportedTarget = errors.New("unsupported target")

// Member Access Errors
//
// These errors are returned by Proxy.Get, Proxy.Set and Proxy.Call.

// ErrMemberNotFound is returned when the target has no accessible member
// with the requested name. Unexported fields are not accessible.
var ErrMemberNotFound = errors.New("member not found")

// ErrNotCallable is returned by Proxy.Call when the member is data.
var ErrNotCallable = errors.New("member is not callable")

// ErrReadOnly is returned by Proxy.Set when the member cannot be assigned,
// for example a method.
var ErrReadOnly = errors.New("member is read-only")

// Invocation Errors
//
// These errors are returned when an argument list cannot be applied to a
// callable member. No interceptor runs for such calls: the target was never
// invoked, so there is no outcome to observe.

// ErrArgCount is returned when the number of arguments does not match the
// callable's signature.
var ErrArgCount = errors.New("wrong argument count")

// ErrArgType is returned when an argument is not assignable to the
// corresponding parameter.
var ErrArgType = errors.New("wrong argument type")

// Loop Errors

// ErrLoopClosed is returned when calling Close on a Loop that has already
// been closed.
var ErrLoopClosed = errors.New("loop already closed")

// PanicError carries a value recovered from a panicking target method or
// asynchronous task.
//
// For synchronous methods it is what OnError receives before the original
// panic is re-raised. For tasks started with Go it is the rejection reason.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// HookPanicError rejects the Future returned for an asynchronous call when
// OnSuccess or OnError panicked while observing its settlement and hook
// isolation is off.
type HookPanicError struct {
	Call  string
	Value any
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("hook for %s panicked: %v", e.Call, e.Value)
}
