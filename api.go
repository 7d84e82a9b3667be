// Package interceptz provides transparent method-call interception for Go values.
//
// An Interceptor runs before every method call on a wrapped target and may
// return a Bundle whose callbacks observe the call's outcome: OnSuccess with
// the returned value, OnError with the returned error. Outcomes are observed
// the same way whether the method completes immediately or hands back a
// Future that settles later.
//
// Interceptors observe, they never alter: the caller always receives exactly
// what the target returned, and methods always run against the original
// target, never against the wrapper.
//
// Basic Usage:
//
//	account := &Account{owner: "ana"}
//
//	proxy, err := interceptz.Wrap(account, func(call interceptz.Call) *interceptz.Bundle {
//		log.Printf("calling %s%v", call.Name, call.Args)
//		return &interceptz.Bundle{
//			OnSuccess: func(v any) { log.Printf("%s -> %v", call.Name, v) },
//			OnError:   func(err error) { log.Printf("%s failed: %v", call.Name, err) },
//		}
//	})
//	if err != nil {
//		return err
//	}
//
//	// Callable members go through the interceptor
//	balance, err := proxy.Call("Deposit", 100)
//
//	// Data members pass straight through
//	owner, _ := proxy.Get("Owner")
//
// Typed Wrappers:
//
// Reflection trades compile-time safety for generality. When the target
// satisfies a known interface, write one wrapper per method with the generic
// helpers and keep the interface intact:
//
//	type tracedStore struct {
//		base Store
//		d    *interceptz.Dispatcher
//	}
//
//	func (s *tracedStore) Get(ctx context.Context, key string) ([]byte, error) {
//		return interceptz.Invoke(s.d, "Get", func() ([]byte, error) {
//			return s.base.Get(ctx, key)
//		}, key)
//	}
//
// Asynchronous Results:
//
// A method returning a value that implements Settler (every *Future does) is
// treated as asynchronous. The wrapper returns a new Future immediately; the
// matching callback runs once the source settles, and only then does the
// returned Future settle with the same value or error. Settlement callbacks
// run inline by default, or on a Loop when configured with WithScheduler.
package interceptz

import "time"

// Call describes a single intercepted invocation.
//
// A Call is built fresh for every invocation and handed to the Interceptor by
// value. Args is a private copy of the caller's arguments, so an interceptor
// mutating it cannot change what the target receives. Args is never nil.
type Call struct {
	// ID uniquely identifies the invocation. Empty when IDs are disabled.
	ID string

	// Name is the member name as seen on the target.
	Name string

	// Args holds the invocation arguments in order.
	Args []any

	// Started is when the interceptor was invoked, read from the configured clock.
	Started time.Time
}

// Bundle holds the post-call observers for one invocation.
//
// Either callback may be nil, meaning that branch is not observed. At most
// one of them runs per invocation and only after the outcome is known.
type Bundle struct {
	OnSuccess func(value any)
	OnError   func(err error)
}

// Interceptor is the pre-call hook. It runs exactly once per invocation,
// before the target method executes. Returning nil opts the invocation out
// of post-call observation.
//
// A panicking interceptor aborts the invocation: the panic reaches the
// caller and the target method never runs.
type Interceptor func(call Call) *Bundle

// Method is the wrapped form of a callable member returned by Proxy.Get.
//
// The value is the method's non-error results: nil for none, the value itself
// for one, and a []any for several. The error is the method's trailing error
// result, returned unchanged. Asynchronous methods yield a *Future[any].
type Method func(args ...any) (any, error)
