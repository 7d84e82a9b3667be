package interceptz

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

var errNotFound = errors.New("not found")

// store is the kind of interface a typed wrapper preserves.
type store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Fetch(key string) *Future[string]
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Fetch(key string) *Future[string] {
	return Go(func() (string, error) {
		return s.Get(context.Background(), key)
	})
}

// tracedStore is a hand-written typed wrapper.
type tracedStore struct {
	base store
	d    *Dispatcher
}

func (s *tracedStore) Get(ctx context.Context, key string) (string, error) {
	return Invoke(s.d, "Get", func() (string, error) {
		return s.base.Get(ctx, key)
	}, key)
}

func (s *tracedStore) Put(ctx context.Context, key, value string) error {
	return Exec(s.d, "Put", func() error {
		return s.base.Put(ctx, key, value)
	}, key, value)
}

func (s *tracedStore) Fetch(key string) *Future[string] {
	return InvokeAsync(s.d, "Fetch", func() *Future[string] {
		return s.base.Fetch(key)
	}, key)
}

var _ store = (*tracedStore)(nil)

// recorder collects interceptor events.
type recorder struct {
	mu     sync.Mutex
	calls  []Call
	values []any
	errs   []error
}

func (r *recorder) hook(call Call) *Bundle {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return &Bundle{
		OnSuccess: func(v any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.values = append(r.values, v)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func TestTypedWrapper(t *testing.T) {
	rec := &recorder{}
	var s store = &tracedStore{base: newMemStore(), d: NewDispatcher(rec.hook)}
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v"))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = s.Get(ctx, "missing")
	assert.Same(t, errNotFound, err)

	v, err = s.Fetch("k").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = s.Fetch("missing").Await(ctx)
	assert.Same(t, errNotFound, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.calls, 5)
	assert.Equal(t, "Put", rec.calls[0].Name)
	assert.Equal(t, []any{"k", "v"}, rec.calls[0].Args)
	assert.Equal(t, []any{nil, "v", "v"}, rec.values, "Exec reports nil on success")
	assert.Equal(t, []error{errNotFound, errNotFound}, rec.errs)
}

func TestNilHookIsTransparent(t *testing.T) {
	d := NewDispatcher(nil)

	v, err := Invoke(d, "op", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	boom := errors.New("boom")
	err = Exec(d, "op", func() error { return boom })
	assert.Same(t, boom, err)

	src := Resolved(1)
	assert.Same(t, src, InvokeAsync(d, "op", func() *Future[int] { return src }))
}

func TestInvokeAsyncNilFuture(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.hook)

	out := InvokeAsync(d, "none", func() *Future[int] { return nil })
	assert.Nil(t, out)
	require.Len(t, rec.values, 1)
	assert.Nil(t, rec.values[0])
}

func TestInvokeAsyncPanicBeforeFuture(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.hook)

	assert.PanicsWithValue(t, "no future", func() {
		InvokeAsync(d, "broken", func() *Future[int] { panic("no future") })
	})
	require.Len(t, rec.errs, 1)
	var pe *PanicError
	require.ErrorAs(t, rec.errs[0], &pe)
	assert.Equal(t, "no future", pe.Value)
}

func TestPanicErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	d := NewDispatcher(func(Call) *Bundle {
		return &Bundle{OnError: func(err error) {
			assert.ErrorIs(t, err, cause)
		}}
	})
	assert.Panics(t, func() {
		_ = Exec(d, "op", func() error { panic(cause) })
	})
}

func TestCallMetadata(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := clockz.NewFakeClockAt(start)

	var calls []Call
	d := NewDispatcher(func(call Call) *Bundle {
		calls = append(calls, call)
		return nil
	}, WithClock(clock))

	for i := 0; i < 2; i++ {
		_, err := Invoke(d, "tick", func() (int, error) { return i, nil }, i)
		require.NoError(t, err)
	}

	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, start, call.Started)
		_, err := uuid.Parse(call.ID)
		assert.NoError(t, err, "call IDs are UUIDs")
	}
	assert.NotEqual(t, calls[0].ID, calls[1].ID)

	d = NewDispatcher(func(call Call) *Bundle {
		assert.Empty(t, call.ID)
		return nil
	}, WithIDs(false))
	require.NoError(t, Exec(d, "noid", func() error { return nil }))
}

func TestHookPanicPropagatesByDefault(t *testing.T) {
	d := NewDispatcher(func(Call) *Bundle {
		return &Bundle{OnSuccess: func(any) { panic("observer defect") }}
	})

	assert.PanicsWithValue(t, "observer defect", func() {
		_, _ = Invoke(d, "op", func() (int, error) { return 1, nil })
	})
}

func TestAsyncHookPanicRejectsFuture(t *testing.T) {
	d := NewDispatcher(func(Call) *Bundle {
		return &Bundle{OnSuccess: func(any) { panic("observer defect") }}
	})

	out := InvokeAsync(d, "op", func() *Future[int] { return Resolved(1) })
	_, err := out.Await(context.Background())

	var hp *HookPanicError
	require.ErrorAs(t, err, &hp)
	assert.Equal(t, "op", hp.Call)
	assert.Equal(t, "observer defect", hp.Value)
}

func TestHookIsolation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDispatcher(func(Call) *Bundle {
		return &Bundle{
			OnSuccess: func(any) { panic("success defect") },
			OnError:   func(error) { panic("error defect") },
		}
	}, WithHookIsolation(), WithLogger(logger))

	v, err := Invoke(d, "ok", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	boom := errors.New("boom")
	err = Exec(d, "fail", func() error { return boom })
	assert.Same(t, boom, err)

	v, err = InvokeAsync(d, "later", func() *Future[int] { return Resolved(2) }).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	out := buf.String()
	assert.Contains(t, out, "hook panicked")
	assert.Contains(t, out, "success defect")
	assert.Contains(t, out, "error defect")
}

func TestConcurrentCalls(t *testing.T) {
	var hooks, successes atomic.Int64
	acct := &account{}
	var mu sync.Mutex
	proxy, err := Wrap(map[string]any{
		"deposit": func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			acct.balance += n
			return acct.balance
		},
	}, func(Call) *Bundle {
		hooks.Add(1)
		return &Bundle{OnSuccess: func(any) { successes.Add(1) }}
	})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := proxy.Call("deposit", 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(50), hooks.Load())
	assert.Equal(t, int64(50), successes.Load())
	assert.Equal(t, 50, acct.balance)
}

func TestAsyncSettlementOnLoop(t *testing.T) {
	loop := NewLoop(LoopWorkers(1))

	var hooked atomic.Bool
	d := NewDispatcher(func(Call) *Bundle {
		return &Bundle{OnSuccess: func(any) { hooked.Store(true) }}
	}, WithScheduler(loop))

	src := NewFuture[string]()
	out := InvokeAsync(d, "remote", func() *Future[string] { return src })

	go src.Resolve("payload")

	v, err := out.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
	assert.True(t, hooked.Load())

	require.NoError(t, loop.Close())
	assert.Equal(t, int64(1), loop.Metrics().TasksProcessed)
}
