// Package sigslot provides typed signal/slot dispatch with per-connection
// delivery policies.
//
// A Signal[T] decouples producers of events from their handlers. Each
// connection carries a delivery mode deciding where the slot runs: inline on
// the emitting goroutine (Direct), on a task queue's worker (Queued),
// synchronously across goroutines (BlockingQueued), or resolved at emit time
// (Auto). Multi-argument signals use struct payloads.
//
// Basic usage:
//
//	temperature := sigslot.New[float64]("sensor.temperature")
//
//	conn, err := temperature.Connect(func(v float64) {
//	    fmt.Println("reading:", v)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Disconnect()
//
//	temperature.Emit(context.Background(), 21.5)
package sigslot

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigflow/sigflow/pkg/taskq"
)

// identity is the equality tag of a connection: the receiver (nil for free
// functions) plus the callable's code pointer. Method values bound to
// different receivers share a code pointer, so the pair distinguishes them.
// Two closures instantiated from the same function body also share a code
// pointer and therefore compare equal: with the same receiver, Unique treats
// them as one connection.
type identity struct {
	receiver any
	fnPtr    uintptr
}

// conn is one connection record: an immutable invoker plus the shared
// mutable control block.
type conn[T any] struct {
	state   *connState
	invoker func(ctx context.Context, v T)
	ctype   ConnectionType
	queue   *taskq.TaskQueue
	id      identity
}

// Signal is a typed multi-subscriber dispatch point. The zero value is not
// usable; create signals with New.
type Signal[T any] struct {
	name string

	// mu guards conns. It is held only for list mutation and snapshot
	// creation, never while a slot runs.
	mu    sync.Mutex
	conns []*conn[T]

	pool sync.Pool
}

// New creates a named signal. The name labels log entries, metrics and
// trace spans.
func New[T any](name string) *Signal[T] {
	s := &Signal[T]{name: name}
	s.pool.New = func() any { return &queuedInvocation[T]{pool: &s.pool} }
	return s
}

// Name returns the signal's label.
func (s *Signal[T]) Name() string {
	return s.name
}

type connectConfig struct {
	ctype ConnectionType
	queue *taskq.TaskQueue
}

// ConnectOption configures a connection at connect time.
type ConnectOption func(*connectConfig)

// WithType sets the connection type bitset.
func WithType(t ConnectionType) ConnectOption {
	return func(c *connectConfig) {
		c.ctype = t
	}
}

// WithQueue sets the target task queue. Required for Queued and
// BlockingQueued delivery; optional for Auto; ignored for Direct.
func WithQueue(q *taskq.TaskQueue) ConnectOption {
	return func(c *connectConfig) {
		c.queue = q
	}
}

// Connect registers a slot for a free function or closure.
func (s *Signal[T]) Connect(fn func(v T), opts ...ConnectOption) (Connection, error) {
	if fn == nil {
		return Connection{}, fmt.Errorf("slot cannot be nil")
	}
	return s.connect(nil, callablePointer(fn), func(_ context.Context, v T) { fn(v) }, opts)
}

// ConnectCtx registers a slot that receives the delivery context. For queued
// delivery the context identifies the worker's queue, so emissions from
// inside the slot resolve Auto connections correctly.
func (s *Signal[T]) ConnectCtx(fn func(ctx context.Context, v T), opts ...ConnectOption) (Connection, error) {
	if fn == nil {
		return Connection{}, fmt.Errorf("slot cannot be nil")
	}
	return s.connect(nil, callablePointer(fn), fn, opts)
}

// ConnectTo registers a slot bound to a receiver, typically a method value.
// The (receiver, callable) pair forms the connection's identity for Unique
// deduplication and receiver-based disconnect.
func (s *Signal[T]) ConnectTo(receiver any, fn func(v T), opts ...ConnectOption) (Connection, error) {
	if fn == nil {
		return Connection{}, fmt.Errorf("slot cannot be nil")
	}
	if receiver == nil {
		return Connection{}, fmt.Errorf("receiver cannot be nil")
	}
	return s.connect(receiver, callablePointer(fn), func(_ context.Context, v T) { fn(v) }, opts)
}

func callablePointer(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

func (s *Signal[T]) connect(receiver any, fnPtr uintptr, invoker func(ctx context.Context, v T), opts []ConnectOption) (Connection, error) {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctype, err := normalizeType(cfg.ctype, cfg.queue != nil)
	if err != nil {
		return Connection{}, err
	}

	ident := identity{receiver: receiver, fnPtr: fnPtr}

	s.mu.Lock()
	// Uniqueness holds when either side carries the flag: at most one live
	// record per identity.
	for _, c := range s.conns {
		if c.id == ident && c.state.alive.Load() &&
			(ctype.Has(UniqueConnection) || c.ctype.Has(UniqueConnection)) {
			s.mu.Unlock()
			return Connection{state: c.state}, nil
		}
	}

	st := newConnState()
	st.detach = func() { s.remove(st) }
	s.conns = append(s.conns, &conn[T]{
		state:   st,
		invoker: invoker,
		ctype:   ctype,
		queue:   cfg.queue,
		id:      ident,
	})
	s.mu.Unlock()

	metricsRecorder().RecordConnect(s.name)
	return Connection{state: st}, nil
}

// remove unlinks the record owning st from the list. The alive flag has
// already been cleared by the caller.
func (s *Signal[T]) remove(st *connState) {
	s.mu.Lock()
	for i, c := range s.conns {
		if c.state == st {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	metricsRecorder().RecordDisconnect(s.name)
}

// Disconnect removes every connection whose receiver equals the argument.
func (s *Signal[T]) Disconnect(receiver any) {
	s.removeMatching(func(c *conn[T]) bool {
		return c.id.receiver == receiver
	})
}

// DisconnectFunc removes the single connection matching both receiver and
// callable. Pass a nil receiver for free-function connections.
func (s *Signal[T]) DisconnectFunc(receiver any, fn func(v T)) {
	if fn == nil {
		return
	}
	ident := identity{receiver: receiver, fnPtr: callablePointer(fn)}
	s.removeMatching(func(c *conn[T]) bool {
		return c.id == ident
	})
}

// DisconnectAll removes every connection. A Direct slot already running is
// not interrupted; queued tasks still in flight observe the dead records and
// skip invocation.
func (s *Signal[T]) DisconnectAll() {
	s.removeMatching(func(c *conn[T]) bool { return true })
}

func (s *Signal[T]) removeMatching(match func(c *conn[T]) bool) {
	var removed int

	s.mu.Lock()
	kept := s.conns[:0]
	for _, c := range s.conns {
		if match(c) {
			c.state.alive.Store(false)
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	s.mu.Unlock()

	rec := metricsRecorder()
	for i := 0; i < removed; i++ {
		rec.RecordDisconnect(s.name)
	}
}

// Emit invokes all live, non-blocked, non-consumed connections in insertion
// order. Direct slots run inline before Emit returns; queued slots run on
// their queue's worker; blocking-queued slots run on the worker while the
// emitter waits. Dispatch happens on a snapshot taken under the signal's
// lock, so slots may freely connect, disconnect or emit other signals.
//
// Emit returns the joined emit-time errors: WouldDeadlockError for a
// BlockingQueued connection emitted from its own queue's worker, and queue
// posting failures. Affected slots are skipped; the remaining slots still
// run.
func (s *Signal[T]) Emit(ctx context.Context, v T) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	snapshot := make([]*conn[T], len(s.conns))
	copy(snapshot, s.conns)
	s.mu.Unlock()

	rec := metricsRecorder()
	rec.RecordEmit(s.name)

	ctx, span := runtimeTracer().Start(ctx, spanSignalEmit, trace.WithAttributes(
		attribute.String("signal", s.name),
		attribute.Int("connections", len(snapshot)),
	))
	defer span.End()

	var errs []error
	for _, c := range snapshot {
		st := c.state

		// The alive flag is consulted again here so disconnections during
		// this emission are honoured for records not yet reached.
		if !st.alive.Load() {
			continue
		}
		if st.blocked.Load() {
			rec.RecordSlotSkipped(s.name, "blocked")
			continue
		}

		// SingleShot is claimed by CAS before dispatch so concurrent
		// emitters cannot both run the slot. The claim is rolled back when
		// dispatch does not happen.
		if c.ctype.Has(SingleShotConnection) {
			if !st.consumed.CompareAndSwap(false, true) {
				rec.RecordSlotSkipped(s.name, "consumed")
				continue
			}
		} else if st.consumed.Load() {
			rec.RecordSlotSkipped(s.name, "consumed")
			continue
		}

		switch s.resolveMode(ctx, c) {
		case DirectConnection:
			s.invokeDirect(ctx, c, v)
			rec.RecordSlotInvoked(s.name, "direct")

		case QueuedConnection:
			if err := c.queue.Post(s.newInvocation(c, v, nil)); err != nil {
				s.rollbackSingleShot(c)
				rec.RecordSlotSkipped(s.name, "queue_closed")
				errs = append(errs, fmt.Errorf("signal %s: %w", s.name, err))
				continue
			}
			rec.RecordSlotInvoked(s.name, "queued")

		case BlockingQueuedConnection:
			if c.queue.IsCurrent(ctx) {
				s.rollbackSingleShot(c)
				rec.RecordSlotSkipped(s.name, "would_deadlock")
				errs = append(errs, &WouldDeadlockError{Signal: s.name, Queue: c.queue.Name()})
				continue
			}

			done := make(chan struct{})
			if err := c.queue.Post(s.newInvocation(c, v, done)); err != nil {
				s.rollbackSingleShot(c)
				rec.RecordSlotSkipped(s.name, "queue_closed")
				errs = append(errs, fmt.Errorf("signal %s: %w", s.name, err))
				continue
			}

			select {
			case <-done:
				rec.RecordSlotInvoked(s.name, "blocking_queued")
			case <-c.queue.Done():
				// The queue shut down without draining; unblock with an
				// error instead of waiting forever.
				rec.RecordSlotSkipped(s.name, "queue_closed")
				errs = append(errs, fmt.Errorf("signal %s: blocking emission abandoned: %w",
					s.name, &taskq.QueueClosedError{QueueName: c.queue.Name()}))
			}
		}
	}

	return errors.Join(errs...)
}

// resolveMode computes the effective delivery mode for one record.
func (s *Signal[T]) resolveMode(ctx context.Context, c *conn[T]) ConnectionType {
	mode := c.ctype.delivery()
	if mode != AutoConnection {
		return mode
	}
	if c.queue == nil || c.queue.IsCurrent(ctx) {
		return DirectConnection
	}
	return QueuedConnection
}

// invokeDirect runs the slot inline. A panicking slot propagates to the
// emitter's frame; the span still closes.
func (s *Signal[T]) invokeDirect(ctx context.Context, c *conn[T], v T) {
	ctx, span := runtimeTracer().Start(ctx, spanSlotInvoke, trace.WithAttributes(
		attribute.String("signal", s.name),
		attribute.String("mode", "direct"),
	))
	defer span.End()

	c.invoker(ctx, v)
}

func (s *Signal[T]) rollbackSingleShot(c *conn[T]) {
	if c.ctype.Has(SingleShotConnection) {
		c.state.consumed.Store(false)
	}
}

func (s *Signal[T]) newInvocation(c *conn[T], v T, done chan struct{}) *queuedInvocation[T] {
	t := s.pool.Get().(*queuedInvocation[T])
	t.signal = s.name
	t.state = c.state
	t.invoker = c.invoker
	t.arg = v
	t.done = done
	return t
}

// queuedInvocation carries a value-copied argument and the connection's
// control block across the queue boundary. It holds the control block, never
// the signal, so signal destruction with tasks still in flight is safe.
type queuedInvocation[T any] struct {
	pool    *sync.Pool
	signal  string
	state   *connState
	invoker func(ctx context.Context, v T)
	arg     T
	done    chan struct{}
}

// Run implements taskq.Task. Alive and blocked are re-checked at execution
// time; a record disconnected or blocked while the task was in flight is
// skipped. Consumed is not re-checked: for SingleShot records the emitter's
// CAS claim is the permission to run exactly this invocation.
func (t *queuedInvocation[T]) Run(ctx context.Context) bool {
	if t.done != nil {
		defer close(t.done)
	}

	if !t.state.alive.Load() {
		metricsRecorder().RecordSlotSkipped(t.signal, "disconnected")
		return true
	}
	if t.state.blocked.Load() {
		metricsRecorder().RecordSlotSkipped(t.signal, "blocked")
		return true
	}

	ctx, span := runtimeTracer().Start(ctx, spanSlotInvoke, trace.WithAttributes(
		attribute.String("signal", t.signal),
		attribute.String("mode", "queued"),
	))
	defer span.End()

	t.invoker(ctx, t.arg)
	return true
}

// Recycle implements taskq.Recycler.
func (t *queuedInvocation[T]) Recycle() {
	var zero T
	t.signal = ""
	t.state = nil
	t.invoker = nil
	t.arg = zero
	t.done = nil
	t.pool.Put(t)
}
