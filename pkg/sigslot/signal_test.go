package sigslot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigflow/sigflow/pkg/taskq"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newWorker(t *testing.T) *taskq.TaskQueue {
	t.Helper()
	q, err := taskq.New("worker")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func TestDirectEmission(t *testing.T) {
	s := New[int]("test.direct")

	var count, last int
	conn, err := s.Connect(func(v int) {
		count++
		last = v
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Disconnect()

	if err := s.Emit(context.Background(), 5); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if err := s.Emit(context.Background(), 6); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	// Direct slots run inline, so both invocations are visible immediately.
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if last != 6 {
		t.Errorf("last = %d, want 6", last)
	}
}

func TestQueuedEmission_RunsOnWorker(t *testing.T) {
	q := newWorker(t)
	s := New[string]("test.queued")

	var mu sync.Mutex
	var gotValue string
	var onWorker bool

	_, err := s.ConnectCtx(func(ctx context.Context, v string) {
		mu.Lock()
		gotValue = v
		onWorker = q.IsCurrent(ctx)
		mu.Unlock()
	}, sigslotQueued(q)...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.Emit(context.Background(), "x"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotValue == "x"
	}, 2*time.Second, "queued slot did not run")

	mu.Lock()
	defer mu.Unlock()
	if !onWorker {
		t.Error("queued slot did not run on the worker goroutine")
	}
}

func sigslotQueued(q *taskq.TaskQueue) []ConnectOption {
	return []ConnectOption{WithType(QueuedConnection), WithQueue(q)}
}

func TestBlockingQueuedEmission_Synchrony(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.blocking")

	const slotDelay = 100 * time.Millisecond
	var completed atomic.Bool

	_, err := s.Connect(func(v int) {
		time.Sleep(slotDelay)
		completed.Store(true)
	}, WithType(BlockingQueuedConnection), WithQueue(q))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	start := time.Now()
	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < slotDelay {
		t.Errorf("Emit returned after %v, want >= %v", elapsed, slotDelay)
	}
	if !completed.Load() {
		t.Error("slot not completed when Emit returned")
	}
}

func TestAutoDelivery_Switching(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.auto")

	var mu sync.Mutex
	var runs []bool // true = ran on worker

	_, err := s.ConnectCtx(func(ctx context.Context, v int) {
		mu.Lock()
		runs = append(runs, q.IsCurrent(ctx))
		mu.Unlock()
	}, WithType(AutoConnection), WithQueue(q))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Emitted off-queue: auto resolves to queued, the slot runs on the worker.
	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	}, 2*time.Second, "auto slot did not run")

	mu.Lock()
	if !runs[0] {
		t.Error("off-queue emission did not run on the worker")
	}
	mu.Unlock()

	// Emitted from the worker itself: auto resolves to direct, the slot runs
	// inline before the posting task returns.
	var inline atomic.Bool
	q.PostFunc(func(ctx context.Context) {
		_ = s.Emit(ctx, 2)
		mu.Lock()
		inline.Store(len(runs) == 2)
		mu.Unlock()
	})

	eventually(t, inline.Load, 2*time.Second, "on-queue emission was not inline")

	mu.Lock()
	defer mu.Unlock()
	if !runs[1] {
		t.Error("on-queue emission did not run on the worker goroutine")
	}
}

func TestAutoDelivery_NoQueueIsDirect(t *testing.T) {
	s := New[int]("test.auto.noqueue")

	var count int
	_, err := s.Connect(func(v int) { count++ }, WithType(AutoConnection))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (inline)", count)
	}
}

func TestUniqueConnection_Deduplicates(t *testing.T) {
	s := New[int]("test.unique")

	var count atomic.Int32
	slot := func(v int) { count.Add(1) }

	first, err := s.Connect(slot, WithType(UniqueConnection))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Connect(slot, WithType(UniqueConnection))
	if err != nil {
		t.Fatal(err)
	}

	if first.ID() != second.ID() {
		t.Error("duplicate unique connect returned a new record")
	}

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestUniqueConnection_EitherSideCarriesFlag(t *testing.T) {
	s := New[int]("test.unique.either")

	var count atomic.Int32
	slot := func(v int) { count.Add(1) }

	if _, err := s.Connect(slot, WithType(UniqueConnection)); err != nil {
		t.Fatal(err)
	}
	// The existing record carries Unique; a plain connect with the same
	// identity must not create a second record.
	if _, err := s.Connect(slot); err != nil {
		t.Fatal(err)
	}

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := count.Load(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestUniqueSingleShotQueuedCombo(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.combo")

	var count atomic.Int32
	slot := func(v int) { count.Add(1) }

	opts := []ConnectOption{
		WithType(QueuedConnection | UniqueConnection | SingleShotConnection),
		WithQueue(q),
	}
	if _, err := s.Connect(slot, opts...); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(slot, opts...); err != nil {
		t.Fatal(err)
	}

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	// Unique collapsed the two connects, SingleShot ran the slot once.
	eventually(t, func() bool { return count.Load() >= 1 }, 2*time.Second, "slot never ran")
	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestSingleShot_Direct(t *testing.T) {
	s := New[int]("test.singleshot")

	var count, last int
	_, err := s.Connect(func(v int) {
		count++
		last = v
	}, WithType(SingleShotConnection))
	if err != nil {
		t.Fatal(err)
	}

	s.Emit(context.Background(), 1)
	s.Emit(context.Background(), 2)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if last != 1 {
		t.Errorf("last = %d, want 1", last)
	}
}

func TestDisconnectDuringEmission(t *testing.T) {
	s := New[int]("test.disconnect.during")

	var aRuns, bRuns int
	var connB Connection

	_, err := s.Connect(func(v int) {
		aRuns++
		connB.Disconnect()
	})
	if err != nil {
		t.Fatal(err)
	}
	connB, err = s.Connect(func(v int) { bRuns++ })
	if err != nil {
		t.Fatal(err)
	}

	s.Emit(context.Background(), 1)

	// B was disconnected by A before the snapshot reached it; the alive
	// re-check skips it in this emission.
	if aRuns != 1 {
		t.Errorf("aRuns = %d, want 1", aRuns)
	}
	if bRuns != 0 {
		t.Errorf("bRuns = %d, want 0", bRuns)
	}

	s.Emit(context.Background(), 2)
	if aRuns != 2 {
		t.Errorf("aRuns = %d, want 2", aRuns)
	}
	if bRuns != 0 {
		t.Errorf("bRuns = %d after second emission, want 0", bRuns)
	}
}

func TestDisconnectReceiver(t *testing.T) {
	s := New[int]("test.disconnect.receiver")

	type receiver struct{ count int }
	r1 := &receiver{}
	r2 := &receiver{}

	if _, err := s.ConnectTo(r1, func(v int) { r1.count++ }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConnectTo(r1, func(v int) { r1.count++ }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConnectTo(r2, func(v int) { r2.count++ }); err != nil {
		t.Fatal(err)
	}

	s.Disconnect(r1)
	s.Emit(context.Background(), 1)

	if r1.count != 0 {
		t.Errorf("r1.count = %d, want 0 (all r1 connections removed)", r1.count)
	}
	if r2.count != 1 {
		t.Errorf("r2.count = %d, want 1", r2.count)
	}
}

func TestDisconnectFunc(t *testing.T) {
	s := New[int]("test.disconnect.func")

	var a, b int
	slotA := func(v int) { a++ }
	slotB := func(v int) { b++ }

	if _, err := s.Connect(slotA); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(slotB); err != nil {
		t.Fatal(err)
	}

	s.DisconnectFunc(nil, slotA)
	s.Emit(context.Background(), 1)

	if a != 0 {
		t.Errorf("a = %d, want 0", a)
	}
	if b != 1 {
		t.Errorf("b = %d, want 1", b)
	}
}

func TestDisconnectAll(t *testing.T) {
	s := New[int]("test.disconnect.all")

	var count int
	for i := 0; i < 3; i++ {
		// Distinct closures, same body: connect without Unique so all three
		// records are live.
		if _, err := s.Connect(func(v int) { count++ }); err != nil {
			t.Fatal(err)
		}
	}

	s.Emit(context.Background(), 1)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	s.DisconnectAll()
	s.Emit(context.Background(), 2)
	if count != 3 {
		t.Errorf("count = %d after DisconnectAll, want 3", count)
	}
}

func TestQueuedTask_ObservesDisconnect(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.inflight")

	var invoked atomic.Bool
	conn, err := s.Connect(func(v int) { invoked.Store(true) }, sigslotQueued(q)...)
	if err != nil {
		t.Fatal(err)
	}

	// Hold the worker so the queued invocation stays in flight.
	release := make(chan struct{})
	q.PostFunc(func(ctx context.Context) { <-release })

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	conn.Disconnect()
	close(release)

	time.Sleep(100 * time.Millisecond)
	if invoked.Load() {
		t.Error("in-flight task invoked a disconnected slot")
	}
}

func TestBlocked_ObservedInFlight(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.inflight.blocked")

	var invoked atomic.Bool
	conn, err := s.Connect(func(v int) { invoked.Store(true) }, sigslotQueued(q)...)
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	q.PostFunc(func(ctx context.Context) { <-release })

	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	conn.Block()
	close(release)

	time.Sleep(100 * time.Millisecond)
	if invoked.Load() {
		t.Error("in-flight task invoked a blocked slot")
	}
}

func TestWouldDeadlock(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.deadlock")

	var invoked atomic.Bool
	_, err := s.Connect(func(v int) { invoked.Store(true) },
		WithType(BlockingQueuedConnection), WithQueue(q))
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	q.PostFunc(func(ctx context.Context) {
		errCh <- s.Emit(ctx, 1)
	})

	select {
	case err := <-errCh:
		var wd *WouldDeadlockError
		if !errors.As(err, &wd) {
			t.Errorf("Emit error = %v, want WouldDeadlockError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking emission from own worker deadlocked")
	}

	if invoked.Load() {
		t.Error("deadlocking slot was invoked")
	}
}

func TestBlockingEmission_QueueClosed(t *testing.T) {
	q, err := taskq.New("closing")
	if err != nil {
		t.Fatal(err)
	}

	s := New[int]("test.blocking.closed")
	if _, err := s.Connect(func(v int) {},
		WithType(BlockingQueuedConnection), WithQueue(q)); err != nil {
		t.Fatal(err)
	}

	if err := q.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	err = s.Emit(context.Background(), 1)
	if err == nil {
		t.Fatal("Emit against closed queue succeeded")
	}
	var qc *taskq.QueueClosedError
	if !errors.As(err, &qc) {
		t.Errorf("Emit error = %v, want wrapped QueueClosedError", err)
	}
}

func TestEmit_ErrorSkipsOnlyAffectedSlot(t *testing.T) {
	q, err := taskq.New("closed-target")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := New[int]("test.partial")

	var directRan bool
	if _, err := s.Connect(func(v int) {}, sigslotQueued(q)...); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(func(v int) { directRan = true }); err != nil {
		t.Fatal(err)
	}

	if err := s.Emit(context.Background(), 1); err == nil {
		t.Error("expected posting error from closed queue")
	}
	if !directRan {
		t.Error("healthy slot skipped because another slot failed")
	}
}

func TestEmissionOrder_InsertionOrder(t *testing.T) {
	s := New[int]("test.order")

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if _, err := s.Connect(func(v int) { got = append(got, i) }); err != nil {
			t.Fatal(err)
		}
	}

	s.Emit(context.Background(), 1)

	for i, v := range got {
		if v != i {
			t.Fatalf("invocation order %v, want insertion order", got)
		}
	}
}

func TestConcurrentQueuedEmissions_AllDelivered(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.threadsafety")

	var count atomic.Int32
	if _, err := s.Connect(func(v int) { count.Add(1) }, sigslotQueued(q)...); err != nil {
		t.Fatal(err)
	}

	const emitters = 10
	const perEmitter = 100

	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perEmitter; j++ {
				if err := s.Emit(context.Background(), j); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	eventually(t, func() bool {
		return count.Load() == emitters*perEmitter
	}, 5*time.Second, "not all queued invocations were delivered")
}

func TestEmit_NilContext(t *testing.T) {
	s := New[int]("test.nilctx")

	var count int
	if _, err := s.Connect(func(v int) { count++ }); err != nil {
		t.Fatal(err)
	}

	var nilCtx context.Context
	if err := s.Emit(nilCtx, 1); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestConnect_Validation(t *testing.T) {
	q := newWorker(t)
	s := New[int]("test.validation")

	tests := []struct {
		name string
		opts []ConnectOption
	}{
		{
			name: "multiple delivery modes",
			opts: []ConnectOption{WithType(DirectConnection | QueuedConnection)},
		},
		{
			name: "queued without queue",
			opts: []ConnectOption{WithType(QueuedConnection)},
		},
		{
			name: "blocking queued without queue",
			opts: []ConnectOption{WithType(BlockingQueuedConnection)},
		},
		{
			name: "all delivery modes",
			opts: []ConnectOption{WithType(deliveryMask), WithQueue(q)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Connect(func(v int) {}, tt.opts...)
			if !IsInvalidPolicyError(err) {
				t.Errorf("Connect() error = %v, want InvalidPolicyError", err)
			}
		})
	}

	if _, err := s.Connect(nil); err == nil {
		t.Error("Connect(nil) succeeded")
	}
}

func TestMultiArgPayload(t *testing.T) {
	type loginEvent struct {
		User string
		Code int
	}

	s := New[loginEvent]("test.multiarg")

	var got loginEvent
	if _, err := s.Connect(func(e loginEvent) { got = e }); err != nil {
		t.Fatal(err)
	}

	s.Emit(context.Background(), loginEvent{User: "ada", Code: 7})

	if got.User != "ada" || got.Code != 7 {
		t.Errorf("got = %+v", got)
	}
}
