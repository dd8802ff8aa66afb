package sigslot

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// connState is the shared control block of one connection record. Handles
// and in-flight queued tasks reference it instead of the signal, so both
// stay valid after the record is removed.
type connState struct {
	id       uuid.UUID
	alive    atomic.Bool
	blocked  atomic.Bool
	consumed atomic.Bool

	// detach unlinks the record from its signal. Set once at connect time,
	// before the state escapes the signal's lock.
	detach func()
}

func newConnState() *connState {
	st := &connState{id: uuid.New()}
	st.alive.Store(true)
	return st
}

// disconnect clears alive before unlinking so in-flight queued tasks observe
// the removal no matter when they run.
func (st *connState) disconnect() {
	if st.alive.CompareAndSwap(true, false) {
		if st.detach != nil {
			st.detach()
		}
	}
}

// Connection is a value-typed handle to one signal-to-slot connection. The
// zero Connection is not connected. All methods are safe to call
// concurrently with emission.
type Connection struct {
	state *connState
}

// ID returns the connection's unique identifier, or "" for the zero handle.
func (c Connection) ID() string {
	if c.state == nil {
		return ""
	}
	return c.state.id.String()
}

// Disconnect removes the connection from its signal. It is idempotent;
// disconnecting an already-dead connection is a no-op.
func (c Connection) Disconnect() {
	if c.state != nil {
		c.state.disconnect()
	}
}

// Block suppresses invocation without removing the connection. The record
// keeps its position in the signal's dispatch order.
func (c Connection) Block() {
	if c.state != nil {
		c.state.blocked.Store(true)
	}
}

// Unblock re-enables invocation.
func (c Connection) Unblock() {
	if c.state != nil {
		c.state.blocked.Store(false)
	}
}

// IsConnected reports whether the connection is still alive in its signal.
func (c Connection) IsConnected() bool {
	return c.state != nil && c.state.alive.Load()
}

// ScopedConnection owns a Connection and disconnects it on Close. It is
// move-only: the contained mutex makes go vet report copies, transfer happens
// through Release.
type ScopedConnection struct {
	mu       sync.Mutex
	conn     Connection
	released bool
}

// NewScoped wraps a Connection in a ScopedConnection.
func NewScoped(conn Connection) *ScopedConnection {
	return &ScopedConnection{conn: conn}
}

// Close disconnects the owned connection. Safe to call more than once.
func (sc *ScopedConnection) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.released {
		sc.conn.Disconnect()
		sc.released = true
	}
	return nil
}

// Release transfers ownership of the connection to the caller; Close becomes
// a no-op afterwards.
func (sc *ScopedConnection) Release() Connection {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.released = true
	return sc.conn
}

// Connection returns the owned handle without transferring ownership.
func (sc *ScopedConnection) Connection() Connection {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn
}
