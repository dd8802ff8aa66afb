package sigslot

import "fmt"

// InvalidPolicyError is returned at connect time when the connection type
// bitset is malformed or a queued delivery mode lacks a task queue.
type InvalidPolicyError struct {
	Type   ConnectionType
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid connection policy %s: %s", e.Type, e.Reason)
}

// WouldDeadlockError is surfaced at emit time when a BlockingQueued
// connection is emitted from its own target queue's worker. The slot is
// skipped; waiting for it would never complete.
type WouldDeadlockError struct {
	Signal string
	Queue  string
}

func (e *WouldDeadlockError) Error() string {
	return fmt.Sprintf("blocking queued emission of signal %s from queue %s's own worker would deadlock", e.Signal, e.Queue)
}

// IsInvalidPolicyError returns true if the error is an InvalidPolicyError.
func IsInvalidPolicyError(err error) bool {
	_, ok := err.(*InvalidPolicyError)
	return ok
}

// IsWouldDeadlockError returns true if the error is a WouldDeadlockError.
func IsWouldDeadlockError(err error) bool {
	_, ok := err.(*WouldDeadlockError)
	return ok
}
