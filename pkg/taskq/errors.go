package taskq

import "fmt"

// QueueClosedError is returned when posting to or waiting on a closed queue.
type QueueClosedError struct {
	QueueName string
}

func (e *QueueClosedError) Error() string {
	return fmt.Sprintf("task queue %s is closed", e.QueueName)
}

// QueueNotFoundError is returned when a registry lookup fails.
type QueueNotFoundError struct {
	QueueName string
}

func (e *QueueNotFoundError) Error() string {
	return fmt.Sprintf("task queue %s not found", e.QueueName)
}

// CloseFromWorkerError is returned when Close is invoked from the queue's own
// worker goroutine, which would deadlock the join.
type CloseFromWorkerError struct {
	QueueName string
}

func (e *CloseFromWorkerError) Error() string {
	return fmt.Sprintf("task queue %s cannot be closed from its own worker", e.QueueName)
}

// IsQueueClosedError returns true if the error is a QueueClosedError.
func IsQueueClosedError(err error) bool {
	_, ok := err.(*QueueClosedError)
	return ok
}

// IsQueueNotFoundError returns true if the error is a QueueNotFoundError.
func IsQueueNotFoundError(err error) bool {
	_, ok := err.(*QueueNotFoundError)
	return ok
}

// IsCloseFromWorkerError returns true if the error is a CloseFromWorkerError.
func IsCloseFromWorkerError(err error) bool {
	_, ok := err.(*CloseFromWorkerError)
	return ok
}
