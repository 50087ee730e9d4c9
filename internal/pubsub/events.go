// Package pubsub provides a generic, non-blocking publish/subscribe broker.
// It carries pipeline progress to the terminal UI and log lines to listeners.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogEvent carries one log entry.
	LogEvent EventType = "log"

	// FileCompletedEvent is published after a worker finished a file.
	FileCompletedEvent EventType = "file_completed"

	// FileFailedEvent is published after a worker gave up on a file.
	FileFailedEvent EventType = "file_failed"

	// RunFinishedEvent is published once, after all workers have exited.
	RunFinishedEvent EventType = "run_finished"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
