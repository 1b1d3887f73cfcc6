package notify

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/observability"
)

type job struct {
	recipientID string
	n           Notification
}

// Queue decouples notification delivery from the ride-transition path:
// Enqueue never blocks the caller, and failures are logged, never
// surfaced. A full queue drops the message.
type Queue struct {
	relay  Relay
	jobs   chan job
	logger *slog.Logger
}

func NewQueue(relay Relay, logger *slog.Logger, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{relay: relay, jobs: make(chan job, buffer), logger: logger}
}

// Start consumes the queue until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			if q.relay == nil {
				continue
			}
			if err := q.relay.Send(ctx, j.recipientID, j.n); err != nil {
				observability.NotificationsFailed.Inc()
				q.logger.Warn("notification delivery failed",
					"recipient", j.recipientID, "title", j.n.Title, "error", err)
			}
		}
	}
}

// Enqueue schedules a notification without blocking.
func (q *Queue) Enqueue(recipientID string, n Notification) {
	select {
	case q.jobs <- job{recipientID: recipientID, n: n}:
		observability.NotificationsEnqueued.Inc()
	default:
		observability.NotificationsDropped.Inc()
		q.logger.Warn("notification queue full, dropping", "recipient", recipientID, "title", n.Title)
	}
}
