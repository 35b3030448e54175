package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Notification tells a set of roles that a document needs their attention.
type Notification struct {
	OrganizationID int64    `json:"organization_id"`
	Roles          []string `json:"roles"`
	Feature        string   `json:"feature"`
	DocumentPrefix string   `json:"document_prefix"`
	DocumentID     string   `json:"document_id"`
	HumanID        string   `json:"human_id"`
	Level          string   `json:"level,omitempty"`
	IsFinal        bool     `json:"is_final"`
}

// Notifier accepts notifications for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

var (
	// ErrQueueFull indicates the async dispatcher dropped a notification.
	ErrQueueFull = errors.New("notify: queue full")
	// ErrClosed indicates the dispatcher no longer accepts notifications.
	ErrClosed = errors.New("notify: dispatcher closed")
)

// Enqueuer hands a notification to a durable queue.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, n Notification) error
}

// QueueNotifier forwards notifications to a background job queue.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier wraps queue.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// Notify enqueues n.
func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	if q == nil || q.queue == nil {
		return errors.New("notify: queue not configured")
	}
	return q.queue.EnqueueNotification(ctx, n)
}

// LogNotifier writes notifications to the logger. Used when no queue is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("approval notification",
		slog.Int64("organization_id", n.OrganizationID),
		slog.String("document", n.HumanID),
		slog.String("level", n.Level),
		slog.Bool("final", n.IsFinal),
		slog.Any("roles", n.Roles))
	return nil
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// Notify records n.
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

// Sent returns the recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
