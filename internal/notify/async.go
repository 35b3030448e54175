package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async decouples callers from delivery through a bounded buffer.
// Notify never blocks: when the buffer is full the notification is dropped.
type Async struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	queue   chan Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	onDrop  func(Notification)
}

// AsyncOption customises Async.
type AsyncOption func(*Async)

// WithDeliveryTimeout bounds each downstream delivery.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithDropHook is invoked for every dropped notification.
func WithDropHook(fn func(Notification)) AsyncOption {
	return func(a *Async) { a.onDrop = fn }
}

// NewAsync starts a dispatcher delivering to next.
func NewAsync(next Notifier, buffer int, logger *slog.Logger, opts ...AsyncOption) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{next: next, logger: logger, timeout: 5 * time.Second, queue: make(chan Notification, buffer)}
	for _, opt := range opts {
		opt(a)
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Notify queues n for delivery.
func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- n:
		return nil
	default:
		a.logger.Warn("notification dropped", slog.String("document", n.HumanID), slog.Any("error", ErrQueueFull))
		if a.onDrop != nil {
			a.onDrop(n)
		}
		return ErrQueueFull
	}
}

func (a *Async) loop() {
	defer a.wg.Done()
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Error("deliver notification", slog.String("document", n.HumanID), slog.Any("error", err))
		}
		cancel()
	}
}

// Close drains queued notifications and stops the dispatcher.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
