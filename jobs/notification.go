package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	jobmetrics "github.com/odyssey-erp/finops/internal/jobs"
	"github.com/odyssey-erp/finops/internal/notify"
)

// Message is a rendered notification for one role.
type Message struct {
	OrganizationID int64
	Role           string
	Subject        string
	Body           string
}

// Deliverer sends rendered messages to their recipients.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogDeliverer writes messages to the log. Used until a mail or chat transport is configured.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver logs msg.
func (d LogDeliverer) Deliver(_ context.Context, msg Message) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("approval notification",
		slog.Int64("organization_id", msg.OrganizationID),
		slog.String("role", msg.Role),
		slog.String("subject", msg.Subject))
	return nil
}

// NotificationJob renders queued approval notifications and delivers them per role.
type NotificationJob struct {
	Deliverer Deliverer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewNotificationJob constructs the job handler.
func NewNotificationJob(deliverer Deliverer, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationJob {
	return &NotificationJob{
		Deliverer: deliverer,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// Handle executes TaskApprovalNotify.
func (j *NotificationJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Deliverer == nil {
		return errors.New("approval notify: deliverer not configured")
	}
	var n notify.Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return fmt.Errorf("approval notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskApprovalNotify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	subject, body := j.Render(n)
	delivered := 0
	for _, role := range n.Roles {
		msg := Message{OrganizationID: n.OrganizationID, Role: role, Subject: subject, Body: body}
		if err := j.Deliverer.Deliver(ctx, msg); err != nil {
			resultErr = err
			j.log().Error("deliver notification", slog.String("role", role), slog.String("document", n.HumanID), slog.Any("error", err))
			return resultErr
		}
		delivered++
	}
	j.metrics().AddDelivered(n.Feature, n.IsFinal, delivered)
	return resultErr
}

// Render builds the subject and body of n.
func (j *NotificationJob) Render(n notify.Notification) (string, string) {
	// Casers keep state between calls and are not shared across handlers.
	title := cases.Title(language.English)
	feature := title.String(strings.ReplaceAll(n.Feature, "_", " "))
	if n.IsFinal {
		return fmt.Sprintf("%s %s approved", feature, n.HumanID),
			fmt.Sprintf("%s %s completed its approval chain at %s.", feature, n.HumanID, n.Level)
	}
	level := title.String(n.Level)
	return fmt.Sprintf("%s %s awaits %s", feature, n.HumanID, level),
		fmt.Sprintf("%s %s is waiting for %s approval.", feature, n.HumanID, n.Level)
}

func (j *NotificationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *NotificationJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskApprovalNotify))
	}
	return slog.Default().With(slog.String("job", TaskApprovalNotify))
}

var _ notify.Enqueuer = (*Client)(nil)
