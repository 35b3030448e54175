package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/finops/internal/jobs"
	"github.com/odyssey-erp/finops/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries approval notifications.
	QueueNotifications = "notifications"
	// TaskApprovalNotify delivers one approval notification.
	TaskApprovalNotify = "approval:notify"
	// TaskCostCenterVerify checks cost center totals against their lines.
	TaskCostCenterVerify = "costcenter:verify"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// NewNotificationTask constructs an Asynq task for n.
func NewNotificationTask(n notify.Notification) (*asynq.Task, error) {
	if n.DocumentID == "" || len(n.Roles) == 0 {
		return nil, errors.New("jobs: notification requires document and roles")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalNotify, data, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// NewCostCenterVerifyTask constructs the periodic integrity task.
func NewCostCenterVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskCostCenterVerify, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}
