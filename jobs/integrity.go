package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/finops/internal/costcenter"
	jobmetrics "github.com/odyssey-erp/finops/internal/jobs"
)

// CostCenterSource lists and loads cost centers with their lines.
type CostCenterSource interface {
	ListRefs(ctx context.Context) ([]costcenter.Ref, error)
	Get(ctx context.Context, orgID, id int64) (costcenter.Accumulator, error)
}

// CostCenterVerifyJob reports cost centers whose totals drifted from their lines.
type CostCenterVerifyJob struct {
	Source  CostCenterSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCostCenterVerifyJob constructs the job handler.
func NewCostCenterVerifyJob(source CostCenterSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *CostCenterVerifyJob {
	return &CostCenterVerifyJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes TaskCostCenterVerify.
func (j *CostCenterVerifyJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run verifies every cost center and returns the ones that drifted.
// Drift is reported, not repaired; the job only fails when a cost center cannot be read.
func (j *CostCenterVerifyJob) Run(ctx context.Context) ([]costcenter.Ref, error) {
	if j == nil || j.Source == nil {
		return nil, errors.New("cost center verify: source not configured")
	}
	tracker := j.metrics().Track(TaskCostCenterVerify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	refs, err := j.Source.ListRefs(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("list cost centers", slog.Any("error", err))
		return nil, resultErr
	}
	var drifted []costcenter.Ref
	for _, ref := range refs {
		acc, err := j.Source.Get(ctx, ref.OrganizationID, ref.ID)
		if err != nil {
			resultErr = err
			j.log().Error("load cost center", slog.Int64("cost_center_id", ref.ID), slog.Any("error", err))
			return drifted, resultErr
		}
		if err := acc.Verify(); err != nil {
			drifted = append(drifted, ref)
			j.log().Warn("cost center drift",
				slog.Int64("organization_id", ref.OrganizationID),
				slog.Int64("cost_center_id", ref.ID),
				slog.String("code", acc.Code),
				slog.Any("error", err))
		}
	}
	j.metrics().AddDrift(len(drifted))
	j.log().Info("verified cost centers", slog.Int("checked", len(refs)), slog.Int("drifted", len(drifted)), slog.Duration("duration", j.now().Sub(start)))
	return drifted, resultErr
}

func (j *CostCenterVerifyJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CostCenterVerifyJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCostCenterVerify))
	}
	return slog.Default().With(slog.String("job", TaskCostCenterVerify))
}

func (j *CostCenterVerifyJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *CostCenterVerifyJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
