package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/finops/internal/notify"
)

// FeatureResolver resolves the chain of a feature within an organization.
type FeatureResolver interface {
	Feature(ctx context.Context, orgID int64, feature string) (FeatureConfig, error)
}

// Engine decides the next required level for documents and who must act on it.
type Engine struct {
	configs  FeatureResolver
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an Engine. A nil notifier disables notifications.
func NewEngine(configs FeatureResolver, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{configs: configs, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock used to stamp trails.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// FeatureConfig resolves the chain for feature. Lookup failures are logged and
// treated as approval disabled so financial operations are never blocked.
func (e *Engine) FeatureConfig(ctx context.Context, feature string, orgID int64) FeatureConfig {
	if e.configs == nil {
		return FeatureConfig{Feature: feature}
	}
	cfg, err := e.configs.Feature(ctx, orgID, feature)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrConfigurationMissing) {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "approval configuration unavailable",
			slog.String("feature", feature), slog.Int64("organization_id", orgID), slog.Any("error", err))
		return FeatureConfig{Feature: feature}
	}
	return cfg
}

// ComputeInitialApproval returns the state a new document starts in.
func (e *Engine) ComputeInitialApproval(ctx context.Context, feature string, orgID int64) State {
	return ResolveInitialState(e.FeatureConfig(ctx, feature, orgID))
}

// AuthorizedNotifiees returns the roles to notify when target is the next level.
func (e *Engine) AuthorizedNotifiees(ctx context.Context, feature string, orgID int64, target State) []string {
	return e.FeatureConfig(ctx, feature, orgID).Roles(target)
}

// FinalNotifiees returns the roles told that a chain completed.
func (e *Engine) FinalNotifiees(ctx context.Context, feature string, orgID int64) []string {
	return append([]string(nil), e.FeatureConfig(ctx, feature, orgID).FinalRoles...)
}

// AdvanceInput describes an actor's request to move a document.
type AdvanceInput struct {
	Feature        string
	OrganizationID int64
	Trail          Trail
	ActorID        int64
	Target         State
	Comment        string
	// Posted reports whether the document currently carries ledger effects.
	Posted bool
}

// Outcome is the result of an approval transition.
type Outcome struct {
	Previous      State
	NewState      State
	Trail         Trail
	NextLevel     State
	NextApprovers []string
	IsFinal       bool
	// Commit is set when the document must be posted.
	Commit bool
	// Release is set when a posted document leaves its final state and must be reversed.
	Release bool
}

// Advance validates and applies the transition to in.Target.
func (e *Engine) Advance(ctx context.Context, in AdvanceInput) (Outcome, error) {
	cfg := e.FeatureConfig(ctx, in.Feature, in.OrganizationID)
	return e.advance(ctx, cfg, in)
}

// AdvanceWith applies the transition with an already resolved chain.
func (e *Engine) AdvanceWith(ctx context.Context, cfg FeatureConfig, in AdvanceInput) (Outcome, error) {
	return e.advance(ctx, cfg, in)
}

func (e *Engine) advance(ctx context.Context, cfg FeatureConfig, in AdvanceInput) (Outcome, error) {
	previous := in.Trail.State
	if err := checkTransition(ctx, previous, in.Target, cfg); err != nil {
		return Outcome{}, err
	}
	trail := in.Trail
	switch in.Target {
	case StateRejected:
		trail.State = StateRejected
		trail.Comment = in.Comment
	case StateCorrection:
		trail.ClearActorFields()
		trail.State = StateCorrection
		trail.Comment = in.Comment
	default:
		trail.Stamp(in.Target, in.ActorID, e.now().UTC())
		if in.Comment != "" {
			trail.Comment = in.Comment
		}
	}

	out := Outcome{Previous: previous, NewState: trail.State, Trail: trail}
	if in.Target.IsLevel() {
		if next, ok := NextLevel(in.Target, cfg); ok {
			out.NextLevel = next
			out.NextApprovers = cfg.Roles(next)
		} else {
			out.IsFinal = true
			out.Commit = true
			out.NextApprovers = append([]string(nil), cfg.FinalRoles...)
		}
	}
	// Posting is decided by the chain in force when it happened, so a posted
	// document is released on any move that is not a final sign-off.
	out.Release = in.Posted && !out.Commit
	return out, nil
}

// DocumentRef identifies the document a notification is about.
type DocumentRef struct {
	OrganizationID int64
	Feature        string
	Prefix         string
	DocumentID     string
	HumanID        string
}

// Notify hands the outcome's approvers to the notifier. Failures are logged only.
func (e *Engine) Notify(ctx context.Context, ref DocumentRef, out Outcome) {
	if e.notifier == nil || len(out.NextApprovers) == 0 {
		return
	}
	level := out.NextLevel
	if out.IsFinal {
		level = out.NewState
	}
	n := notify.Notification{
		OrganizationID: ref.OrganizationID,
		Roles:          out.NextApprovers,
		Feature:        ref.Feature,
		DocumentPrefix: ref.Prefix,
		DocumentID:     ref.DocumentID,
		HumanID:        ref.HumanID,
		Level:          string(level),
		IsFinal:        out.IsFinal,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("approval notify", slog.String("document", ref.HumanID), slog.Any("error", err))
	}
}
