package approval

import (
	"errors"
	"slices"
)

// State is a document's position in its sign-off chain.
type State string

const (
	StateNone         State = "none"
	StatePending      State = "pending"
	StateReviewed     State = "reviewed"
	StateVerified     State = "verified"
	StateAcknowledged State = "acknowledged"
	StateApproved1    State = "approved1"
	StateApproved2    State = "approved2"
	StateRejected     State = "rejected"
	StateCorrection   State = "correction"
)

// Levels lists the approval levels in precedence order.
var Levels = []State{StateReviewed, StateVerified, StateAcknowledged, StateApproved1, StateApproved2}

var (
	// ErrInvalidTransition indicates the target state is not reachable from the current one.
	ErrInvalidTransition = errors.New("approval: invalid transition")
	// ErrConfigurationMissing indicates no configuration exists for the organization and feature.
	ErrConfigurationMissing = errors.New("approval: configuration missing")
	// ErrInvalidState indicates an unknown approval state.
	ErrInvalidState = errors.New("approval: invalid state")
)

// Precedence orders pending and the approval levels. Other states return -1.
func (s State) Precedence() int {
	switch s {
	case StatePending:
		return 0
	case StateReviewed:
		return 1
	case StateVerified:
		return 2
	case StateAcknowledged:
		return 3
	case StateApproved1:
		return 4
	case StateApproved2:
		return 5
	default:
		return -1
	}
}

// IsLevel reports whether s is one of the five approval levels.
func (s State) IsLevel() bool {
	return s.Precedence() > 0
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNone, StateRejected, StateCorrection:
		return true
	}
	return s.Precedence() >= 0
}

// LevelConfig toggles one approval level and names the roles notified when it is next.
type LevelConfig struct {
	Enabled bool     `json:"enabled"`
	Roles   []string `json:"roles,omitempty"`
}

// FeatureConfig is the approval chain of one document feature.
type FeatureConfig struct {
	Feature    string                `json:"feature"`
	Levels     map[State]LevelConfig `json:"levels"`
	FinalRoles []string              `json:"final_roles,omitempty"`
}

// Enabled reports whether level is mandatory.
func (f FeatureConfig) Enabled(level State) bool {
	return f.Levels[level].Enabled
}

// AnyEnabled reports whether at least one level is mandatory.
func (f FeatureConfig) AnyEnabled() bool {
	for _, level := range Levels {
		if f.Enabled(level) {
			return true
		}
	}
	return false
}

// Highest returns the highest enabled level.
func (f FeatureConfig) Highest() (State, bool) {
	for i := len(Levels) - 1; i >= 0; i-- {
		if f.Enabled(Levels[i]) {
			return Levels[i], true
		}
	}
	return "", false
}

// Roles returns the roles notified when level is the next required action.
func (f FeatureConfig) Roles(level State) []string {
	cfg, ok := f.Levels[level]
	if !ok || !cfg.Enabled {
		return nil
	}
	return slices.Clone(cfg.Roles)
}

// Configuration holds every feature chain of one organization.
type Configuration struct {
	OrganizationID int64                    `json:"organization_id"`
	Features       map[string]FeatureConfig `json:"features"`
}

// Feature returns the chain configured for name.
func (c Configuration) Feature(name string) (FeatureConfig, bool) {
	cfg, ok := c.Features[name]
	return cfg, ok
}

// ResolveInitialState returns none when no level is enabled, else pending.
func ResolveInitialState(cfg FeatureConfig) State {
	if cfg.AnyEnabled() {
		return StatePending
	}
	return StateNone
}

// NextLevel returns the lowest enabled level above current. Disabled levels are skipped.
// States outside the chain, such as correction, never escalate.
func NextLevel(current State, cfg FeatureConfig) (State, bool) {
	p := current.Precedence()
	if p < 0 {
		return "", false
	}
	for _, level := range Levels {
		if level.Precedence() > p && cfg.Enabled(level) {
			return level, true
		}
	}
	return "", false
}

// IsFinalTransition distinguishes a completed chain from one that was never required.
func IsFinalTransition(current State, cfg FeatureConfig) bool {
	if current.Precedence() < 0 {
		return false
	}
	_, ok := NextLevel(current, cfg)
	return !ok && cfg.AnyEnabled()
}

// IsCommitted reports whether a document in state carries posted effects.
// With no level enabled any approval level counts as final.
func IsCommitted(state State, cfg FeatureConfig) bool {
	if state == StateNone {
		return true
	}
	if !state.IsLevel() {
		return false
	}
	highest, ok := cfg.Highest()
	if !ok {
		return true
	}
	return state.Precedence() >= highest.Precedence()
}
