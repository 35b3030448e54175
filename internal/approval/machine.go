package approval

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	eventReject   = "reject"
	eventCorrect  = "correct"
	eventResubmit = "resubmit"
)

func advanceEvent(level State) string {
	return "advance_" + string(level)
}

// newMachine builds the transition table for cfg positioned at current.
// Each enabled level is reachable only from the states whose next level it is.
// With no level enabled every level is reachable from pending or another level.
func newMachine(current State, cfg FeatureConfig) *fsm.FSM {
	chain := append([]State{StatePending}, Levels...)
	var events fsm.Events
	for _, level := range Levels {
		var src []string
		for _, from := range chain {
			if from == level {
				continue
			}
			if cfg.AnyEnabled() {
				next, ok := NextLevel(from, cfg)
				if !ok || next != level {
					continue
				}
			}
			src = append(src, string(from))
		}
		if len(src) > 0 {
			events = append(events, fsm.EventDesc{Name: advanceEvent(level), Src: src, Dst: string(level)})
		}
	}

	open := []string{string(StateNone)}
	for _, s := range chain {
		open = append(open, string(s))
	}
	events = append(events,
		fsm.EventDesc{Name: eventReject, Src: open, Dst: string(StateRejected)},
		fsm.EventDesc{Name: eventCorrect, Src: open, Dst: string(StateCorrection)},
		fsm.EventDesc{
			Name: eventResubmit,
			Src:  []string{string(StateRejected), string(StateCorrection)},
			Dst:  string(ResolveInitialState(cfg)),
		},
	)
	return fsm.NewFSM(string(current), events, fsm.Callbacks{})
}

// checkTransition validates current -> target against cfg.
func checkTransition(ctx context.Context, current, target State, cfg FeatureConfig) error {
	if !current.Valid() || !target.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidState, current, target)
	}
	var event string
	switch {
	case target.IsLevel():
		event = advanceEvent(target)
	case target == StateRejected:
		event = eventReject
	case target == StateCorrection:
		event = eventCorrect
	default:
		return fmt.Errorf("%w: %s cannot be requested", ErrInvalidTransition, target)
	}
	machine := newMachine(current, cfg)
	if err := machine.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// CanResubmit reports whether a document in current may restart its chain.
func CanResubmit(current State, cfg FeatureConfig) bool {
	return newMachine(current, cfg).Can(eventResubmit)
}
