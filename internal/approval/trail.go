package approval

import "time"

// Trail is the approval state a document carries together with who signed each level.
type Trail struct {
	State          State
	ReviewedBy     *int64
	ReviewedAt     *time.Time
	VerifiedBy     *int64
	VerifiedAt     *time.Time
	AcknowledgedBy *int64
	AcknowledgedAt *time.Time
	ApprovedBy1    *int64
	ApprovedAt1    *time.Time
	ApprovedBy2    *int64
	ApprovedAt2    *time.Time
	Comment        string
}

// NewTrail starts a trail in state.
func NewTrail(state State) Trail {
	return Trail{State: state}
}

// Stamp moves the trail to level and records the actor.
func (t *Trail) Stamp(level State, actorID int64, at time.Time) {
	actor := actorID
	ts := at
	switch level {
	case StateReviewed:
		t.ReviewedBy, t.ReviewedAt = &actor, &ts
	case StateVerified:
		t.VerifiedBy, t.VerifiedAt = &actor, &ts
	case StateAcknowledged:
		t.AcknowledgedBy, t.AcknowledgedAt = &actor, &ts
	case StateApproved1:
		t.ApprovedBy1, t.ApprovedAt1 = &actor, &ts
	case StateApproved2:
		t.ApprovedBy2, t.ApprovedAt2 = &actor, &ts
	}
	t.State = level
}

// ClearActorFields drops every actor id and timestamp. The state and comment are kept.
func (t *Trail) ClearActorFields() {
	t.ReviewedBy, t.ReviewedAt = nil, nil
	t.VerifiedBy, t.VerifiedAt = nil, nil
	t.AcknowledgedBy, t.AcknowledgedAt = nil, nil
	t.ApprovedBy1, t.ApprovedAt1 = nil, nil
	t.ApprovedBy2, t.ApprovedAt2 = nil, nil
}

// Reset returns the trail to state with no actors and no comment.
func (t *Trail) Reset(state State) {
	t.ClearActorFields()
	t.State = state
	t.Comment = ""
}

// SignedBy returns the actor recorded for level.
func (t Trail) SignedBy(level State) (int64, bool) {
	var actor *int64
	switch level {
	case StateReviewed:
		actor = t.ReviewedBy
	case StateVerified:
		actor = t.VerifiedBy
	case StateAcknowledged:
		actor = t.AcknowledgedBy
	case StateApproved1:
		actor = t.ApprovedBy1
	case StateApproved2:
		actor = t.ApprovedBy2
	}
	if actor == nil {
		return 0, false
	}
	return *actor, true
}
