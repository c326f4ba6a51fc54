package srp

// ActionType is the type of a logged action. Every value except Comment is
// also a request status.
type ActionType string

const (
	StatusEvaluating ActionType = "evaluating"
	StatusApproved   ActionType = "approved"
	StatusPaid       ActionType = "paid"
	StatusRejected   ActionType = "rejected"
	StatusIncomplete ActionType = "incomplete"

	// Comment never changes a request's status.
	Comment ActionType = "comment"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case StatusEvaluating, StatusApproved, StatusPaid, StatusRejected, StatusIncomplete, Comment:
		return true
	}
	return false
}

// Status reports whether t is a request status, i.e. any action type except
// Comment.
func (t ActionType) Status() bool {
	return t != Comment && t.Valid()
}

// Finalized reports whether t is a decision-reached status. Finalized
// requests accept no edits to details, base payout or modifiers, though the
// state machine can still move them back into circulation.
func (t ActionType) Finalized() bool {
	return t == StatusPaid || t == StatusRejected
}

// Pending is the complement of Finalized among statuses.
func (t ActionType) Pending() bool {
	switch t {
	case StatusEvaluating, StatusApproved, StatusIncomplete:
		return true
	}
	return false
}

// CanTransition reports whether a request in status from may move to status
// to. Comment is not a transition and always returns false here; callers
// handle comments separately. The switch is exhaustive over statuses so a new
// status cannot be added without revisiting every row.
func CanTransition(from, to ActionType) bool {
	switch from {
	case StatusEvaluating:
		switch to {
		case StatusEvaluating, StatusIncomplete, StatusRejected, StatusApproved:
			return true
		}
	case StatusIncomplete:
		switch to {
		case StatusRejected, StatusEvaluating:
			return true
		}
	case StatusRejected:
		return to == StatusEvaluating
	case StatusApproved:
		switch to {
		case StatusEvaluating, StatusPaid:
			return true
		}
	case StatusPaid:
		switch to {
		case StatusApproved, StatusEvaluating:
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from the given status, in a
// stable order.
func NextStatuses(from ActionType) []ActionType {
	all := []ActionType{StatusEvaluating, StatusApproved, StatusPaid, StatusRejected, StatusIncomplete}
	var next []ActionType
	for _, to := range all {
		if CanTransition(from, to) {
			next = append(next, to)
		}
	}
	return next
}
