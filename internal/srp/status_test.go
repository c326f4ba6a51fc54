package srp

import "testing"

func TestCanTransition(t *testing.T) {
	statuses := []ActionType{StatusEvaluating, StatusApproved, StatusPaid, StatusRejected, StatusIncomplete}
	legal := map[ActionType][]ActionType{
		StatusEvaluating: {StatusEvaluating, StatusIncomplete, StatusRejected, StatusApproved},
		StatusIncomplete: {StatusRejected, StatusEvaluating},
		StatusRejected:   {StatusEvaluating},
		StatusApproved:   {StatusEvaluating, StatusPaid},
		StatusPaid:       {StatusApproved, StatusEvaluating},
	}
	for _, from := range statuses {
		allowed := make(map[ActionType]bool)
		for _, to := range legal[from] {
			allowed[to] = true
		}
		for _, to := range statuses {
			if got := CanTransition(from, to); got != allowed[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestCommentIsNeverATransition(t *testing.T) {
	for _, from := range []ActionType{StatusEvaluating, StatusApproved, StatusPaid, StatusRejected, StatusIncomplete} {
		if CanTransition(from, Comment) {
			t.Errorf("comment must not be a transition target from %s", from)
		}
		if CanTransition(Comment, from) {
			t.Errorf("comment must not be a transition source to %s", from)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	for _, tc := range []struct {
		t         ActionType
		finalized bool
		pending   bool
	}{
		{StatusEvaluating, false, true},
		{StatusApproved, false, true},
		{StatusIncomplete, false, true},
		{StatusPaid, true, false},
		{StatusRejected, true, false},
		{Comment, false, false},
	} {
		if got := tc.t.Finalized(); got != tc.finalized {
			t.Errorf("%s.Finalized() = %v, want %v", tc.t, got, tc.finalized)
		}
		if got := tc.t.Pending(); got != tc.pending {
			t.Errorf("%s.Pending() = %v, want %v", tc.t, got, tc.pending)
		}
	}
	if Comment.Status() {
		t.Error("comment must not be a status")
	}
	if !StatusPaid.Status() {
		t.Error("paid must be a status")
	}
}

func TestNextStatuses(t *testing.T) {
	next := NextStatuses(StatusApproved)
	if len(next) != 2 {
		t.Fatalf("expected 2 next statuses from approved, got %v", next)
	}
	seen := map[ActionType]bool{}
	for _, s := range next {
		seen[s] = true
	}
	if !seen[StatusEvaluating] || !seen[StatusPaid] {
		t.Fatalf("unexpected next statuses from approved: %v", next)
	}
}
