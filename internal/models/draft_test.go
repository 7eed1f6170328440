package models

import "testing"

func TestCanTransitionDraft(t *testing.T) {
	tests := []struct {
		name string
		from DraftStatus
		to   DraftStatus
		want bool
	}{
		{"pending to approved", DraftStatusPendingReview, DraftStatusApproved, true},
		{"pending to rejected", DraftStatusPendingReview, DraftStatusRejected, true},
		{"approved to executed", DraftStatusApproved, DraftStatusExecuted, true},
		{"pending straight to executed", DraftStatusPendingReview, DraftStatusExecuted, false},
		{"approved back to pending", DraftStatusApproved, DraftStatusPendingReview, false},
		{"rejected back to pending", DraftStatusRejected, DraftStatusPendingReview, false},
		{"rejected to approved", DraftStatusRejected, DraftStatusApproved, false},
		{"executed back to approved", DraftStatusExecuted, DraftStatusApproved, false},
		{"auto executed to pending", DraftStatusAutoExecuted, DraftStatusPendingReview, false},
		{"auto executed to executed", DraftStatusAutoExecuted, DraftStatusExecuted, false},
		{"nothing enters auto executed", DraftStatusPendingReview, DraftStatusAutoExecuted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionDraft(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionDraft(%s, %s) = %v, expected %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDraftStatus_IsTerminal(t *testing.T) {
	terminal := []DraftStatus{DraftStatusExecuted, DraftStatusRejected, DraftStatusAutoExecuted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	for _, s := range []DraftStatus{DraftStatusPendingReview, DraftStatusApproved} {
		if s.IsTerminal() {
			t.Errorf("Expected %s not to be terminal", s)
		}
	}

	// Terminal states have no outbound edges
	for _, s := range terminal {
		if len(draftTransitions[s]) != 0 {
			t.Errorf("Terminal status %s has outbound transitions", s)
		}
	}
}

func TestDraftStatus_IsValid(t *testing.T) {
	if DraftStatus("deleted").IsValid() {
		t.Error("Expected unknown status to be invalid")
	}
	if !DraftStatusPendingReview.IsValid() {
		t.Error("Expected pending_review to be valid")
	}
}

func TestOutcomeType_IsValid(t *testing.T) {
	for _, ot := range []OutcomeType{OutcomeSuccess, OutcomePartial, OutcomeFailure} {
		if !ot.IsValid() {
			t.Errorf("Expected %s to be valid", ot)
		}
	}
	for _, ot := range []OutcomeType{"", "ok", "SUCCESS"} {
		if ot.IsValid() {
			t.Errorf("Expected %q to be invalid", ot)
		}
	}
}
