package service

import (
	"errors"
	"testing"
	"time"

	"github.com/affiliflow/internal/constants"
)

func TestNextPayoutStatusTable(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	tests := []struct {
		current string
		action  string
		want    string
	}{
		{constants.PayoutStatusOnHold, constants.PayoutActionApprove, constants.PayoutStatusApproved},
		{constants.PayoutStatusOnHold, constants.PayoutActionReject, constants.PayoutStatusRejected},
		{constants.PayoutStatusApproved, constants.PayoutActionRelease, constants.PayoutStatusReleased},
		{constants.PayoutStatusApproved, constants.PayoutActionReject, constants.PayoutStatusRejected},
		{constants.PayoutStatusApproved, constants.PayoutActionHold, constants.PayoutStatusOnHold},
		{constants.PayoutStatusOnHold, constants.PayoutActionRelease, ""},
		{constants.PayoutStatusOnHold, constants.PayoutActionHold, ""},
		{constants.PayoutStatusReleased, constants.PayoutActionReject, ""},
		{constants.PayoutStatusRejected, constants.PayoutActionApprove, ""},
	}
	for _, tt := range tests {
		got, err := NextPayoutStatus(1, tt.current, tt.action, &expired, now)
		if tt.want == "" {
			if !errors.Is(err, ErrPayoutTransitionConflict) {
				t.Fatalf("%s --%s--> want conflict, got %q %v", tt.current, tt.action, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s --%s--> got %q %v, want %q", tt.current, tt.action, got, err, tt.want)
		}
	}
}

func TestNextPayoutStatusReportsRemainingHold(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	holdUntil := now.Add(36 * time.Hour)
	_, err := NextPayoutStatus(5, constants.PayoutStatusOnHold, constants.PayoutActionApprove, &holdUntil, now)
	var transitionErr *PayoutTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("want PayoutTransitionError, got %v", err)
	}
	if transitionErr.HoldRemaining != 36*time.Hour {
		t.Fatalf("want 36h remaining, got %s", transitionErr.HoldRemaining)
	}

	if _, err := NextPayoutStatus(5, constants.PayoutStatusOnHold, constants.PayoutActionApprove, &now, now); err != nil {
		t.Fatalf("approve at hold boundary should pass, got %v", err)
	}
}

func TestNormalizePayoutAction(t *testing.T) {
	if action, err := NormalizePayoutAction(" Approve "); err != nil || action != constants.PayoutActionApprove {
		t.Fatalf("unexpected %q %v", action, err)
	}
	if _, err := NormalizePayoutAction("refund"); !errors.Is(err, ErrInvalidPayoutAction) {
		t.Fatalf("want invalid action, got %v", err)
	}
}
