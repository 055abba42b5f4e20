package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/affiliflow/internal/constants"
)

func TestRecordClickRateLimitsPerIP(t *testing.T) {
	f := setupPipelineTest(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		f.createClick(t, "203.0.113.7", f.now.Add(-30*time.Second))
	}

	input := RecordClickInput{LinkID: 3, AffiliateID: f.affiliate.ID, ProgramID: f.program.ID, IPAddress: "203.0.113.7"}
	if _, err := f.tracking.RecordClick(ctx, input); !errors.Is(err, ErrClickRateLimited) {
		t.Fatalf("want rate limited, got %v", err)
	}

	other := input
	other.IPAddress = "203.0.113.8"
	other.UserAgent = strings.Repeat("a", 2000)
	click, err := f.tracking.RecordClick(ctx, other)
	if err != nil {
		t.Fatalf("other ip should pass: %v", err)
	}
	if len(click.UserAgent) != maxUserAgentLength || !click.CreatedAt.Equal(f.now) {
		t.Fatalf("unexpected click %+v", click)
	}

	f.now = f.now.Add(31 * time.Second)
	if _, err := f.tracking.RecordClick(ctx, input); err != nil {
		t.Fatalf("window passed, click should be recorded: %v", err)
	}

	if _, err := f.tracking.RecordClick(ctx, RecordClickInput{AffiliateID: f.affiliate.ID, ProgramID: f.program.ID}); !errors.Is(err, ErrInvalidClick) {
		t.Fatalf("want invalid click, got %v", err)
	}
}

func TestRecordTouchPointValidation(t *testing.T) {
	f := setupPipelineTest(t)
	promo := uint(5)
	tests := []struct {
		name  string
		input RecordTouchPointInput
		ok    bool
	}{
		{name: "click", input: RecordTouchPointInput{SessionID: "s", AffiliateID: 1, ProgramID: 1, Type: "CLICK"}, ok: true},
		{name: "promo_use", input: RecordTouchPointInput{SessionID: "s", AffiliateID: 1, ProgramID: 1, Type: "promo_use", PromoCodeID: &promo}, ok: true},
		{name: "promo_use_without_code", input: RecordTouchPointInput{SessionID: "s", AffiliateID: 1, ProgramID: 1, Type: "promo_use"}},
		{name: "unknown_type", input: RecordTouchPointInput{SessionID: "s", AffiliateID: 1, ProgramID: 1, Type: "impression"}},
		{name: "missing_session", input: RecordTouchPointInput{AffiliateID: 1, ProgramID: 1, Type: "view"}},
		{name: "long_session", input: RecordTouchPointInput{SessionID: strings.Repeat("s", 129), AffiliateID: 1, ProgramID: 1, Type: "view"}},
		{name: "missing_affiliate", input: RecordTouchPointInput{SessionID: "s", ProgramID: 1, Type: "view"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.tracking.RecordTouchPoint(context.Background(), tt.input)
			if tt.ok {
				if err != nil || id == 0 {
					t.Fatalf("want stored touch point, got %d %v", id, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTouchPoint) {
				t.Fatalf("want invalid touch point, got %v", err)
			}
		})
	}
}

func TestSimulateAttributionUsesRequestedOrProgramModel(t *testing.T) {
	f := setupPipelineTest(t)
	ctx := context.Background()
	start := f.now
	for i, affiliateID := range []uint{11, 22, 11} {
		f.now = start.Add(time.Duration(i) * time.Hour)
		if _, err := f.tracking.RecordTouchPoint(ctx, RecordTouchPointInput{
			SessionID:   "sess-sim",
			AffiliateID: affiliateID,
			ProgramID:   f.program.ID,
			Type:        constants.TouchPointTypeView,
		}); err != nil {
			t.Fatalf("record touch point failed: %v", err)
		}
	}

	shares, err := f.tracking.SimulateAttribution(ctx, "sess-sim", f.program.ID, constants.AttributionModelLinear)
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if len(shares) != 2 || shares[0].AffiliateID != 11 || shares[0].Weight != 0.6667 || shares[1].Weight != 0.3333 {
		t.Fatalf("unexpected linear shares %+v", shares)
	}

	shares, err = f.tracking.SimulateAttribution(ctx, "sess-sim", f.program.ID, "")
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if len(shares) != 1 || shares[0].AffiliateID != 11 || shares[0].Weight != 1 {
		t.Fatalf("program model is last_click, got %+v", shares)
	}

	if _, err := f.tracking.SimulateAttribution(ctx, "sess-sim", 999, ""); !errors.Is(err, ErrProgramNotFound) {
		t.Fatalf("want program not found, got %v", err)
	}
	shares, err = f.tracking.SimulateAttribution(ctx, "sess-none", f.program.ID, constants.AttributionModelFirstClick)
	if err != nil || len(shares) != 0 {
		t.Fatalf("empty session should give no shares, got %+v %v", shares, err)
	}
}

func TestTruncateStringKeepsRunesWhole(t *testing.T) {
	ua := strings.Repeat("a", 1023) + "é"
	got := truncateString(ua, 1024)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated value is not valid utf-8: %q", got[len(got)-4:])
	}
	if got != strings.Repeat("a", 1023) {
		t.Fatalf("want the partial rune dropped, got len %d", len(got))
	}

	mixed := "浏览器/1.0"
	if got := truncateString(mixed, 4); got != "浏" {
		t.Fatalf("want one whole rune, got %q", got)
	}
	if got := truncateString("  short  ", 1024); got != "short" {
		t.Fatalf("want trimmed value, got %q", got)
	}
	if got := truncateString("bad\xc3tail", 1024); !utf8.ValidString(got) {
		t.Fatalf("invalid input bytes should be dropped, got %q", got)
	}
}

func TestRunDetachedRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	runDetached(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("detached task did not run")
	}
}
