package calls

import "testing"

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"completed":   StatusCompleted,
		"no-answer":   StatusNoAnswer,
		"no_answer":   StatusNoAnswer,
		"BUSY":        StatusBusy,
		"cancelled":   StatusCanceled,
		"in-progress": StatusInProgress,
		"weird":       StatusUnknown,
		"":            StatusUnknown,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q)=%q want %q", in, got, want)
		}
	}
}

func TestStatusTable(t *testing.T) {
	tests := []struct {
		status   Status
		billing  bool
		missed   bool
		campaign string
	}{
		{StatusCompleted, true, false, "completed"},
		{StatusNoAnswer, true, true, "no-answer"},
		{StatusBusy, true, true, "busy"},
		{StatusFailed, true, false, "failed"},
		{StatusCanceled, true, false, "busy"},
		{StatusInProgress, false, false, "busy"},
		{StatusRinging, false, false, "busy"},
		{StatusUnknown, false, false, "busy"},
	}
	for _, tt := range tests {
		if got := tt.status.BillingEligible(); got != tt.billing {
			t.Fatalf("%s billing=%v want %v", tt.status, got, tt.billing)
		}
		if got := tt.status.MissedCallTrigger(); got != tt.missed {
			t.Fatalf("%s missed=%v want %v", tt.status, got, tt.missed)
		}
		if got := tt.status.CampaignValue(); got != tt.campaign {
			t.Fatalf("%s campaign=%q want %q", tt.status, got, tt.campaign)
		}
	}
}

func TestParseDirection(t *testing.T) {
	if ParseDirection("outbound-dial") != DirectionOutgoing {
		t.Fatalf("expected outgoing")
	}
	if ParseDirection("inbound") != DirectionIncoming {
		t.Fatalf("expected incoming")
	}
	if ParseDirection("") != DirectionIncoming {
		t.Fatalf("expected incoming default")
	}
}

func TestCounterpart(t *testing.T) {
	r := CallRecord{From: "+1", To: "+2", Direction: DirectionOutgoing}
	if r.Counterpart() != "+2" {
		t.Fatalf("outgoing counterpart should be To")
	}
	r.Direction = DirectionIncoming
	if r.Counterpart() != "+1" {
		t.Fatalf("incoming counterpart should be From")
	}
}
