package zoho

import (
	"testing"
	"time"

	"crm-dialer/internal/calls"
)

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{0: "00:00", 5: "00:05", 65: "01:05", 3600: "60:00", -3: "00:00"}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%d)=%q want %q", in, got, want)
		}
	}
}

func TestFormatStartTime_UTCNoFraction(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	start := time.Date(2025, 6, 1, 15, 30, 45, 987654321, loc)
	got := FormatStartTime(calls.CallRecord{StartedAt: &start})
	if got != "2025-06-01T10:00:45Z" {
		t.Fatalf("unexpected start time %q", got)
	}
}

func TestBuildCallActivity_SubjectAndType(t *testing.T) {
	base := calls.CallRecord{CallSid: "CA1", From: "+15550001111", To: "+15550002222", DurationSeconds: 75}

	missed := base
	missed.Status = calls.StatusNoAnswer
	missed.Direction = calls.DirectionIncoming
	a := BuildCallActivity(missed, ModuleLeads, "L1")
	if a.CallType != "Missed" || a.Subject != "Missed Call" {
		t.Fatalf("unexpected missed activity %+v", a)
	}
	if a.SEModule != ModuleLeads || a.WhatID == nil || a.WhatID.ID != "L1" {
		t.Fatalf("lead link missing %+v", a)
	}

	out := base
	out.Status = calls.StatusCompleted
	out.Direction = calls.DirectionOutgoing
	a = BuildCallActivity(out, ModuleContacts, "C1")
	if a.CallType != "Outbound" || a.Subject != "Outbound call to +15550002222" {
		t.Fatalf("unexpected outbound activity %+v", a)
	}
	if a.WhoID == nil || a.WhoID.ID != "C1" || a.WhatID != nil {
		t.Fatalf("contact link wrong %+v", a)
	}
	if a.CallDuration != "01:15" {
		t.Fatalf("unexpected duration %q", a.CallDuration)
	}

	in := base
	in.Status = calls.StatusCompleted
	in.Direction = calls.DirectionIncoming
	a = BuildCallActivity(in, ModuleLeads, "L1")
	if a.CallType != "Inbound" || a.Subject != "Inbound call from +15550001111" {
		t.Fatalf("unexpected inbound activity %+v", a)
	}
}
