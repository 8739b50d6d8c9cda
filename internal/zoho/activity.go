package zoho

import (
	"fmt"
	"time"

	"crm-dialer/internal/calls"
)

const (
	ModuleLeads    = "Leads"
	ModuleContacts = "Contacts"

	zohoTimeLayout = "2006-01-02T15:04:05Z"
)

// Activity is one record in the Zoho Calls module.
type Activity struct {
	Subject       string     `json:"Subject"`
	CallType      string     `json:"Call_Type"`
	CallStartTime string     `json:"Call_Start_Time"`
	CallDuration  string     `json:"Call_Duration"`
	Description   string     `json:"Description,omitempty"`
	SEModule      string     `json:"$se_module,omitempty"`
	WhatID        *recordRef `json:"What_Id,omitempty"`
	WhoID         *recordRef `json:"Who_Id,omitempty"`
}

type recordRef struct {
	ID string `json:"id"`
}

// BuildCallActivity maps a ledger record onto a Calls activity linked to
// the given lead or contact.
func BuildCallActivity(rec calls.CallRecord, module, recordID string) Activity {
	counterpart := rec.Counterpart()

	a := Activity{
		CallDuration:  FormatDuration(rec.DurationSeconds),
		CallStartTime: FormatStartTime(rec),
		Description:   fmt.Sprintf("Call %s (%s)", rec.CallSid, rec.Status),
	}
	switch {
	case rec.Status == calls.StatusBusy || rec.Status == calls.StatusNoAnswer:
		a.CallType = "Missed"
		a.Subject = "Missed Call"
	case rec.Direction == calls.DirectionOutgoing:
		a.CallType = "Outbound"
		a.Subject = "Outbound call to " + counterpart
	default:
		a.CallType = "Inbound"
		a.Subject = "Inbound call from " + counterpart
	}

	ref := &recordRef{ID: recordID}
	if module == ModuleContacts {
		a.WhoID = ref
	} else {
		a.SEModule = ModuleLeads
		a.WhatID = ref
	}
	return a
}

// FormatDuration renders seconds as MM:SS. Minutes are not capped at 59.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatStartTime renders the call start in UTC with a Z suffix and no
// fractional seconds.
func FormatStartTime(rec calls.CallRecord) string {
	var t time.Time
	switch {
	case rec.StartedAt != nil:
		t = *rec.StartedAt
	case !rec.CreatedAt.IsZero():
		t = rec.CreatedAt
	default:
		t = time.Now()
	}
	return t.UTC().Truncate(time.Second).Format(zohoTimeLayout)
}
