package telephony

import (
	"strings"
	"testing"

	"crm-dialer/internal/routing"
)

func TestRenderTwiMLSay(t *testing.T) {
	xml, err := RenderTwiML(routing.Decision{Branch: routing.BranchGreeting, Say: "Thanks for calling!"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := "<Response><Say>Thanks for calling!</Say></Response>"; !strings.Contains(xml, want) {
		t.Fatalf("expected %q in xml: %s", want, xml)
	}
}

func TestRenderTwiMLForward(t *testing.T) {
	xml, err := RenderTwiML(routing.Decision{
		Branch: routing.BranchForward,
		Say:    "Please hold.",
		Dial: &routing.Dial{
			Target:         "+15559998888",
			Kind:           routing.TargetNumber,
			Record:         true,
			StatusCallback: "https://dialer.example.com/api/webhook?direction=incoming&tenantNumber=%2B15550002222",
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Say>Please hold.</Say><Dial",
		`record="record-from-answer-dual"`,
		`statusCallback="https://dialer.example.com/api/webhook?direction=incoming&amp;tenantNumber=%2B15550002222"`,
		`statusCallbackEvent="completed"`,
		`statusCallbackMethod="POST"`,
		">+15559998888</Number></Dial>",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "callerId") {
		t.Fatalf("inbound forward must not set callerId: %s", xml)
	}
}

func TestRenderTwiMLOutboundClient(t *testing.T) {
	xml, err := RenderTwiML(routing.Decision{
		Branch: routing.BranchOutboundClient,
		Dial:   &routing.Dial{CallerID: "+15550001111", Target: "agent-7", Kind: routing.TargetClient},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{`<Dial callerId="+15550001111">`, `>agent-7</Client></Dial>`} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Contains(xml, "record=") {
		t.Fatalf("unrecorded dial must not set record: %s", xml)
	}
}

func TestRenderTwiMLDialRequiresTarget(t *testing.T) {
	_, err := RenderTwiML(routing.Decision{Dial: &routing.Dial{Kind: routing.TargetNumber}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, err := RenderTwiML(routing.Decision{}); err == nil {
		t.Fatalf("expected error for empty decision")
	}
}
