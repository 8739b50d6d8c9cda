package routing

// Decision is the provider-agnostic output of the routing engine. The
// telephony adapter renders it as TwiML; nothing provider-specific lives here.
type Decision struct {
	Branch Branch `json:"branch"`

	// Say is spoken first when non-empty.
	Say string `json:"say,omitempty"`
	// Dial connects the call after Say. Nil means the call ends.
	Dial *Dial `json:"dial,omitempty"`
}

// Branch names the rule that produced a decision. It doubles as the metrics label.
type Branch string

const (
	BranchFreePlan       Branch = "free_plan"
	BranchForward        Branch = "forward"
	BranchUnavailable    Branch = "unavailable"
	BranchClient         Branch = "client"
	BranchOutboundNumber Branch = "outbound_number"
	BranchOutboundClient Branch = "outbound_client"
	BranchGreeting       Branch = "greeting"
)

type TargetKind string

const (
	TargetNumber TargetKind = "number"
	TargetClient TargetKind = "client"
)

type Dial struct {
	CallerID       string     `json:"caller_id,omitempty"`
	Target         string     `json:"target"`
	Kind           TargetKind `json:"kind"`
	Record         bool       `json:"record"`
	StatusCallback string     `json:"status_callback,omitempty"`
}
