package reporting

// Call is one provider call leg as reported by the provider's call list.
type Call struct {
	Sid             string
	From            string
	To              string
	Direction       string
	Status          string
	StartTime       string
	EndTime         string
	DurationSeconds int
}

// CallStatistics summarizes the calls of one voice number.
type CallStatistics struct {
	TotalCalls    int `json:"totalCalls"`
	IncomingCalls int `json:"incomingCalls"`
	OutgoingCalls int `json:"outgoingCalls"`
	MissedCalls   int `json:"missedCalls"`
	PickedCalls   int `json:"pickedCalls"`

	// Percentages are rendered with two decimals.
	IncomingCallsPercentage string `json:"incomingCallsPercentage"`
	OutgoingCallsPercentage string `json:"outgoingCallsPercentage"`
	MissedCallsPercentage   string `json:"missedCallsPercentage"`

	// AverageCallDuration covers completed calls only, e.g. "1h 2m 5s".
	AverageCallDuration string `json:"averageCallDuration"`
}

type LogQuery struct {
	VoiceNumber string
	Page        int
	PageSize    int
}
