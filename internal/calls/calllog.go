package calls

// CallLog is the provider-neutral call history row served by the call log
// endpoints. Times are passed through in the provider's format.
type CallLog struct {
	Sid          string `json:"sid"`
	From         string `json:"from"`
	To           string `json:"to"`
	Status       string `json:"status"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	Duration     int    `json:"duration"`
	RecordingURL string `json:"recordingUrl"`
	Direction    string `json:"direction"`
}
