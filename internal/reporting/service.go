// Package reporting derives call history views from the provider's call list.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/pkg/utils"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// StatisticsWindow is how far back call statistics look.
const StatisticsWindow = 30 * 24 * time.Hour

// fetchFactor over-fetches call logs so a page survives filtering.
const fetchFactor = 4

// CallSource reads one tenant account's calls.
type CallSource interface {
	// ListCalls returns calls started after since, newest first. limit 0 means all.
	ListCalls(ctx context.Context, since time.Time, limit int) ([]Call, error)
	// RecordingURL returns the newest recording of a call, or "".
	RecordingURL(ctx context.Context, callSid string) (string, error)
}

type Service struct {
	Now func() time.Time
}

func NewService() *Service { return &Service{Now: time.Now} }

// CallStatistics aggregates the last 30 days of calls that involve voiceNumber
// directly. Legs to or from browser clients are left out.
func (s *Service) CallStatistics(ctx context.Context, src CallSource, voiceNumber string) (CallStatistics, error) {
	voiceNumber = strings.TrimSpace(voiceNumber)
	if voiceNumber == "" {
		return CallStatistics{}, ErrInvalidRequest
	}
	rows, err := src.ListCalls(ctx, s.Now().Add(-StatisticsWindow), 0)
	if err != nil {
		return CallStatistics{}, err
	}
	return Summarize(ForNumber(rows, utils.AddPlusInNumber(voiceNumber))), nil
}

// Summarize counts directions and outcomes. Missed covers no-answer, busy
// and canceled.
func Summarize(rows []Call) CallStatistics {
	var out CallStatistics
	var totalDuration int
	for _, c := range rows {
		out.TotalCalls++
		switch calls.ParseDirection(c.Direction) {
		case calls.DirectionIncoming:
			out.IncomingCalls++
		case calls.DirectionOutgoing:
			out.OutgoingCalls++
		}
		switch calls.ParseStatus(c.Status) {
		case calls.StatusNoAnswer, calls.StatusBusy, calls.StatusCanceled:
			out.MissedCalls++
		case calls.StatusCompleted:
			out.PickedCalls++
			totalDuration += c.DurationSeconds
		}
	}
	out.IncomingCallsPercentage = percentage(out.IncomingCalls, out.TotalCalls)
	out.OutgoingCallsPercentage = percentage(out.OutgoingCalls, out.TotalCalls)
	out.MissedCallsPercentage = percentage(out.MissedCalls, out.TotalCalls)
	out.AverageCallDuration = "0s"
	if out.PickedCalls > 0 {
		out.AverageCallDuration = FormatAverageDuration(float64(totalDuration) / float64(out.PickedCalls))
	}
	return out
}

func percentage(n, total int) string {
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(n)/float64(total)*100)
}

// FormatAverageDuration renders seconds as "Xh Ym Zs", dropping zero parts.
// Hours wrap at a day.
func FormatAverageDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours()) % 24
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if sec > 0 {
		parts = append(parts, fmt.Sprintf("%ds", sec))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// ForNumber keeps the legs where number is the caller or the callee and no
// side is a browser client.
func ForNumber(rows []Call, number string) []Call {
	out := make([]Call, 0, len(rows))
	for _, c := range rows {
		if c.From != number && c.To != number {
			continue
		}
		if strings.HasPrefix(c.From, "client:") || strings.HasPrefix(c.To, "client:") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// LogPage is one page of filtered call logs.
type LogPage struct {
	Logs         []calls.CallLog
	TotalResults int
	CurrentPage  int
	PageLimit    int
}

// CallLogs returns one page of the number's call history with recording links.
// TotalResults counts only what the over-fetched window contained.
func (s *Service) CallLogs(ctx context.Context, src CallSource, q LogQuery) (LogPage, error) {
	q.VoiceNumber = strings.TrimSpace(q.VoiceNumber)
	if q.VoiceNumber == "" {
		return LogPage{}, ErrInvalidRequest
	}
	if q.PageSize <= 0 {
		q.PageSize = 10
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	rows, err := src.ListCalls(ctx, time.Time{}, q.PageSize*fetchFactor)
	if err != nil {
		return LogPage{}, err
	}
	filtered := ForNumber(rows, utils.AddPlusInNumber(q.VoiceNumber))

	out := LogPage{TotalResults: len(filtered), CurrentPage: q.Page, PageLimit: q.PageSize, Logs: []calls.CallLog{}}
	start := (q.Page - 1) * q.PageSize
	if start >= len(filtered) {
		return out, nil
	}
	end := min(start+q.PageSize, len(filtered))

	for _, c := range filtered[start:end] {
		rec, err := src.RecordingURL(ctx, c.Sid)
		if err != nil {
			return LogPage{}, fmt.Errorf("recording for %s: %w", c.Sid, err)
		}
		out.Logs = append(out.Logs, calls.CallLog{
			Sid:          c.Sid,
			From:         c.From,
			To:           c.To,
			Status:       c.Status,
			StartTime:    c.StartTime,
			EndTime:      c.EndTime,
			Duration:     c.DurationSeconds,
			RecordingURL: rec,
			Direction:    string(calls.ParseDirection(c.Direction)),
		})
	}
	return out, nil
}
