package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EndpointID string

// ParseEndpointID accepts the canonical UUID text form used by the endpoint store.
func ParseEndpointID(s string) (EndpointID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("endpoint id %q: %w", s, err)
	}
	return EndpointID(u.String()), nil
}

// Endpoint is the monitored target as configured by its owner.
// The pipeline treats it as read-only.
type Endpoint struct {
	ID                EndpointID        `json:"id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers,omitempty"`
	Body              json.RawMessage   `json:"body,omitempty"`
	ExpectedStatus    int               `json:"expected_status"`
	ExpectedLatencyMS int64             `json:"expected_latency_ms"`
	ReportPeriod      time.Duration     `json:"report_period"`
	OwnerID           string            `json:"owner_id"`
	Active            bool              `json:"active"`
}

func (e Endpoint) Thresholds() Thresholds {
	return Thresholds{ExpectedStatus: e.ExpectedStatus, ExpectedLatencyMS: e.ExpectedLatencyMS}
}

type Thresholds struct {
	ExpectedStatus    int   `json:"expected_status"`
	ExpectedLatencyMS int64 `json:"expected_latency_ms"`
}

// HealthLog is one persisted check. Healthy records whether the status
// matched the expected one; latency is judged separately.
type HealthLog struct {
	ID         int64      `json:"id"`
	EndpointID EndpointID `json:"endpoint_id"`
	CheckedAt  time.Time  `json:"checked_at"`
	Healthy    bool       `json:"is_healthy"`
	LatencyMS  int64      `json:"response_time_ms"`
	StatusCode *int       `json:"status_code"`
	Body       string     `json:"response_body,omitempty"`
	Error      string     `json:"error_message,omitempty"`
}

type Reason string

const (
	ReasonFailure Reason = "failure"
	ReasonLatency Reason = "latency"
)

// LabelStreakLength is the streak length written into stored labels. Labels
// never change with configuration so that ReasonOf keeps matching them.
const LabelStreakLength = 3

const (
	failureText = "The API failed to respond successfully for %s consecutive checks, indicating a possible outage or functional issue."
	latencyText = "The API response time exceeded the expected performance threshold for %s consecutive checks, suggesting performance degradation or server slowdown."
)

var (
	failureLabel = fmt.Sprintf(failureText, countWord(LabelStreakLength))
	latencyLabel = fmt.Sprintf(latencyText, countWord(LabelStreakLength))
)

// Label is the fixed text stored on incidents.
func (r Reason) Label() string {
	switch r {
	case ReasonFailure:
		return failureLabel
	case ReasonLatency:
		return latencyLabel
	}
	return string(r)
}

// Describe is the text shown to owners for an incident opened after streak
// consecutive checks.
func (r Reason) Describe(streak int) string {
	if streak < 1 {
		streak = LabelStreakLength
	}
	switch r {
	case ReasonFailure:
		return fmt.Sprintf(failureText, countWord(streak))
	case ReasonLatency:
		return fmt.Sprintf(latencyText, countWord(streak))
	}
	return string(r)
}

func countWord(n int) string {
	words := []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}
	if n >= 0 && n < len(words) {
		return words[n]
	}
	return strconv.Itoa(n)
}

// ReasonOf maps a stored label back to its reason. Unknown labels map to "".
func ReasonOf(label string) Reason {
	switch label {
	case failureLabel, string(ReasonFailure):
		return ReasonFailure
	case latencyLabel, string(ReasonLatency):
		return ReasonLatency
	}
	return ""
}

// Incident is a contiguous span of failing or slow checks for one endpoint.
// End is nil while the incident is open.
type Incident struct {
	ID         string     `json:"id"`
	EndpointID EndpointID `json:"endpoint_id"`
	Start      time.Time  `json:"start_time"`
	End        *time.Time `json:"end_time"`
	Label      string     `json:"initial_error"`
}

func (i Incident) Reason() Reason { return ReasonOf(i.Label) }

type Owner struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// AlertTarget is what the alert batcher needs per active endpoint.
type AlertTarget struct {
	EndpointID    EndpointID
	OwnerID       string
	ReportPeriod  time.Duration
	LastCheckedAt *time.Time
}
