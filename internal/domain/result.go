package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CheckResult is what one probe produced. StatusCode is nil when no HTTP
// response was received.
type CheckResult struct {
	EndpointID EndpointID
	CheckedAt  time.Time
	StatusCode *int
	LatencyMS  int64
	Body       string
	Error      string
}

// ResultMessage is the value published to the results topic.
type ResultMessage struct {
	EndpointID   EndpointID `json:"endpointId"`
	CheckedAt    time.Time  `json:"checkedAt"`
	LatencyMS    int64      `json:"latencyMs"`
	StatusCode   *int       `json:"statusCode"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ResponseBody string     `json:"responseBody,omitempty"`
}

func (r CheckResult) Message() ResultMessage {
	return ResultMessage{
		EndpointID:   r.EndpointID,
		CheckedAt:    r.CheckedAt.UTC(),
		LatencyMS:    r.LatencyMS,
		StatusCode:   r.StatusCode,
		ErrorMessage: r.Error,
		ResponseBody: r.Body,
	}
}

func (m ResultMessage) Encode() ([]byte, error) {
	m.CheckedAt = m.CheckedAt.UTC()
	return json.Marshal(m)
}

var ErrInvalidMessage = errors.New("invalid result message")

func DecodeResultMessage(b []byte) (ResultMessage, error) {
	var m ResultMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.EndpointID == "" {
		return m, fmt.Errorf("%w: missing endpointId", ErrInvalidMessage)
	}
	if m.CheckedAt.IsZero() {
		return m, fmt.Errorf("%w: missing checkedAt", ErrInvalidMessage)
	}
	m.CheckedAt = m.CheckedAt.UTC()
	return m, nil
}

type Verdict int

const (
	Healthy Verdict = iota
	LatencyDegraded
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case LatencyDegraded:
		return "latency_degraded"
	}
	return "failed"
}

// StatusMatches reports whether a check returned the expected status.
// A missing status never matches.
func StatusMatches(status *int, th Thresholds) bool {
	return status != nil && *status == th.ExpectedStatus
}

func Classify(status *int, latencyMS int64, th Thresholds) Verdict {
	if !StatusMatches(status, th) {
		return Failed
	}
	if latencyMS > th.ExpectedLatencyMS {
		return LatencyDegraded
	}
	return Healthy
}
