package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func intp(i int) *int { return &i }

func TestResultMessage_EncodesNullStatusAndUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	m := ResultMessage{
		EndpointID: "3f1c2b9e-5d7a-4c1e-9a3b-8e2f6d4c1a00",
		CheckedAt:  time.Date(2025, 8, 18, 14, 0, 0, 0, loc),
		LatencyMS:  10003,
	}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"statusCode":null`) {
		t.Fatalf("want explicit null status, got %s", s)
	}
	if !strings.Contains(s, `"checkedAt":"2025-08-18T12:00:00Z"`) {
		t.Fatalf("want UTC timestamp, got %s", s)
	}
	if strings.Contains(s, "errorMessage") {
		t.Fatalf("empty optional fields should be omitted, got %s", s)
	}
}

func TestDecodeResultMessage_Minimal(t *testing.T) {
	raw := `{"endpointId":"E1","checkedAt":"2025-08-18T12:00:00Z","latencyMs":42,"statusCode":503}`
	m, err := DecodeResultMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.EndpointID != "E1" || m.LatencyMS != 42 || m.StatusCode == nil || *m.StatusCode != 503 {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.CheckedAt.Location() != time.UTC {
		t.Fatalf("want UTC location, got %v", m.CheckedAt.Location())
	}
}

func TestDecodeResultMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"garbage":      `not json`,
		"no endpoint":  `{"checkedAt":"2025-08-18T12:00:00Z","latencyMs":1}`,
		"no timestamp": `{"endpointId":"E1","latencyMs":1}`,
	}
	for name, raw := range cases {
		if _, err := DecodeResultMessage([]byte(raw)); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("%s: want ErrInvalidMessage, got %v", name, err)
		}
	}
}

func TestClassify(t *testing.T) {
	th := Thresholds{ExpectedStatus: 200, ExpectedLatencyMS: 200}
	cases := []struct {
		name    string
		status  *int
		latency int64
		want    Verdict
	}{
		{"ok", intp(200), 120, Healthy},
		{"at threshold", intp(200), 200, Healthy},
		{"slow", intp(200), 350, LatencyDegraded},
		{"wrong status", intp(500), 50, Failed},
		{"wrong status and slow", intp(500), 900, Failed},
		{"no response", nil, 10000, Failed},
	}
	for _, c := range cases {
		if got := Classify(c.status, c.latency, th); got != c.want {
			t.Fatalf("%s: want %s, got %s", c.name, c.want, got)
		}
	}
}

func TestReasonLabels(t *testing.T) {
	if ReasonOf(ReasonFailure.Label()) != ReasonFailure {
		t.Fatalf("failure label does not map back")
	}
	if ReasonOf(ReasonLatency.Label()) != ReasonLatency {
		t.Fatalf("latency label does not map back")
	}
	if ReasonFailure.Label() == ReasonLatency.Label() {
		t.Fatalf("labels must differ")
	}
	if ReasonOf("something else") != "" {
		t.Fatalf("unknown label should map to empty reason")
	}
}

func TestParseEndpointID(t *testing.T) {
	id, err := ParseEndpointID("3F1C2B9E-5D7A-4C1E-9A3B-8E2F6D4C1A00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "3f1c2b9e-5d7a-4c1e-9a3b-8e2f6d4c1a00" {
		t.Fatalf("want canonical lower-case form, got %s", id)
	}
	if _, err := ParseEndpointID("nope"); err == nil {
		t.Fatalf("want error for invalid id")
	}
}

func TestReasonDescribe_UsesStreakLength(t *testing.T) {
	if ReasonFailure.Describe(LabelStreakLength) != ReasonFailure.Label() {
		t.Fatalf("default streak must read like the stored label")
	}
	got := ReasonLatency.Describe(5)
	if !strings.Contains(got, "for five consecutive checks") {
		t.Fatalf("unexpected text %q", got)
	}
	if got := ReasonFailure.Describe(12); !strings.Contains(got, "for 12 consecutive checks") {
		t.Fatalf("unexpected text %q", got)
	}
	if ReasonOf(ReasonLatency.Label()) != ReasonLatency {
		t.Fatalf("stored label must stay stable")
	}
}
