package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hamed0406/apiwatch/internal/domain"
)

const (
	// MaxBodyChars caps the stored response body.
	MaxBodyChars = 100_000
	// maxRead bounds how much of a response is pulled off the wire.
	maxRead = 1 << 20

	truncatedSuffix = "...[truncated]"
)

type HTTPChecker struct {
	Client *http.Client
	// LookupDNS classifies the host of a failed request. Nil disables it.
	LookupDNS func(ctx context.Context, host string) DNSStatus
}

func NewHTTPChecker(connectTimeout, timeout time.Duration) *HTTPChecker {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = connectTimeout
	return &HTTPChecker{
		Client:    &http.Client{Timeout: timeout, Transport: tr},
		LookupDNS: CheckDNS,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, ep domain.Endpoint) domain.CheckResult {
	res := domain.CheckResult{EndpointID: ep.ID, CheckedAt: time.Now().UTC()}

	body, contentType := requestBody(ep.Body)
	method := strings.ToUpper(strings.TrimSpace(ep.Method))
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, ep.URL, body)
	if err != nil {
		res.Error = "Request failed: " + err.Error()
		return res
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		res.LatencyMS = time.Since(start).Milliseconds()
		res.Error = h.describe(ctx, err, req.URL.Hostname())
		return res
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRead))
	_ = resp.Body.Close()
	res.LatencyMS = time.Since(start).Milliseconds()

	status := resp.StatusCode
	res.StatusCode = &status
	res.Body = CaptureBody(raw, len(raw) == maxRead)
	if readErr != nil {
		res.Error = "Response read failed: " + readErr.Error()
	}
	return res
}

// requestBody turns the configured body into a request payload. Objects and
// arrays go out as JSON, a JSON string goes out as plain text.
func requestBody(b json.RawMessage) (io.Reader, string) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ""
	}
	switch trimmed[0] {
	case '{', '[':
		return bytes.NewReader(trimmed), "application/json"
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return strings.NewReader(s), "text/plain; charset=utf-8"
		}
	}
	return bytes.NewReader(trimmed), ""
}

func (h *HTTPChecker) describe(ctx context.Context, err error, host string) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "Request timed out"
	}
	msg := "Request failed: " + err.Error()
	var de *net.DNSError
	if h.LookupDNS != nil && host != "" && errors.As(err, &de) {
		msg = fmt.Sprintf("%s dns=%s", msg, h.LookupDNS(ctx, host).Class)
	}
	return msg
}

type truncatedJSON struct {
	Truncated bool   `json:"_truncated"`
	Preview   string `json:"preview"`
}

type rawText struct {
	RawText   string `json:"_raw_text"`
	Truncated bool   `json:"_truncated,omitempty"`
}

// CaptureBody stores a well-formed JSON body as-is and anything else under
// "_raw_text". Bodies over MaxBodyChars keep a prefix and carry "_truncated".
// cut reports that the body was already clipped by the read limit.
func CaptureBody(raw []byte, cut bool) string {
	trimmed := bytes.TrimSpace(raw)
	looksJSON := len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	isJSON := !cut && len(trimmed) > 0 && json.Valid(trimmed)

	if isJSON && len(raw) <= MaxBodyChars {
		return string(trimmed)
	}
	if isJSON || (cut && looksJSON) {
		return mustJSON(truncatedJSON{Truncated: true, Preview: prefix(raw, MaxBodyChars)})
	}
	text := strings.ToValidUTF8(string(raw), "�")
	if len(text) <= MaxBodyChars && !cut {
		return mustJSON(rawText{RawText: text})
	}
	return mustJSON(rawText{RawText: prefix([]byte(text), MaxBodyChars) + truncatedSuffix, Truncated: true})
}

// prefix returns at most n bytes of b without splitting a UTF-8 sequence.
func prefix(b []byte, n int) string {
	if len(b) <= n {
		return strings.ToValidUTF8(string(b), "�")
	}
	b = b[:n]
	for len(b) > 0 {
		if r, size := utf8.DecodeLastRune(b); r != utf8.RuneError || size > 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return strings.ToValidUTF8(string(b), "�")
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
