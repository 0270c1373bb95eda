package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/apiwatch/internal/domain"
	apimw "github.com/hamed0406/apiwatch/internal/httpapi/middleware"
	"github.com/hamed0406/apiwatch/internal/repo/memory"
)

// ---- test helpers ----

var base = time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Server, http.Handler, domain.EndpointID) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	ep := &domain.Endpoint{URL: "https://example.com", ExpectedStatus: 200, Active: true}
	require.NoError(t, store.AddEndpoint(ctx, ep))

	status := 500
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, &domain.HealthLog{
			EndpointID: ep.ID,
			CheckedAt:  base.Add(time.Duration(i) * time.Minute),
			StatusCode: &status,
			LatencyMS:  40,
			Body:       `{"_raw_text":"boom"}`,
		})
		require.NoError(t, err)
	}
	end := base.Add(2 * time.Minute)
	require.NoError(t, store.Insert(ctx, &domain.Incident{
		EndpointID: ep.ID, Start: base, End: &end, Label: domain.ReasonFailure.Label(),
	}))

	srv := NewServer(zap.NewNop(), store, store)
	keys := apimw.Keys{Public: []string{"pub_test"}, Admin: []string{"adm_test"}}
	return srv, srv.Router(keys, 10_000), ep.ID
}

func do(t *testing.T, h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---- tests ----

func TestLogs_NewestFirstWithLimit(t *testing.T) {
	_, h, id := setup(t)

	rec := do(t, h, http.MethodGet, "/api/endpoints/"+string(id)+"/logs?limit=2", "pub_test")
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, base.Add(2*time.Minute).Format(time.RFC3339), logs[0]["checked_at"])
	assert.Equal(t, false, logs[0]["is_healthy"])
	assert.Equal(t, map[string]any{"_raw_text": "boom"}, logs[0]["response_body"])
}

func TestLogs_RejectsBadInput(t *testing.T) {
	_, h, id := setup(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/endpoints/not-a-uuid/logs", "pub_test").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/endpoints/"+string(id)+"/logs?limit=500", "pub_test").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/endpoints/"+string(id)+"/logs", "").Code)
}

func TestIncidents(t *testing.T) {
	_, h, id := setup(t)

	rec := do(t, h, http.MethodGet, "/api/endpoints/"+string(id)+"/incidents", "pub_test")
	require.Equal(t, http.StatusOK, rec.Code)

	var incs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &incs))
	require.Len(t, incs, 1)
	assert.Equal(t, "failure", incs[0]["reason"])
	assert.Equal(t, domain.ReasonFailure.Label(), incs[0]["initial_error"])
}

func TestReadyz(t *testing.T) {
	srv, h, _ := setup(t)

	srv.Ready["kafka"] = func(ctx context.Context) error { return nil }
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	srv.Ready["postgres"] = func(ctx context.Context) error { return errors.New("connection refused") }
	rec := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAdminRun(t *testing.T) {
	srv, h, _ := setup(t)
	runs := 0
	srv.Actions["alerts"] = func(ctx context.Context) error { runs++; return nil }

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/admin/run/alerts", "pub_test").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/admin/run/alerts", "adm_test").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/admin/run/nope", "adm_test").Code)
	assert.Equal(t, 1, runs)
}
