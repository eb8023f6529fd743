package cmd

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/config"
)

const labeledIssueDelivery = `{
	"action": "labeled",
	"issue": {"id": 301, "number": 4, "updated_at": "2024-05-01T12:00:00Z"},
	"label": {"name": "bug"},
	"repository": {"id": 1, "full_name": "octo/hello"},
	"sender": {"id": 9}
}`

func newTestApp(t *testing.T) *bootstrap.App {
	t.Helper()
	app := bootstrap.NewApp(config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", DataDir: t.TempDir()},
		Ingest:   config.IngestConfig{QADir: t.TempDir(), ArtifactsDir: t.TempDir()},
	})
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postDelivery(t *testing.T, handler http.Handler, event, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", signBody(secret, []byte(body)))
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestServeWebhookThenAsOf(t *testing.T) {
	app := newTestApp(t)
	handler := newServeRouter(context.Background(), app, "local-dev-secret")

	resp := postDelivery(t, handler, "issues", "local-dev-secret", labeledIssueDelivery)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", resp.Code, resp.Body.String())
	}
	var outcome struct {
		Inserted int `json:"inserted"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &outcome))
	require.Equal(t, 1, outcome.Inserted)

	resp = postDelivery(t, handler, "issues", "local-dev-secret", labeledIssueDelivery)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &outcome))
	require.Zero(t, outcome.Inserted)

	get := func(query string) asOfResponse {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/v1/repos/octo/hello/asof?"+query, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET asof status = %d; body=%s", rec.Code, rec.Body.String())
		}
		var out asOfResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	after := get("subject_type=issue&subject_id=301&attr=labels&at=2024-05-01T12:00:01Z")
	require.True(t, after.Known)
	require.Len(t, after.Values, 1)
	require.Equal(t, "bug", after.Values[0].ObjectID)

	before := get("subject_type=issue&subject_id=301&attr=labels&at=2024-05-01T11:00:00Z")
	require.False(t, before.Known)
	require.Empty(t, before.Values)
}

func TestServeWebhookRejectsBadSignature(t *testing.T) {
	handler := newServeRouter(context.Background(), newTestApp(t), "local-dev-secret")

	resp := postDelivery(t, handler, "issues", "other-secret", labeledIssueDelivery)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body=%s", resp.Code, resp.Body.String())
	}
}

func TestServeWebhookIgnoresUnsupportedEvents(t *testing.T) {
	handler := newServeRouter(context.Background(), newTestApp(t), "")

	resp := postDelivery(t, handler, "ping", "", `{"zen":"Keep it logically awesome.","hook_id":1}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", resp.Code, resp.Body.String())
	}
}

func TestServeAsOfErrors(t *testing.T) {
	handler := newServeRouter(context.Background(), newTestApp(t), "")

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{name: "unknown attribute", query: "subject_type=issue&subject_id=1&attr=color", want: http.StatusBadRequest},
		{name: "attribute not for subject", query: "subject_type=issue&subject_id=1&attr=draft", want: http.StatusBadRequest},
		{name: "missing subject", query: "attr=state", want: http.StatusBadRequest},
		{name: "unknown number", query: "number=99&attr=state", want: http.StatusNotFound},
		{name: "bad time", query: "subject_type=issue&subject_id=1&attr=state&at=yesterday", want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/repos/octo/hello/asof?"+tc.query, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d; body=%s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestServeHorizonOfEmptyRepo(t *testing.T) {
	handler := newServeRouter(context.Background(), newTestApp(t), "")

	req := httptest.NewRequest(http.MethodGet, "/v1/repos/octo/hello/horizon", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out horizonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "octo/hello", out.Repo)
	require.Zero(t, out.Events)
	require.Nil(t, out.MaxEventOccurredAt)
}
