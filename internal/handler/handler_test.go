package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/auth"
	"github.com/hookline/hookline/internal/bus"
	"github.com/hookline/hookline/internal/capture"
	"github.com/hookline/hookline/internal/notify"
	"github.com/hookline/hookline/internal/store"
)

type fixture struct {
	ts       *httptest.Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

// setupServer wires the full stack against an in-memory store. The test
// server's own URL becomes the public base URL so capture links and
// replays point back at it.
func setupServer(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := log.New(io.Discard, "", 0)

	var routes http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	fanout := bus.New(s, logger)
	router := notify.NewRouter(s, &notify.LogTransport{Logger: logger}, ts.URL, logger)
	pipeline := capture.NewPipeline(s, fanout, router, logger)
	settings := notify.NewSettings(s)
	verifier := auth.NewJWTVerifier("test-secret")

	h := NewHandler(s, pipeline, fanout, settings, verifier, ts.URL, logger)
	routes = h.Routes()

	return &fixture{ts: ts, store: s, verifier: verifier}
}

func (f *fixture) token(t *testing.T, subjectID, email string) string {
	t.Helper()

	token, err := f.verifier.Sign(&auth.Identity{SubjectID: subjectID, Email: email}, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) createEndpoint(t *testing.T, token string) string {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/endpoints", token, []byte(`{"name":"demo"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint status = %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return created.ID
}

func TestCaptureSuccessAndNotFound(t *testing.T) {
	f := setupServer(t)
	endpointID := f.createEndpoint(t, f.token(t, "user-1", "user-1@example.com"))

	resp := f.do(t, http.MethodPost, "/h/"+endpointID+"?a=1&a=2", "", []byte(`{"ping":true}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("capture body = %q, want ok", body)
	}

	missing := f.do(t, http.MethodPost, "/h/does-not-exist", "", []byte("x"))
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("capture on unknown endpoint status = %d, want 404", missing.StatusCode)
	}

	list := f.do(t, http.MethodGet, "/api/endpoints/"+endpointID+"/requests", "", nil)
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list requests status = %d", list.StatusCode)
	}
	var reqs []requestJSON
	if err := json.NewDecoder(list.Body).Decode(&reqs); err != nil {
		t.Fatalf("failed to decode request list: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d captured requests, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Seq != 1 || got.Method != "POST" {
		t.Errorf("unexpected record: %+v", got)
	}
	if string(got.Body) != `{"ping":true}` {
		t.Errorf("body = %q", got.Body)
	}
	if len(got.Query) != 2 || got.Query[0].Value != "1" || got.Query[1].Value != "2" {
		t.Errorf("query = %+v, want duplicate a keys in order", got.Query)
	}
	if _, err := time.Parse(time.RFC3339Nano, got.ReceivedAt); err != nil {
		t.Errorf("received_at %q is not ISO-8601: %v", got.ReceivedAt, err)
	}
}

func TestEndpointAPIRequiresAuth(t *testing.T) {
	f := setupServer(t)

	resp := f.do(t, http.MethodPost, "/api/endpoints", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("create without token status = %d, want 401", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/endpoints", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("create with bad token status = %d, want 401", resp.StatusCode)
	}
}

func TestDeleteEndpointCascadesAndGates(t *testing.T) {
	f := setupServer(t)
	owner := f.token(t, "user-1", "user-1@example.com")
	endpointID := f.createEndpoint(t, owner)

	f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("x"))

	stranger := f.token(t, "user-2", "user-2@example.com")
	resp := f.do(t, http.MethodDelete, "/api/endpoints/"+endpointID, stranger, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete by non-owner status = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodDelete, "/api/endpoints/"+endpointID, owner, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete by owner status = %d, want 204", resp.StatusCode)
	}

	n, err := f.store.CountRequests(context.Background(), endpointID)
	if err != nil {
		t.Fatalf("failed to count requests: %v", err)
	}
	if n != 0 {
		t.Errorf("%d requests survived endpoint deletion", n)
	}

	resp = f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("x"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("capture after delete status = %d, want 404", resp.StatusCode)
	}
}

// readEvent scans an SSE stream until the next event and returns its name
// and data line.
func readEvent(t *testing.T, scanner *bufio.Scanner) (string, string) {
	t.Helper()

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return event, strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before an event arrived: %v", scanner.Err())
	return "", ""
}

func TestEventsStream(t *testing.T) {
	f := setupServer(t)
	endpointID := f.createEndpoint(t, f.token(t, "user-1", "user-1@example.com"))

	f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("one"))
	f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("two"))

	resp := f.do(t, http.MethodGet, "/events/"+endpointID, "", nil)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	scanner := bufio.NewScanner(resp.Body)

	event, data := readEvent(t, scanner)
	if event != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", event)
	}
	var snapshot []requestJSON
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].Seq != 1 || snapshot[1].Seq != 2 {
		t.Fatalf("snapshot = %+v, want seqs [1 2] oldest first", snapshot)
	}

	// A request captured while subscribed arrives live, exactly once.
	f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("three"))

	event, data = readEvent(t, scanner)
	if event != "new_request" {
		t.Fatalf("live event = %q, want new_request", event)
	}
	var live requestJSON
	if err := json.Unmarshal([]byte(data), &live); err != nil {
		t.Fatalf("failed to decode live record: %v", err)
	}
	if live.Seq != 3 {
		t.Errorf("live record seq = %d, want 3", live.Seq)
	}
}

func TestEventsUnknownEndpoint(t *testing.T) {
	f := setupServer(t)

	resp := f.do(t, http.MethodGet, "/events/does-not-exist", "", nil)
	scanner := bufio.NewScanner(resp.Body)
	event, data := readEvent(t, scanner)
	if event != "error" {
		t.Errorf("first event = %q, want error", event)
	}
	if !strings.Contains(data, "endpoint not found") {
		t.Errorf("error data = %q", data)
	}
}

func TestUpdateSettings(t *testing.T) {
	f := setupServer(t)
	token := f.token(t, "user-1", "user-1@example.com")

	resp := f.do(t, http.MethodPut, "/api/settings", token,
		[]byte(`{"enabled":true,"notification_email":"work@example.com"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update settings status = %d", resp.StatusCode)
	}

	setting, err := f.store.GetSetting(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("setting not written: %v", err)
	}
	if !setting.Enabled || setting.NotificationEmail != "work@example.com" {
		t.Errorf("unexpected setting: %+v", setting)
	}

	bad := f.do(t, http.MethodPut, "/api/settings", token,
		[]byte(`{"notification_email":"not-an-email"}`))
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", bad.StatusCode)
	}
}

func TestReplayRequest(t *testing.T) {
	f := setupServer(t)
	token := f.token(t, "user-1", "user-1@example.com")
	endpointID := f.createEndpoint(t, token)

	f.do(t, http.MethodPost, "/h/"+endpointID, "", []byte("original"))

	resp := f.do(t, http.MethodPost, "/api/endpoints/"+endpointID+"/requests/1/replay", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}

	n, err := f.store.CountRequests(context.Background(), endpointID)
	if err != nil {
		t.Fatalf("failed to count requests: %v", err)
	}
	if n != 2 {
		t.Errorf("request count after replay = %d, want 2 (original plus replay)", n)
	}
}
