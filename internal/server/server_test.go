package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"revloop/internal/config"
	"revloop/internal/db"
	"revloop/internal/domain"
	"revloop/internal/engine"
	"revloop/internal/migrate"
)

var serverClock = time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("prog-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return serverClock }
	if _, err := e.InitProgram(context.Background(), "prog-1", ""); err != nil {
		t.Fatalf("init program: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func enrollFounder(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/programs/prog-1/participants", map[string]any{
		"id":          "founder-1",
		"baseline_30": 2400,
		"baseline_90": 7200,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("enroll status %d: %s", res.StatusCode, string(data))
	}
}

func TestWeeklyLoopOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Disabled: true})
	client := srv.Client()
	enrollFounder(t, srv)

	// report before commit is a sequencing conflict with a stable code
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/participants/founder-1/reports", map[string]any{
		"week": 1, "revenue": 100, "hours": 5,
		"narrative":      "Booked four demos from twenty calls; two prospects asked for proposals.",
		"evidence_count": 1,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != domain.CodeReportLocked {
		t.Fatalf("expected report_locked, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["unlocking_action"] != "submit_commit" {
		t.Fatalf("expected unlocking action, got %v", envelope.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/participants/founder-1/commits", map[string]any{
		"week": 1, "action": "Call 20 dormant leads and book 5 demos",
		"tactic": "cold-calls", "target_revenue": 5000, "target_date": "2025-06-06",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("commit status %d: %s", res.StatusCode, string(data))
	}
	var cycle domain.WeekCycle
	if err := json.Unmarshal(data, &cycle); err != nil {
		t.Fatalf("unmarshal cycle: %v", err)
	}
	if cycle.CommitStatus != domain.StepComplete || cycle.ReportStatus != domain.StepInProgress {
		t.Fatalf("unexpected cycle: %+v", cycle)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/participants/founder-1/week", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("week status %d: %s", res.StatusCode, string(data))
	}
	var state engine.WeekState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal week state: %v", err)
	}
	if state.NextAction != "submit_report" {
		t.Fatalf("expected submit_report, got %q", state.NextAction)
	}
}

func TestVagueCommitOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Disabled: true})
	enrollFounder(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/participants/founder-1/commits", map[string]any{
		"week": 1, "action": "try to call some leads this week",
		"target_revenue": 5000, "target_date": "2025-06-06",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStageAccessOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Disabled: true})
	enrollFounder(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/participants/founder-1/stage/3/access", nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != domain.CodeStageLocked {
		t.Fatalf("expected stage_locked, got %q", envelope.Error.Code)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/participants/founder-1/stage/1/access", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("own stage must be open, got %d", res.StatusCode)
	}
}

func mintToken(t *testing.T, secret, subject string, roles []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Roles:            roles,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestMentorGating(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	// no token
	res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tick", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}

	// founder token cannot run mentor operations
	founder := map[string]string{"Authorization": "Bearer " + mintToken(t, secret, "founder-1", nil)}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tick", nil, founder)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for founder, got %d", res.StatusCode)
	}

	// mentor token can
	mentor := map[string]string{"Authorization": "Bearer " + mintToken(t, secret, "mentor-1", []string{"mentor"})}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tick", nil, mentor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for mentor, got %d: %s", res.StatusCode, string(data))
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", res.StatusCode)
	}
}

func TestReviewFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Disabled: true})
	client := srv.Client()
	enrollFounder(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/participants/founder-1/review", map[string]any{
		"outcome": "reinstate",
	}, nil)
	if res.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423 when not under review, got %d: %s", res.StatusCode, string(data))
	}
}
