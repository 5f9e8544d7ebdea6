package revloopsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Revloop HTTP API client.
type Client struct {
	BaseURL     string
	ProgramID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, programID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProgramID: programID,
		Timeout:   10 * time.Second,
	}
}

// Participant represents the API participant model (partial).
type Participant struct {
	ID                string `json:"id"`
	ProgramID         string `json:"program_id"`
	Status            string `json:"status"`
	CurrentStage      int    `json:"current_stage"`
	CurrentWeek       int    `json:"current_week"`
	ConsecutiveMisses int    `json:"consecutive_misses"`
	EnrolledAt        string `json:"enrolled_at"`
}

// WeekCycle mirrors one week of the loop.
type WeekCycle struct {
	ParticipantID  string `json:"participant_id"`
	Week           int    `json:"week"`
	CommitStatus   string `json:"commit_status"`
	ExecuteStatus  string `json:"execute_status"`
	ReportStatus   string `json:"report_status"`
	DiagnoseStatus string `json:"diagnose_status"`
	AdjustStatus   string `json:"adjust_status"`
	CommitDeadline string `json:"commit_deadline"`
	ReportDeadline string `json:"report_deadline"`
	AdjustDeadline string `json:"adjust_deadline"`
	StageCredit    bool   `json:"stage_credit"`
	Locked         bool   `json:"locked"`
	Finalized      bool   `json:"finalized"`
}

// WeekState is the current-week projection plus the next expected action.
type WeekState struct {
	Participant Participant `json:"participant"`
	Cycle       WeekCycle   `json:"cycle"`
	NextAction  string      `json:"next_action"`
}

// StageState summarizes stage progression.
type StageState struct {
	CurrentStage   int      `json:"current_stage"`
	Remaining      []string `json:"remaining"`
	DocumentStatus string   `json:"document_status,omitempty"`
	Graduated      bool     `json:"graduated"`
}

// EscalationState reports review standing.
type EscalationState struct {
	Status            string `json:"status"`
	ConsecutiveMisses int    `json:"consecutive_misses"`
	LockReason        string `json:"lock_reason,omitempty"`
}

// Intent is a drained notification intent.
type Intent struct {
	ID            int64           `json:"id"`
	ParticipantID string          `json:"participant_id"`
	Kind          string          `json:"kind"`
	OccurredAt    string          `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProgramID  string         `json:"program_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// TickResult summarizes a deadline sweep.
type TickResult struct {
	Participants int `json:"participants"`
	Escalated    int `json:"escalated"`
}

// APIError wraps non-2xx responses. Code and Details carry the engine's
// fault envelope when the server returned one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Enroll enrolls a participant into the program.
func (c *Client) Enroll(ctx context.Context, id string, baseline30, baseline90 float64) (Participant, error) {
	body := map[string]any{
		"id":          id,
		"baseline_30": baseline30,
		"baseline_90": baseline90,
	}
	var resp Participant
	err := c.do(ctx, http.MethodPost, c.programPath("participants"), body, &resp)
	return resp, err
}

// Participant fetches a participant.
func (c *Client) Participant(ctx context.Context, id string) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodGet, c.participantPath(id, ""), nil, &resp)
	return resp, err
}

// SubmitCommit submits the weekly commit.
func (c *Client) SubmitCommit(ctx context.Context, id string, week int, action, tactic string, targetRevenue float64, targetDate string) (WeekCycle, error) {
	body := map[string]any{
		"week":           week,
		"action":         action,
		"tactic":         tactic,
		"target_revenue": targetRevenue,
		"target_date":    targetDate,
	}
	var resp WeekCycle
	err := c.do(ctx, http.MethodPost, c.participantPath(id, "commits"), body, &resp)
	return resp, err
}

// SubmitReport submits the weekly report.
func (c *Client) SubmitReport(ctx context.Context, id string, week int, revenue, hours float64, narrative string, evidenceCount int) (WeekCycle, error) {
	body := map[string]any{
		"week":           week,
		"revenue":        revenue,
		"hours":          hours,
		"narrative":      narrative,
		"evidence_count": evidenceCount,
	}
	var resp WeekCycle
	err := c.do(ctx, http.MethodPost, c.participantPath(id, "reports"), body, &resp)
	return resp, err
}

// SubmitAdjust submits the weekly adjustment and closes the week.
func (c *Client) SubmitAdjust(ctx context.Context, id string, week int, notes string) (WeekCycle, error) {
	body := map[string]any{"week": week, "notes": notes}
	var resp WeekCycle
	err := c.do(ctx, http.MethodPost, c.participantPath(id, "adjustments"), body, &resp)
	return resp, err
}

// Week returns the current week state.
func (c *Client) Week(ctx context.Context, id string) (WeekState, error) {
	var resp WeekState
	err := c.do(ctx, http.MethodGet, c.participantPath(id, "week"), nil, &resp)
	return resp, err
}

// Stage returns stage progression status.
func (c *Client) Stage(ctx context.Context, id string) (StageState, error) {
	var resp StageState
	err := c.do(ctx, http.MethodGet, c.participantPath(id, "stage"), nil, &resp)
	return resp, err
}

// StageAccess checks whether stage content is open. A stage_locked
// APIError means it is not.
func (c *Client) StageAccess(ctx context.Context, id string, stage int) error {
	return c.do(ctx, http.MethodGet, c.participantPath(id, fmt.Sprintf("stage/%d/access", stage)), nil, nil)
}

// Escalation returns review standing.
func (c *Client) Escalation(ctx context.Context, id string) (EscalationState, error) {
	var resp EscalationState
	err := c.do(ctx, http.MethodGet, c.participantPath(id, "escalation"), nil, &resp)
	return resp, err
}

// ResolveReview resolves a mandatory mentor review. Mentor token required.
func (c *Client) ResolveReview(ctx context.Context, id, outcome string) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodPost, c.participantPath(id, "review"), map[string]any{"outcome": outcome}, &resp)
	return resp, err
}

// SubmitDocument submits the system document sections.
func (c *Client) SubmitDocument(ctx context.Context, id string, sections map[string]string) error {
	return c.do(ctx, http.MethodPost, c.participantPath(id, "document"), map[string]any{"sections": sections}, nil)
}

// ApproveDocument approves the latest document. Mentor token required.
func (c *Client) ApproveDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.participantPath(id, "document/approve"), nil, nil)
}

// RecordExitInterview marks the exit interview done. Mentor token required.
func (c *Client) RecordExitInterview(ctx context.Context, id string) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodPost, c.participantPath(id, "exit-interview"), nil, &resp)
	return resp, err
}

// Tick runs the deadline sweep. Mentor token required.
func (c *Client) Tick(ctx context.Context) (TickResult, error) {
	var resp TickResult
	err := c.do(ctx, http.MethodPost, "v1/tick", nil, &resp)
	return resp, err
}

// DrainIntents drains pending notification intents. Each intent is
// returned exactly once across all callers. Mentor token required.
func (c *Client) DrainIntents(ctx context.Context, limit int) ([]Intent, error) {
	var resp []Intent
	err := c.do(ctx, http.MethodPost, "v1/intents/drain", map[string]any{"limit": limit}, &resp)
	return resp, err
}

// Events returns recent events. Mentor token required.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) programPath(p string) string {
	program := url.PathEscape(c.ProgramID)
	return fmt.Sprintf("v1/programs/%s/%s", program, strings.TrimLeft(p, "/"))
}

func (c *Client) participantPath(id, p string) string {
	endpoint := fmt.Sprintf("v1/participants/%s", url.PathEscape(id))
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
