package domain

// Step statuses for a week cycle.
const (
	StepNotStarted = "not_started"
	StepInProgress = "in_progress"
	StepComplete   = "complete"
	StepMissed     = "missed"
)

// Participant statuses.
const (
	ParticipantActive      = "active"
	ParticipantUnderReview = "under_review"
	ParticipantDeferred    = "deferred"
	ParticipantRemoved     = "removed"
	ParticipantGraduated   = "graduated"
)

// Report acceptance statuses.
const (
	ReportAccepted           = "accepted"
	ReportRejectedNoEvidence = "rejected_no_evidence"
)

// Review resolution outcomes.
const (
	ReviewReinstate   = "reinstate"
	ReviewDeferCohort = "defer_cohort"
	ReviewRemove      = "remove"
)

// System document statuses.
const (
	DocumentSubmitted = "submitted"
	DocumentApproved  = "approved"
)

// Notification intent kinds.
const (
	IntentLateCommit       = "mentor_notified_late_commit"
	IntentMissedReport     = "mentor_notified_missed_report"
	IntentRejectedEvidence = "mentor_notified_rejected_evidence"
	IntentReviewTriggered  = "review_triggered"
	IntentStageLocked      = "stage_locked_attempt"
)

type Program struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Participant struct {
	ID                string  `json:"id"`
	ProgramID         string  `json:"program_id"`
	EnrolledAt        string  `json:"enrolled_at" format:"date-time"`
	Baseline30        float64 `json:"baseline_30"`
	Baseline90        float64 `json:"baseline_90"`
	CurrentStage      int     `json:"current_stage"`
	CurrentWeek       int     `json:"current_week"`
	ConsecutiveMisses int     `json:"consecutive_misses"`
	Status            string  `json:"status" enum:"active,under_review,deferred,removed,graduated"`
	LockReason        string  `json:"lock_reason,omitempty"`
	DocumentStatus    string  `json:"document_status,omitempty"`
	ExitInterviewAt   *string `json:"exit_interview_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// WeekCycle is one instance of the weekly loop for a participant. Once
// Finalized it is append-only history; no submission can touch it.
type WeekCycle struct {
	ParticipantID   string  `json:"participant_id"`
	Week            int     `json:"week"`
	WeekStart       string  `json:"week_start" format:"date-time"`
	CommitStatus    string  `json:"commit_status" enum:"not_started,in_progress,complete,missed"`
	ExecuteStatus   string  `json:"execute_status" enum:"not_started,in_progress,complete,missed"`
	ReportStatus    string  `json:"report_status" enum:"not_started,in_progress,complete,missed"`
	DiagnoseStatus  string  `json:"diagnose_status" enum:"not_started,in_progress,complete,missed"`
	AdjustStatus    string  `json:"adjust_status" enum:"not_started,in_progress,complete,missed"`
	CommitDeadline  string  `json:"commit_deadline" format:"date-time"`
	ReportDeadline  string  `json:"report_deadline" format:"date-time"`
	AdjustDeadline  string  `json:"adjust_deadline" format:"date-time"`
	DiagnoseReadyAt *string `json:"diagnose_ready_at,omitempty" format:"date-time"`
	StageCredit     bool    `json:"stage_credit"`
	Locked          bool    `json:"locked"`
	Finalized       bool    `json:"finalized"`
	AdjustNotes     string  `json:"adjust_notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Commit struct {
	ParticipantID string  `json:"participant_id"`
	Week          int     `json:"week"`
	Action        string  `json:"action"`
	Tactic        string  `json:"tactic,omitempty"`
	TargetRevenue float64 `json:"target_revenue"`
	TargetDate    string  `json:"target_date"`
	SubmittedAt   string  `json:"submitted_at" format:"date-time"`
	Late          bool    `json:"late"`
}

type Report struct {
	ParticipantID string  `json:"participant_id"`
	Week          int     `json:"week"`
	Revenue       float64 `json:"revenue"`
	Hours         float64 `json:"hours"`
	Narrative     string  `json:"narrative"`
	EvidenceCount int     `json:"evidence_count"`
	DollarPerHour float64 `json:"dollar_per_hour"`
	WinRate       float64 `json:"win_rate"`
	Status        string  `json:"status" enum:"accepted,rejected_no_evidence"`
	SubmittedAt   string  `json:"submitted_at" format:"date-time"`
	Late          bool    `json:"late"`
}

type SystemDocument struct {
	ID            string  `json:"id"`
	ParticipantID string  `json:"participant_id"`
	SectionsJSON  string  `json:"sections_json"`
	WordCount     int     `json:"word_count"`
	Status        string  `json:"status" enum:"submitted,approved"`
	SubmittedAt   string  `json:"submitted_at" format:"date-time"`
	ApprovedAt    *string `json:"approved_at,omitempty" format:"date-time"`
}

// NotificationIntent is an outbound notification record. The engine only
// appends these; an external collaborator drains and delivers them.
type NotificationIntent struct {
	ID            int64   `json:"id"`
	ParticipantID string  `json:"participant_id"`
	Kind          string  `json:"kind"`
	OccurredAt    string  `json:"occurred_at" format:"date-time"`
	Payload       string  `json:"payload_json,omitempty"`
	DrainedAt     *string `json:"drained_at,omitempty" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	ProgramID     string `json:"program_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Payload       string `json:"payload_json"`
}
