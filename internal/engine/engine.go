package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"revloop/internal/config"
	"revloop/internal/domain"
	"revloop/internal/engine/validate"
	"revloop/internal/events"
	"revloop/internal/metrics"
	"revloop/internal/repo"
)

// Engine owns all participant state. Every mutation goes through one of
// its commands; each command runs in a single transaction keyed to the
// participant, which is the one-writer-per-participant discipline the
// ordering invariants rely on.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rules() validate.Rules {
	return validate.FromConfig(e.Config)
}

// InitProgram initializes a new program with migrations already run.
func (e Engine) InitProgram(ctx context.Context, programID, description string) (domain.Program, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	p := domain.Program{
		ID:          programID,
		Status:      "active",
		Description: description,
		CreatedAt:   ts(e.now()),
	}
	if err := e.Repo.InsertProgram(ctx, tx, p); err != nil {
		return domain.Program{}, fmt.Errorf("insert program: %w", err)
	}
	if err := e.Repo.UpsertProgramConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Program{}, fmt.Errorf("insert program config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "program.init", p.ID, "program", p.ID, "", events.EventPayload{"status": p.Status}); err != nil {
		return domain.Program{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

// EnrollOptions are intake parameters. Baselines are captured once here
// and never mutated afterwards.
type EnrollOptions struct {
	ParticipantID string
	ProgramID     string
	Baseline30    float64
	Baseline90    float64
	Now           time.Time
}

func (e Engine) Enroll(ctx context.Context, opts EnrollOptions) (domain.Participant, error) {
	if e.Config == nil {
		return domain.Participant{}, errors.New("config not loaded")
	}
	if opts.Baseline30 < 0 || opts.Baseline90 < 0 {
		return domain.Participant{}, domain.ValidationFault(domain.CodeInvalidTarget, "baseline revenue cannot be negative")
	}
	if _, err := e.Repo.GetProgram(ctx, opts.ProgramID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Participant{}, domain.NotFoundFault("program %s not found", opts.ProgramID)
		}
		return domain.Participant{}, err
	}
	id := opts.ParticipantID
	if id == "" {
		id = uuid.New().String()
	}
	now := ts(opts.Now)
	p := domain.Participant{
		ID:           id,
		ProgramID:    opts.ProgramID,
		EnrolledAt:   now,
		Baseline30:   opts.Baseline30,
		Baseline90:   opts.Baseline90,
		CurrentStage: 1,
		CurrentWeek:  1,
		Status:       domain.ParticipantActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertParticipantTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Repo.InsertCycleTx(ctx, tx, e.newCycle(p, 1)); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "participant.enrolled", p.ProgramID, "participant", p.ID, p.ID, events.EventPayload{
		"baseline_30": p.Baseline30,
		"baseline_90": p.Baseline90,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// CommitOptions are parameters for SubmitCommit.
type CommitOptions struct {
	ParticipantID string
	Week          int
	Action        string
	Tactic        string
	TargetRevenue float64
	TargetDate    string
	Now           time.Time
}

// SubmitCommit applies a weekly commit statement. A commit after the
// deadline is still accepted (recovery is never hard-blocked) but the
// week loses stage credit and the mentor is notified.
func (e Engine) SubmitCommit(ctx context.Context, opts CommitOptions) (domain.WeekCycle, error) {
	if e.Config == nil {
		return domain.WeekCycle{}, errors.New("config not loaded")
	}
	p, err := e.getParticipant(ctx, opts.ParticipantID)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	if err := guardActive(p); err != nil {
		return domain.WeekCycle{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	defer tx.Rollback()

	// A submission is ordered after any deadline that its own timestamp
	// has passed, so sweep first.
	if err := e.sweepParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return domain.WeekCycle{}, err
	}
	if p.Status == domain.ParticipantUnderReview {
		return domain.WeekCycle{}, domain.EscalationFault(domain.CodeUnderReview, "submissions are locked pending mentor review")
	}
	c, err := e.Repo.GetCycleTx(ctx, tx, p.ID, opts.Week)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WeekCycle{}, domain.NotFoundFault("week %d does not exist for participant %s", opts.Week, p.ID)
		}
		return domain.WeekCycle{}, err
	}
	if c.Finalized {
		return c, domain.SequencingFault(domain.CodeDeadlinePassed, "week %d has ended", c.Week)
	}
	if c.CommitStatus == domain.StepComplete {
		return c, domain.SequencingFault(domain.CodeAlreadySubmitted, "a commit already exists for week %d", c.Week)
	}
	// The previous week's Adjust gates the next commit only while it can
	// still be completed. Once its deadline passes it is permanently
	// Missed and no longer blocks forward motion.
	if opts.Week > 1 {
		prev, err := e.Repo.GetCycleTx(ctx, tx, p.ID, opts.Week-1)
		if err == nil && prev.AdjustStatus != domain.StepComplete && prev.AdjustStatus != domain.StepMissed {
			return c, domain.SequencingFault(domain.CodeWeekLocked,
				"week %d adjust is still open; complete it before committing to week %d", prev.Week, opts.Week).
				WithDetail("unlocking_action", "submit_adjust")
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return c, err
		}
	}
	if err := e.rules().Commit(opts.Action, opts.TargetRevenue, opts.TargetDate); err != nil {
		return c, err
	}

	deadline := parseTime(c.CommitDeadline)
	late := opts.Now.After(deadline)
	commit := domain.Commit{
		ParticipantID: p.ID,
		Week:          opts.Week,
		Action:        opts.Action,
		Tactic:        opts.Tactic,
		TargetRevenue: opts.TargetRevenue,
		TargetDate:    opts.TargetDate,
		SubmittedAt:   ts(opts.Now),
		Late:          late,
	}
	if err := e.Repo.InsertCommitTx(ctx, tx, commit); err != nil {
		return c, err
	}
	c.CommitStatus = domain.StepComplete
	c.ExecuteStatus = domain.StepInProgress
	c.ReportStatus = domain.StepInProgress
	c.Locked = false
	if late {
		// Functionally unblocked, but the week never regains stage credit.
		c.StageCredit = false
		if err := e.Repo.AppendIntentTx(ctx, tx, p.ID, domain.IntentLateCommit, ts(opts.Now), map[string]any{
			"week":     opts.Week,
			"deadline": c.CommitDeadline,
		}); err != nil {
			return c, err
		}
	}
	c.UpdatedAt = ts(opts.Now)
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.updateParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "commit.submitted", p.ProgramID, "week_cycle", cycleID(p.ID, opts.Week), p.ID, events.EventPayload{
		"week":   opts.Week,
		"late":   late,
		"tactic": opts.Tactic,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ReportOptions are parameters for SubmitReport.
type ReportOptions struct {
	ParticipantID string
	Week          int
	Revenue       float64
	Hours         float64
	Narrative     string
	EvidenceCount int
	Now           time.Time
}

// SubmitReport applies a weekly result disclosure. A report without
// evidence is retained as rejected and may be resubmitted until the
// report deadline; everything else about the week stays untouched.
func (e Engine) SubmitReport(ctx context.Context, opts ReportOptions) (domain.WeekCycle, error) {
	if e.Config == nil {
		return domain.WeekCycle{}, errors.New("config not loaded")
	}
	p, err := e.getParticipant(ctx, opts.ParticipantID)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	if err := guardActive(p); err != nil {
		return domain.WeekCycle{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	defer tx.Rollback()

	if err := e.sweepParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return domain.WeekCycle{}, err
	}
	if p.Status == domain.ParticipantUnderReview {
		return domain.WeekCycle{}, domain.EscalationFault(domain.CodeUnderReview, "submissions are locked pending mentor review")
	}
	c, err := e.Repo.GetCycleTx(ctx, tx, p.ID, opts.Week)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WeekCycle{}, domain.NotFoundFault("week %d does not exist for participant %s", opts.Week, p.ID)
		}
		return domain.WeekCycle{}, err
	}
	if c.Locked {
		return c, domain.SequencingFault(domain.CodeWeekLocked,
			"week %d is locked by a missed commit deadline; submit a late commit to unlock", c.Week).
			WithDetail("unlocking_action", "submit_commit")
	}
	if c.CommitStatus != domain.StepComplete {
		return c, domain.SequencingFault(domain.CodeReportLocked,
			"no commit exists for week %d; a report requires a commit", c.Week).
			WithDetail("unlocking_action", "submit_commit")
	}
	if c.ReportStatus == domain.StepComplete {
		return c, domain.SequencingFault(domain.CodeAlreadySubmitted, "an accepted report already exists for week %d", c.Week)
	}
	if c.ReportStatus == domain.StepMissed {
		return c, domain.SequencingFault(domain.CodeDeadlinePassed, "the report deadline for week %d has passed", c.Week)
	}

	if err := e.rules().Report(opts.Revenue, opts.Hours, opts.Narrative, opts.EvidenceCount); err != nil {
		if domain.IsCode(err, domain.CodeMissingEvidence) {
			// Retain the rejected report; the submitter keeps a bounded
			// resubmission window up to the report deadline.
			rejected := domain.Report{
				ParticipantID: p.ID,
				Week:          opts.Week,
				Revenue:       opts.Revenue,
				Hours:         opts.Hours,
				Narrative:     opts.Narrative,
				EvidenceCount: opts.EvidenceCount,
				Status:        domain.ReportRejectedNoEvidence,
				SubmittedAt:   ts(opts.Now),
			}
			if uerr := e.Repo.UpsertReportTx(ctx, tx, rejected); uerr != nil {
				return c, uerr
			}
			if uerr := e.Repo.AppendIntentTx(ctx, tx, p.ID, domain.IntentRejectedEvidence, ts(opts.Now), map[string]any{
				"week": opts.Week,
			}); uerr != nil {
				return c, uerr
			}
			if uerr := e.Events.Append(ctx, tx, "report.rejected", p.ProgramID, "week_cycle", cycleID(p.ID, opts.Week), p.ID, events.EventPayload{
				"week":   opts.Week,
				"reason": domain.CodeMissingEvidence,
			}); uerr != nil {
				return c, uerr
			}
			if uerr := tx.Commit(); uerr != nil {
				return c, uerr
			}
		}
		return c, err
	}

	var target float64
	if commit, err := e.Repo.GetCommitTx(ctx, tx, p.ID, opts.Week); err == nil {
		target = commit.TargetRevenue
	} else if !errors.Is(err, repo.ErrNotFound) {
		return c, err
	}
	m := metrics.ComputeReportMetrics(opts.Revenue, opts.Hours, target)
	report := domain.Report{
		ParticipantID: p.ID,
		Week:          opts.Week,
		Revenue:       opts.Revenue,
		Hours:         opts.Hours,
		Narrative:     opts.Narrative,
		EvidenceCount: opts.EvidenceCount,
		DollarPerHour: m.DollarPerHour,
		WinRate:       m.WinRate,
		Status:        domain.ReportAccepted,
		SubmittedAt:   ts(opts.Now),
		Late:          opts.Now.After(parseTime(c.ReportDeadline)),
	}
	if err := e.Repo.UpsertReportTx(ctx, tx, report); err != nil {
		return c, err
	}
	c.ReportStatus = domain.StepComplete
	c.ExecuteStatus = domain.StepComplete
	c.DiagnoseStatus = domain.StepInProgress
	ready := ts(opts.Now.Add(time.Duration(e.Config.Diagnosis.DelayHours) * time.Hour))
	c.DiagnoseReadyAt = &ready
	c.UpdatedAt = ts(opts.Now)
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	// An accepted report breaks any miss streak.
	p.ConsecutiveMisses = 0
	if err := e.maybeAdvanceStageTx(ctx, tx, &p, opts.Now); err != nil {
		return c, err
	}
	if err := e.updateParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "report.accepted", p.ProgramID, "week_cycle", cycleID(p.ID, opts.Week), p.ID, events.EventPayload{
		"week":            opts.Week,
		"revenue":         opts.Revenue,
		"dollar_per_hour": m.DollarPerHour,
		"win_rate":        m.WinRate,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// AdjustOptions are parameters for SubmitAdjust.
type AdjustOptions struct {
	ParticipantID string
	Week          int
	Notes         string
	Now           time.Time
}

// SubmitAdjust closes the week. It requires the diagnosis and is the
// precondition for the next week's commit; completing it finalizes the
// cycle and opens the next one.
func (e Engine) SubmitAdjust(ctx context.Context, opts AdjustOptions) (domain.WeekCycle, error) {
	if e.Config == nil {
		return domain.WeekCycle{}, errors.New("config not loaded")
	}
	p, err := e.getParticipant(ctx, opts.ParticipantID)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	if err := guardActive(p); err != nil {
		return domain.WeekCycle{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WeekCycle{}, err
	}
	defer tx.Rollback()

	if err := e.sweepParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return domain.WeekCycle{}, err
	}
	if p.Status == domain.ParticipantUnderReview {
		return domain.WeekCycle{}, domain.EscalationFault(domain.CodeUnderReview, "submissions are locked pending mentor review")
	}
	c, err := e.Repo.GetCycleTx(ctx, tx, p.ID, opts.Week)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WeekCycle{}, domain.NotFoundFault("week %d does not exist for participant %s", opts.Week, p.ID)
		}
		return domain.WeekCycle{}, err
	}
	if c.AdjustStatus == domain.StepComplete {
		return c, domain.SequencingFault(domain.CodeAlreadySubmitted, "an adjustment already exists for week %d", c.Week)
	}
	if c.AdjustStatus == domain.StepMissed || c.Finalized {
		// A skipped Adjust can never be completed retroactively.
		return c, domain.SequencingFault(domain.CodeDeadlinePassed, "the adjust window for week %d has closed", c.Week)
	}
	if c.DiagnoseStatus != domain.StepComplete {
		return c, domain.SequencingFault(domain.CodeAdjustLocked,
			"no diagnosis is available for week %d yet", c.Week).
			WithDetail("unlocking_action", "await_diagnosis")
	}

	c.AdjustStatus = domain.StepComplete
	c.AdjustNotes = opts.Notes
	c.Finalized = true
	c.UpdatedAt = ts(opts.Now)
	if err := e.Repo.UpdateCycleTx(ctx, tx, c); err != nil {
		return c, err
	}
	// Open the next week early so the participant can commit ahead of
	// the calendar.
	if opts.Week == p.CurrentWeek && opts.Week < e.Config.Program.LengthWeeks {
		next := e.newCycle(p, opts.Week+1)
		if err := e.Repo.InsertCycleTx(ctx, tx, next); err != nil {
			return c, err
		}
		p.CurrentWeek = opts.Week + 1
	}
	if err := e.updateParticipantTx(ctx, tx, &p, opts.Now); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "adjust.submitted", p.ProgramID, "week_cycle", cycleID(p.ID, opts.Week), p.ID, events.EventPayload{
		"week": opts.Week,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ResolveReview applies the mentor's decision for a participant under
// mandatory review. The outcome is never computed internally.
func (e Engine) ResolveReview(ctx context.Context, participantID, outcome string, now time.Time) (domain.Participant, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.Status != domain.ParticipantUnderReview {
		return p, domain.EscalationFault(domain.CodeNotUnderReview, "participant %s is not under review", p.ID)
	}
	switch outcome {
	case domain.ReviewReinstate:
		p.Status = domain.ParticipantActive
		p.ConsecutiveMisses = 0
		p.LockReason = ""
	case domain.ReviewDeferCohort:
		p.Status = domain.ParticipantDeferred
	case domain.ReviewRemove:
		p.Status = domain.ParticipantRemoved
	default:
		return p, domain.ValidationFault(domain.CodeInvalidTarget, "unknown review outcome %q", outcome)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.updateParticipantTx(ctx, tx, &p, now); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "review.resolved", p.ProgramID, "participant", p.ID, p.ID, events.EventPayload{
		"outcome": outcome,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// SubmitSystemDocument records the stage-four artifact after word-count
// validation. Sections are free text keyed by the rulebook's mandatory
// section names.
func (e Engine) SubmitSystemDocument(ctx context.Context, participantID string, sections map[string]string, now time.Time) (domain.SystemDocument, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return domain.SystemDocument{}, err
	}
	if err := guardActive(p); err != nil {
		return domain.SystemDocument{}, err
	}
	if p.Status == domain.ParticipantUnderReview {
		return domain.SystemDocument{}, domain.EscalationFault(domain.CodeUnderReview, "submissions are locked pending mentor review")
	}
	words, err := e.rules().SystemDocument(sections)
	if err != nil {
		return domain.SystemDocument{}, err
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return domain.SystemDocument{}, err
	}
	d := domain.SystemDocument{
		ID:            uuid.New().String(),
		ParticipantID: p.ID,
		SectionsJSON:  string(data),
		WordCount:     words,
		Status:        domain.DocumentSubmitted,
		SubmittedAt:   ts(now),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return d, err
	}
	p.DocumentStatus = domain.DocumentSubmitted
	if err := e.updateParticipantTx(ctx, tx, &p, now); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.submitted", p.ProgramID, "system_document", d.ID, p.ID, events.EventPayload{
		"word_count": words,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// ApproveSystemDocument records a mentor's approval. Approval is an
// external decision; the engine only checks that something was submitted.
func (e Engine) ApproveSystemDocument(ctx context.Context, participantID string, now time.Time) (domain.SystemDocument, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return domain.SystemDocument{}, err
	}
	d, err := e.Repo.LatestDocument(ctx, participantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.SystemDocument{}, domain.NotFoundFault("participant %s has no system document", participantID)
		}
		return domain.SystemDocument{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	approvedAt := ts(now)
	if err := e.Repo.ApproveDocumentTx(ctx, tx, d.ID, approvedAt); err != nil {
		return d, err
	}
	d.Status = domain.DocumentApproved
	d.ApprovedAt = &approvedAt
	p.DocumentStatus = domain.DocumentApproved
	if err := e.maybeAdvanceStageTx(ctx, tx, &p, now); err != nil {
		return d, err
	}
	if err := e.updateParticipantTx(ctx, tx, &p, now); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.approved", p.ProgramID, "system_document", d.ID, p.ID, nil); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// RecordExitInterview marks the graduation interview done. External
// event; completion is all the engine tracks.
func (e Engine) RecordExitInterview(ctx context.Context, participantID string, now time.Time) (domain.Participant, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	done := ts(now)
	p.ExitInterviewAt = &done
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.maybeAdvanceStageTx(ctx, tx, &p, now); err != nil {
		return p, err
	}
	if err := e.updateParticipantTx(ctx, tx, &p, now); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "exit_interview.recorded", p.ProgramID, "participant", p.ID, p.ID, nil); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// --- helpers ---

func (e Engine) getParticipant(ctx context.Context, id string) (domain.Participant, error) {
	p, err := e.Repo.GetParticipant(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, domain.NotFoundFault("participant %s not found", id)
		}
		return p, err
	}
	return p, nil
}

// guardActive rejects submissions from participants the loop no longer
// owns. Under-review participants are re-checked after the sweep, since
// the sweep itself can trigger review.
func guardActive(p domain.Participant) error {
	switch p.Status {
	case domain.ParticipantActive, domain.ParticipantUnderReview:
		return nil
	case domain.ParticipantGraduated:
		return domain.EscalationFault(domain.CodeParticipantInactive, "participant %s has graduated", p.ID)
	default:
		return domain.EscalationFault(domain.CodeParticipantInactive, "participant %s has left the program (%s)", p.ID, p.Status)
	}
}

func (e Engine) updateParticipantTx(ctx context.Context, tx *sql.Tx, p *domain.Participant, now time.Time) error {
	p.UpdatedAt = ts(now)
	return e.Repo.UpdateParticipantTx(ctx, tx, *p)
}

// newCycle builds week n with deadlines anchored to the enrollment
// instant: commit < report < adjust inside one 168h week.
func (e Engine) newCycle(p domain.Participant, week int) domain.WeekCycle {
	start := parseTime(p.EnrolledAt).Add(time.Duration(week-1) * 7 * 24 * time.Hour)
	d := e.Config.Deadlines
	now := ts(e.now())
	return domain.WeekCycle{
		ParticipantID:  p.ID,
		Week:           week,
		WeekStart:      ts(start),
		CommitStatus:   domain.StepInProgress,
		ExecuteStatus:  domain.StepNotStarted,
		ReportStatus:   domain.StepNotStarted,
		DiagnoseStatus: domain.StepNotStarted,
		AdjustStatus:   domain.StepNotStarted,
		CommitDeadline: ts(start.Add(time.Duration(d.CommitHours) * time.Hour)),
		ReportDeadline: ts(start.Add(time.Duration(d.ReportHours) * time.Hour)),
		AdjustDeadline: ts(start.Add(time.Duration(d.AdjustHours) * time.Hour)),
		StageCredit:    true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func cycleID(participantID string, week int) string {
	return fmt.Sprintf("%s/w%d", participantID, week)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
