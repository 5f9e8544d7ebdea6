package engine

import (
	"context"
	"errors"
	"time"

	"revloop/internal/domain"
	"revloop/internal/repo"
)

// WeekState is the read-only projection of a participant's current week.
// Deadline transitions due by the query instant are applied in memory,
// so the view never shows a stale step status even between ticks.
type WeekState struct {
	Participant domain.Participant `json:"participant"`
	Cycle       domain.WeekCycle   `json:"cycle"`
	NextAction  string             `json:"next_action"`
}

func (e Engine) CurrentWeekState(ctx context.Context, participantID string, now time.Time) (WeekState, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return WeekState{}, err
	}
	week := p.CurrentWeek
	if w := e.calendarWeek(p, now); w > week {
		week = w
	}
	c, err := e.Repo.GetCycle(ctx, p.ID, week)
	if errors.Is(err, repo.ErrNotFound) && week > 1 {
		// The calendar week arrived but no sweep has opened it yet;
		// project it from scratch.
		c = e.newCycle(p, week)
		err = nil
	}
	if err != nil {
		return WeekState{}, err
	}
	applyDeadlines(&c, now)
	p.CurrentWeek = week
	return WeekState{Participant: p, Cycle: c, NextAction: nextAction(p, c)}, nil
}

func nextAction(p domain.Participant, c domain.WeekCycle) string {
	switch {
	case p.Status == domain.ParticipantUnderReview:
		return "await_review"
	case p.Status == domain.ParticipantGraduated:
		return "none"
	case p.Status != domain.ParticipantActive:
		return "none"
	case c.CommitStatus != domain.StepComplete:
		return "submit_commit"
	case c.ReportStatus == domain.StepInProgress:
		return "submit_report"
	case c.DiagnoseStatus == domain.StepInProgress:
		return "await_diagnosis"
	case c.DiagnoseStatus == domain.StepComplete && c.AdjustStatus != domain.StepComplete && c.AdjustStatus != domain.StepMissed:
		return "submit_adjust"
	case c.Finalized:
		return "await_next_week"
	default:
		return "none"
	}
}

// StageState reports progression: where the participant is and what
// still blocks the next stage.
type StageState struct {
	CurrentStage   int      `json:"current_stage"`
	Remaining      []string `json:"remaining"`
	DocumentStatus string   `json:"document_status,omitempty"`
	Graduated      bool     `json:"graduated"`
}

func (e Engine) StageStatus(ctx context.Context, participantID string) (StageState, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return StageState{}, err
	}
	history, err := e.Repo.History(ctx, participantID)
	if err != nil {
		return StageState{}, err
	}
	return StageState{
		CurrentStage:   p.CurrentStage,
		Remaining:      e.remainingRequirements(p, history),
		DocumentStatus: p.DocumentStatus,
		Graduated:      p.Status == domain.ParticipantGraduated,
	}, nil
}

// StageAccess checks whether stage content at the requested level is
// open. A denied attempt is recorded as a notification intent so the
// mentor sees who is pushing ahead of their gate.
func (e Engine) StageAccess(ctx context.Context, participantID string, requestedStage int, now time.Time) error {
	if requestedStage < 1 || requestedStage > 5 {
		return domain.ValidationFault(domain.CodeInvalidTarget, "stage must be between 1 and 5")
	}
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if requestedStage <= p.CurrentStage {
		return nil
	}
	history, err := e.Repo.History(ctx, participantID)
	if err != nil {
		return err
	}
	remaining := e.remainingRequirements(p, history)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AppendIntentTx(ctx, tx, p.ID, domain.IntentStageLocked, ts(now), map[string]any{
		"current_stage":   p.CurrentStage,
		"requested_stage": requestedStage,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return domain.StageLockedFault(p.CurrentStage, requestedStage, remaining)
}

// EscalationState reports where the participant stands against the miss
// threshold.
type EscalationState struct {
	Status            string `json:"status"`
	ConsecutiveMisses int    `json:"consecutive_misses"`
	MissThreshold     int    `json:"miss_threshold"`
	LockReason        string `json:"lock_reason,omitempty"`
}

func (e Engine) EscalationStatus(ctx context.Context, participantID string) (EscalationState, error) {
	p, err := e.getParticipant(ctx, participantID)
	if err != nil {
		return EscalationState{}, err
	}
	return EscalationState{
		Status:            p.Status,
		ConsecutiveMisses: p.ConsecutiveMisses,
		MissThreshold:     e.Config.Escalation.MissThreshold,
		LockReason:        p.LockReason,
	}, nil
}

// DrainNotificationIntents hands pending intents to the delivery
// collaborator. Each intent is delivered to exactly one drain call.
func (e Engine) DrainNotificationIntents(ctx context.Context, limit int, now time.Time) ([]domain.NotificationIntent, error) {
	return e.Repo.DrainIntents(ctx, limit, ts(now))
}

// History returns the full per-week record for reporting views.
func (e Engine) History(ctx context.Context, participantID string) ([]repo.WeekRecord, error) {
	if _, err := e.getParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	return e.Repo.History(ctx, participantID)
}
