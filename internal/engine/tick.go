package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"revloop/internal/domain"
	"revloop/internal/events"
)

// tickConcurrency bounds the parallel per-participant sweeps. Each
// participant is swept in its own transaction, so participants never
// contend with each other.
const tickConcurrency = 4

type TickResult struct {
	Participants int `json:"participants"`
	Escalated    int `json:"escalated"`
}

// Tick sweeps every active participant up to now. It is safe to run at
// any frequency; all transitions it applies are idempotent.
func (e Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	parts, err := e.Repo.ListActiveParticipants(ctx, e.Config.Program.ID)
	if err != nil {
		return TickResult{}, err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(tickConcurrency)
	var mu sync.Mutex
	var res TickResult
	for _, p := range parts {
		p := p
		g.Go(func() error {
			escalated, err := e.tickParticipant(ctx, p, now)
			if err != nil {
				return eris.Wrapf(err, "tick: participant %s", p.ID)
			}
			mu.Lock()
			res.Participants++
			if escalated {
				res.Escalated++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	zap.S().Debugw("tick complete", "participants", res.Participants, "escalated", res.Escalated)
	return res, nil
}

func (e Engine) tickParticipant(ctx context.Context, p domain.Participant, now time.Time) (bool, error) {
	wasUnderReview := p.Status == domain.ParticipantUnderReview
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := e.sweepParticipantTx(ctx, tx, &p, now); err != nil {
		return false, err
	}
	if err := e.updateParticipantTx(ctx, tx, &p, now); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return !wasUnderReview && p.Status == domain.ParticipantUnderReview, nil
}

// sweepParticipantTx opens any calendar weeks that have arrived and
// applies every deadline transition due by now. Commands run it before
// acting, so a submission always observes the deadlines its own
// timestamp has crossed. The caller persists the participant.
func (e Engine) sweepParticipantTx(ctx context.Context, tx *sql.Tx, p *domain.Participant, now time.Time) error {
	cycles, err := e.Repo.ListCyclesTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	last := 0
	if len(cycles) > 0 {
		last = cycles[len(cycles)-1].Week
	}
	calWeek := e.calendarWeek(*p, now)
	for w := last + 1; w <= calWeek; w++ {
		c := e.newCycle(*p, w)
		if err := e.Repo.InsertCycleTx(ctx, tx, c); err != nil {
			return err
		}
		cycles = append(cycles, c)
	}
	if calWeek > p.CurrentWeek {
		p.CurrentWeek = calWeek
	}

	for i := range cycles {
		c := &cycles[i]
		if c.Finalized {
			continue
		}
		changed, missedReport := applyDeadlines(c, now)
		if !changed {
			continue
		}
		c.UpdatedAt = ts(now)
		if err := e.Repo.UpdateCycleTx(ctx, tx, *c); err != nil {
			return err
		}
		// Miss counting and escalation are suspended while a mentor
		// review is pending; the deadline transitions themselves are not.
		if missedReport && p.Status == domain.ParticipantActive {
			p.ConsecutiveMisses++
			if err := e.Repo.AppendIntentTx(ctx, tx, p.ID, domain.IntentMissedReport, ts(now), map[string]any{
				"week":   c.Week,
				"misses": p.ConsecutiveMisses,
			}); err != nil {
				return err
			}
			if p.ConsecutiveMisses >= e.Config.Escalation.MissThreshold {
				p.Status = domain.ParticipantUnderReview
				p.LockReason = fmt.Sprintf("%d consecutive missed reports", p.ConsecutiveMisses)
				if err := e.Repo.AppendIntentTx(ctx, tx, p.ID, domain.IntentReviewTriggered, ts(now), map[string]any{
					"misses": p.ConsecutiveMisses,
				}); err != nil {
					return err
				}
				if err := e.Events.Append(ctx, tx, "review.triggered", p.ProgramID, "participant", p.ID, p.ID, events.EventPayload{
					"misses": p.ConsecutiveMisses,
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// calendarWeek is the week number the wall clock has reached, anchored
// to the enrollment instant and capped at the program length.
func (e Engine) calendarWeek(p domain.Participant, now time.Time) int {
	elapsed := now.Sub(parseTime(p.EnrolledAt))
	if elapsed < 0 {
		return 1
	}
	w := int(elapsed/(7*24*time.Hour)) + 1
	if w > e.Config.Program.LengthWeeks {
		w = e.Config.Program.LengthWeeks
	}
	return w
}

// applyDeadlines advances a single cycle to now. Pure; the caller
// persists. Strict comparison: a submission stamped exactly at a
// deadline still counts as on time.
func applyDeadlines(c *domain.WeekCycle, now time.Time) (changed, missedReport bool) {
	if c.Finalized {
		return false, false
	}
	if c.CommitStatus != domain.StepComplete && c.CommitStatus != domain.StepMissed &&
		now.After(parseTime(c.CommitDeadline)) {
		c.CommitStatus = domain.StepMissed
		c.Locked = true
		c.StageCredit = false
		changed = true
	}
	if c.ReportStatus != domain.StepComplete && c.ReportStatus != domain.StepMissed &&
		now.After(parseTime(c.ReportDeadline)) {
		c.ReportStatus = domain.StepMissed
		if c.ExecuteStatus != domain.StepComplete {
			c.ExecuteStatus = domain.StepMissed
		}
		if c.DiagnoseStatus == domain.StepNotStarted {
			c.DiagnoseStatus = domain.StepMissed
		}
		c.StageCredit = false
		changed = true
		missedReport = true
	}
	if c.DiagnoseStatus == domain.StepInProgress && c.DiagnoseReadyAt != nil &&
		!now.Before(parseTime(*c.DiagnoseReadyAt)) {
		c.DiagnoseStatus = domain.StepComplete
		changed = true
	}
	if c.AdjustStatus != domain.StepComplete && c.AdjustStatus != domain.StepMissed &&
		now.After(parseTime(c.AdjustDeadline)) {
		c.AdjustStatus = domain.StepMissed
		c.Finalized = true
		changed = true
	}
	return changed, missedReport
}
