package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"revloop/internal/domain"
	"revloop/internal/events"
	"revloop/internal/metrics"
	"revloop/internal/repo"
)

// creditedReport returns the accepted report of a week that still holds
// stage credit, or nil. All stage predicates evaluate over these only;
// a late or locked week contributes nothing toward progression.
func creditedReport(rec repo.WeekRecord) *domain.Report {
	if !rec.Cycle.StageCredit {
		return nil
	}
	if rec.Report == nil || rec.Report.Status != domain.ReportAccepted {
		return nil
	}
	return rec.Report
}

// weeklyThreshold resolves a stage revenue bar: multiplier over the
// participant's weekly baseline, or the configured absolute floor when
// the baseline was zero at intake.
func weeklyThreshold(p domain.Participant, multiplier, absolute float64) float64 {
	if p.Baseline30 <= 0 {
		return absolute
	}
	return multiplier * metrics.WeeklyBaseline(p.Baseline30)
}

func (e Engine) stageSatisfied(stage int, p domain.Participant, history []repo.WeekRecord) bool {
	s := e.Config.Stages
	switch stage {
	case 1:
		return countConsistentReports(history, s.One.MaxGapWeeks) >= s.One.AcceptedReports
	case 2:
		return countDistinctTactics(history) >= s.Two.DistinctTactics
	case 3:
		return hasConsecutiveAboveThreshold(history, s.Three.ConsecutiveWeeks,
			weeklyThreshold(p, s.Three.BaselineMultiplier, s.Three.AbsoluteWeekly))
	case 4:
		return p.DocumentStatus == domain.DocumentApproved
	case 5:
		if p.DocumentStatus != domain.DocumentApproved || p.ExitInterviewAt == nil {
			return false
		}
		mean, n := recentRevenueMean(history, s.Five.WindowWeeks)
		return n >= s.Five.WindowWeeks &&
			mean >= weeklyThreshold(p, s.Five.BaselineMultiplier, s.Five.AbsoluteWeekly)
	}
	return false
}

// countConsistentReports counts credited reports delivered without more
// than maxGap credit-less weeks between consecutive ones. A longer gap
// restarts the streak.
func countConsistentReports(history []repo.WeekRecord, maxGap int) int {
	count := 0
	lastWeek := 0
	for _, rec := range history {
		if creditedReport(rec) == nil {
			continue
		}
		if lastWeek > 0 && rec.Cycle.Week-lastWeek-1 > maxGap {
			count = 0
		}
		count++
		lastWeek = rec.Cycle.Week
	}
	return count
}

func countDistinctTactics(history []repo.WeekRecord) int {
	seen := map[string]struct{}{}
	for _, rec := range history {
		if creditedReport(rec) == nil || rec.Commit == nil {
			continue
		}
		label := rec.Commit.Tactic
		if label == "" {
			label = rec.Commit.Action
		}
		label = strings.ToLower(strings.TrimSpace(label))
		if label != "" {
			seen[label] = struct{}{}
		}
	}
	return len(seen)
}

func hasConsecutiveAboveThreshold(history []repo.WeekRecord, weeks int, threshold float64) bool {
	run := 0
	lastWeek := 0
	for _, rec := range history {
		rep := creditedReport(rec)
		if rep == nil || rep.Revenue < threshold {
			run = 0
			lastWeek = 0
			continue
		}
		if lastWeek > 0 && rec.Cycle.Week != lastWeek+1 {
			run = 0
		}
		run++
		lastWeek = rec.Cycle.Week
		if run >= weeks {
			return true
		}
	}
	return false
}

// recentRevenueMean averages revenue over the last window credited
// reports and reports how many were available.
func recentRevenueMean(history []repo.WeekRecord, window int) (float64, int) {
	var revenues []float64
	for _, rec := range history {
		if rep := creditedReport(rec); rep != nil {
			revenues = append(revenues, rep.Revenue)
		}
	}
	if len(revenues) > window {
		revenues = revenues[len(revenues)-window:]
	}
	return metrics.Mean(revenues), len(revenues)
}

// maybeAdvanceStageTx re-evaluates progression after anything that can
// satisfy a requirement. Stages only move forward, one at a time, and
// graduation out of stage five ends the participant's loop.
func (e Engine) maybeAdvanceStageTx(ctx context.Context, tx *sql.Tx, p *domain.Participant, now time.Time) error {
	history, err := e.Repo.HistoryTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for p.CurrentStage < 5 && e.stageSatisfied(p.CurrentStage, *p, history) {
		p.CurrentStage++
		if err := e.Events.Append(ctx, tx, "stage.advanced", p.ProgramID, "participant", p.ID, p.ID, events.EventPayload{
			"stage": p.CurrentStage,
		}); err != nil {
			return err
		}
	}
	if p.CurrentStage == 5 && p.Status == domain.ParticipantActive && e.stageSatisfied(5, *p, history) {
		p.Status = domain.ParticipantGraduated
		if err := e.Events.Append(ctx, tx, "participant.graduated", p.ProgramID, "participant", p.ID, p.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

// remainingRequirements renders what still blocks the next stage (or
// graduation, at stage five) in submitter-facing terms.
func (e Engine) remainingRequirements(p domain.Participant, history []repo.WeekRecord) []string {
	s := e.Config.Stages
	var out []string
	switch p.CurrentStage {
	case 1:
		have := countConsistentReports(history, s.One.MaxGapWeeks)
		if have < s.One.AcceptedReports {
			out = append(out, fmt.Sprintf("%d more on-time accepted reports (max gap %d weeks)",
				s.One.AcceptedReports-have, s.One.MaxGapWeeks))
		}
	case 2:
		have := countDistinctTactics(history)
		if have < s.Two.DistinctTactics {
			out = append(out, fmt.Sprintf("%d more distinct tactics with accepted reports", s.Two.DistinctTactics-have))
		}
	case 3:
		threshold := weeklyThreshold(p, s.Three.BaselineMultiplier, s.Three.AbsoluteWeekly)
		if !hasConsecutiveAboveThreshold(history, s.Three.ConsecutiveWeeks, threshold) {
			out = append(out, fmt.Sprintf("%d consecutive weeks with revenue at or above %.2f",
				s.Three.ConsecutiveWeeks, threshold))
		}
	case 4:
		switch p.DocumentStatus {
		case domain.DocumentApproved:
		case domain.DocumentSubmitted:
			out = append(out, "system document pending mentor approval")
		default:
			out = append(out, fmt.Sprintf("system document of at least %d words", s.Four.DocumentMinWords))
		}
	case 5:
		threshold := weeklyThreshold(p, s.Five.BaselineMultiplier, s.Five.AbsoluteWeekly)
		mean, n := recentRevenueMean(history, s.Five.WindowWeeks)
		if n < s.Five.WindowWeeks || mean < threshold {
			out = append(out, fmt.Sprintf("mean revenue at or above %.2f over the last %d accepted weeks",
				threshold, s.Five.WindowWeeks))
		}
		if p.DocumentStatus != domain.DocumentApproved {
			out = append(out, "approved system document")
		}
		if p.ExitInterviewAt == nil {
			out = append(out, "exit interview")
		}
	}
	return out
}
