package engine_test

import (
	"context"
	"testing"
	"time"

	"revloop/internal/config"
	"revloop/internal/db"
	"revloop/internal/domain"
	"revloop/internal/engine"
	"revloop/internal/migrate"
)

// enrollAt is a Monday 00:00 UTC, so with the default deadline offsets
// the commit deadline is Mon 09:00, the report deadline Fri 17:00 and
// the adjust deadline Sun 21:00.
var enrollAt = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("prog-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return enrollAt }
	ctx := context.Background()
	if _, err := eng.InitProgram(ctx, "prog-1", "test cohort"); err != nil {
		t.Fatalf("init program: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func enroll(t *testing.T, env testEnv, baseline30 float64) domain.Participant {
	t.Helper()
	p, err := env.Engine.Enroll(env.Ctx, engine.EnrollOptions{
		ParticipantID: "founder-1",
		ProgramID:     "prog-1",
		Baseline30:    baseline30,
		Baseline90:    baseline30 * 3,
		Now:           enrollAt,
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return p
}

func at(hours float64) time.Time {
	return enrollAt.Add(time.Duration(hours * float64(time.Hour)))
}

const goodAction = "Call 20 dormant leads and book 5 demos"
const goodNarrative = "Booked four demos from twenty calls; two prospects asked for proposals before Friday."

func submitCommit(t *testing.T, env testEnv, week int, now time.Time, tactic string) domain.WeekCycle {
	t.Helper()
	c, err := env.Engine.SubmitCommit(env.Ctx, engine.CommitOptions{
		ParticipantID: "founder-1",
		Week:          week,
		Action:        goodAction,
		Tactic:        tactic,
		TargetRevenue: 5000,
		TargetDate:    "2025-06-06",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("commit week %d: %v", week, err)
	}
	return c
}

func submitReport(t *testing.T, env testEnv, week int, now time.Time, revenue float64) domain.WeekCycle {
	t.Helper()
	c, err := env.Engine.SubmitReport(env.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1",
		Week:          week,
		Revenue:       revenue,
		Hours:         12.5,
		Narrative:     goodNarrative,
		EvidenceCount: 2,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("report week %d: %v", week, err)
	}
	return c
}

func TestReportRequiresCommit(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	_, err := env.Engine.SubmitReport(env.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1", Week: 1,
		Revenue: 100, Hours: 5, Narrative: goodNarrative, EvidenceCount: 1,
		Now: at(1),
	})
	if !domain.IsCode(err, domain.CodeReportLocked) {
		t.Fatalf("expected report_locked, got %v", err)
	}
	f, _ := domain.AsFault(err)
	if f.Details["unlocking_action"] != "submit_commit" {
		t.Fatalf("expected unlocking action, got %v", f.Details)
	}
}

func TestVagueCommitRejected(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	_, err := env.Engine.SubmitCommit(env.Ctx, engine.CommitOptions{
		ParticipantID: "founder-1", Week: 1,
		Action:        "try to call some leads and maybe book demos",
		TargetRevenue: 5000, TargetDate: "2025-06-06",
		Now: at(1),
	})
	if !domain.IsCode(err, domain.CodeVagueLanguage) {
		t.Fatalf("expected vague_language, got %v", err)
	}
	// nothing was recorded
	c, err := env.Engine.CurrentWeekState(env.Ctx, "founder-1", at(1))
	if err != nil || c.Cycle.CommitStatus == domain.StepComplete {
		t.Fatalf("rejected commit must not persist: %v %v", c.Cycle.CommitStatus, err)
	}
}

func TestWeeklyLoopHappyPath(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	submitCommit(t, env, 1, at(1), "cold-calls")

	// adjust before the diagnosis window is a sequencing fault
	_, err := env.Engine.SubmitAdjust(env.Ctx, engine.AdjustOptions{
		ParticipantID: "founder-1", Week: 1, Notes: "n/a", Now: at(2),
	})
	if !domain.IsCode(err, domain.CodeAdjustLocked) {
		t.Fatalf("expected adjust_locked, got %v", err)
	}

	submitReport(t, env, 1, at(100), 3500)
	rep, err := env.Engine.Repo.GetReport(env.Ctx, "founder-1", 1)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if rep.DollarPerHour != 280 || rep.WinRate != 70 {
		t.Fatalf("metrics: got %v $/h, %v%% win rate", rep.DollarPerHour, rep.WinRate)
	}

	// diagnosis is not ready until the delay elapses
	_, err = env.Engine.SubmitAdjust(env.Ctx, engine.AdjustOptions{
		ParticipantID: "founder-1", Week: 1, Notes: "double down", Now: at(101),
	})
	if !domain.IsCode(err, domain.CodeAdjustLocked) {
		t.Fatalf("expected adjust_locked before diagnosis, got %v", err)
	}

	c, err := env.Engine.SubmitAdjust(env.Ctx, engine.AdjustOptions{
		ParticipantID: "founder-1", Week: 1, Notes: "double down on referrals", Now: at(125),
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !c.Finalized || c.AdjustStatus != domain.StepComplete {
		t.Fatalf("week not finalized after adjust: %+v", c)
	}
	// the next week opened early
	p, err := env.Engine.Repo.GetParticipant(env.Ctx, "founder-1")
	if err != nil || p.CurrentWeek != 2 {
		t.Fatalf("expected week 2 open, got %d (%v)", p.CurrentWeek, err)
	}
}

func TestLateCommitLosesStageCredit(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	if _, err := env.Engine.Tick(env.Ctx, at(10)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	c, err := env.Engine.Repo.GetCycle(env.Ctx, "founder-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.CommitStatus != domain.StepMissed || !c.Locked {
		t.Fatalf("expected locked week after commit deadline, got %+v", c)
	}

	// the report stays blocked while locked
	_, err = env.Engine.SubmitReport(env.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1", Week: 1,
		Revenue: 100, Hours: 1, Narrative: goodNarrative, EvidenceCount: 1, Now: at(11),
	})
	if !domain.IsCode(err, domain.CodeWeekLocked) {
		t.Fatalf("expected week_locked, got %v", err)
	}

	// a late commit unlocks the week but never restores credit
	c = submitCommit(t, env, 1, at(12), "cold-calls")
	if c.Locked || c.StageCredit {
		t.Fatalf("late commit: locked=%v credit=%v", c.Locked, c.StageCredit)
	}
	intents, err := env.Engine.Repo.ListIntents(env.Ctx, "founder-1", 0)
	if err != nil || len(intents) != 1 || intents[0].Kind != domain.IntentLateCommit {
		t.Fatalf("expected one late-commit intent, got %v (%v)", intents, err)
	}

	// the week flows normally from here, minus progression credit
	submitReport(t, env, 1, at(100), 3500)
	st, err := env.Engine.StageStatus(env.Ctx, "founder-1")
	if err != nil || st.CurrentStage != 1 {
		t.Fatalf("credit-less report must not advance stage: %+v %v", st, err)
	}
}

func TestMissedReportEscalation(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)

	// two whole weeks pass in silence
	res, err := env.Engine.Tick(env.Ctx, at(337))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Escalated != 1 {
		t.Fatalf("expected one escalation, got %+v", res)
	}
	esc, err := env.Engine.EscalationStatus(env.Ctx, "founder-1")
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status != domain.ParticipantUnderReview || esc.ConsecutiveMisses != 2 {
		t.Fatalf("expected under review at 2 misses, got %+v", esc)
	}

	// all submissions are locked pending the mentor
	_, err = env.Engine.SubmitCommit(env.Ctx, engine.CommitOptions{
		ParticipantID: "founder-1", Week: 3,
		Action: goodAction, TargetRevenue: 5000, TargetDate: "2025-06-20", Now: at(338),
	})
	if !domain.IsCode(err, domain.CodeUnderReview) {
		t.Fatalf("expected under_review, got %v", err)
	}

	// reinstatement clears the streak
	p, err := env.Engine.ResolveReview(env.Ctx, "founder-1", domain.ReviewReinstate, at(340))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Status != domain.ParticipantActive || p.ConsecutiveMisses != 0 {
		t.Fatalf("reinstate: %+v", p)
	}
	submitCommit(t, env, 3, at(341), "webinars")
}

func TestTickIdempotent(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.Tick(env.Ctx, at(337)); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	esc, err := env.Engine.EscalationStatus(env.Ctx, "founder-1")
	if err != nil || esc.ConsecutiveMisses != 2 {
		t.Fatalf("misses must count once per week: %+v %v", esc, err)
	}
	intents, err := env.Engine.Repo.ListIntents(env.Ctx, "founder-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(intents) != 3 { // two missed reports plus the review trigger
		t.Fatalf("expected 3 intents, got %d", len(intents))
	}
}

func TestSingleMissResets(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	if _, err := env.Engine.Tick(env.Ctx, at(120)); err != nil {
		t.Fatal(err)
	}
	esc, _ := env.Engine.EscalationStatus(env.Ctx, "founder-1")
	if esc.ConsecutiveMisses != 1 || esc.Status != domain.ParticipantActive {
		t.Fatalf("one miss must not escalate: %+v", esc)
	}

	// week 2: the missed week-1 adjust is terminal and does not block
	submitCommit(t, env, 2, at(169), "cold-calls")
	submitReport(t, env, 2, at(200), 1200)
	esc, _ = env.Engine.EscalationStatus(env.Ctx, "founder-1")
	if esc.ConsecutiveMisses != 0 {
		t.Fatalf("accepted report must reset the streak: %+v", esc)
	}
}

func TestEvidenceResubmission(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	submitCommit(t, env, 1, at(1), "cold-calls")

	_, err := env.Engine.SubmitReport(env.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1", Week: 1,
		Revenue: 3500, Hours: 12.5, Narrative: goodNarrative, EvidenceCount: 0, Now: at(50),
	})
	if !domain.IsCode(err, domain.CodeMissingEvidence) {
		t.Fatalf("expected missing_evidence, got %v", err)
	}
	rep, err := env.Engine.Repo.GetReport(env.Ctx, "founder-1", 1)
	if err != nil || rep.Status != domain.ReportRejectedNoEvidence {
		t.Fatalf("rejected report must be retained: %+v %v", rep, err)
	}

	// resubmission inside the window overwrites the rejected report
	submitReport(t, env, 1, at(60), 3500)
	rep, err = env.Engine.Repo.GetReport(env.Ctx, "founder-1", 1)
	if err != nil || rep.Status != domain.ReportAccepted {
		t.Fatalf("resubmission not accepted: %+v %v", rep, err)
	}

	// but never past the report deadline
	env2 := newTestEnv(t)
	enroll(t, env2, 2400)
	submitCommit(t, env2, 1, at(1), "cold-calls")
	_, err = env2.Engine.SubmitReport(env2.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1", Week: 1,
		Revenue: 3500, Hours: 12.5, Narrative: goodNarrative, EvidenceCount: 0, Now: at(50),
	})
	if !domain.IsCode(err, domain.CodeMissingEvidence) {
		t.Fatal(err)
	}
	_, err = env2.Engine.SubmitReport(env2.Ctx, engine.ReportOptions{
		ParticipantID: "founder-1", Week: 1,
		Revenue: 3500, Hours: 12.5, Narrative: goodNarrative, EvidenceCount: 2, Now: at(114),
	})
	if !domain.IsCode(err, domain.CodeDeadlinePassed) {
		t.Fatalf("expected deadline_passed after report deadline, got %v", err)
	}
}

// completeWeek runs one full loop for the given week.
func completeWeek(t *testing.T, env testEnv, week int, tactic string, revenue float64) {
	t.Helper()
	start := float64((week - 1) * 168)
	submitCommit(t, env, week, at(start+1), tactic)
	submitReport(t, env, week, at(start+100), revenue)
	if _, err := env.Engine.SubmitAdjust(env.Ctx, engine.AdjustOptions{
		ParticipantID: "founder-1", Week: week, Notes: "keep going", Now: at(start + 125),
	}); err != nil {
		t.Fatalf("adjust week %d: %v", week, err)
	}
}

func TestStageProgression(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400) // weekly baseline 560, stage-3 bar 1120

	completeWeek(t, env, 1, "cold-calls", 600)
	st, _ := env.Engine.StageStatus(env.Ctx, "founder-1")
	if st.CurrentStage != 1 {
		t.Fatalf("one report must not advance: %+v", st)
	}

	completeWeek(t, env, 2, "webinars", 700)
	st, _ = env.Engine.StageStatus(env.Ctx, "founder-1")
	if st.CurrentStage != 2 {
		t.Fatalf("expected stage 2 after two accepted reports: %+v", st)
	}
	if len(st.Remaining) == 0 {
		t.Fatalf("expected remaining requirements for stage 2: %+v", st)
	}

	// a third distinct tactic clears stage 2
	completeWeek(t, env, 3, "referrals", 1200)
	st, _ = env.Engine.StageStatus(env.Ctx, "founder-1")
	if st.CurrentStage != 3 {
		t.Fatalf("expected stage 3 after three tactics: %+v", st)
	}

	// two consecutive weeks at 2x the weekly baseline clears stage 3
	completeWeek(t, env, 4, "referrals", 1300)
	st, _ = env.Engine.StageStatus(env.Ctx, "founder-1")
	if st.CurrentStage != 4 {
		t.Fatalf("expected stage 4 after revenue streak: %+v", st)
	}
}

func TestStageAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	if err := env.Engine.StageAccess(env.Ctx, "founder-1", 1, at(1)); err != nil {
		t.Fatalf("own stage must be open: %v", err)
	}
	err := env.Engine.StageAccess(env.Ctx, "founder-1", 3, at(1))
	if !domain.IsCode(err, domain.CodeStageLocked) {
		t.Fatalf("expected stage_locked, got %v", err)
	}
	f, _ := domain.AsFault(err)
	if f.Details["current_stage"] != 1 || f.Details["requested_stage"] != 3 {
		t.Fatalf("fault details: %+v", f.Details)
	}
	intents, err := env.Engine.Repo.ListIntents(env.Ctx, "founder-1", 0)
	if err != nil || len(intents) != 1 || intents[0].Kind != domain.IntentStageLocked {
		t.Fatalf("expected a stage-locked intent: %v (%v)", intents, err)
	}
}

func TestDrainIntentsOnce(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 2400)
	if _, err := env.Engine.Tick(env.Ctx, at(337)); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.DrainNotificationIntents(env.Ctx, 0, at(338))
	if err != nil || len(first) != 3 {
		t.Fatalf("expected 3 intents on first drain, got %d (%v)", len(first), err)
	}
	second, err := env.Engine.DrainNotificationIntents(env.Ctx, 0, at(339))
	if err != nil || len(second) != 0 {
		t.Fatalf("expected empty second drain, got %d (%v)", len(second), err)
	}
}

func TestDocumentAndGraduation(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, 0) // zero baseline: absolute revenue floors apply

	sections := map[string]string{}
	for _, name := range []string{"offer", "pipeline", "delivery", "pricing", "handoff"} {
		sections[name] = repeatWords("word", 200)
	}
	doc, err := env.Engine.SubmitSystemDocument(env.Ctx, "founder-1", sections, at(1))
	if err != nil {
		t.Fatalf("submit document: %v", err)
	}
	if doc.Status != domain.DocumentSubmitted || doc.WordCount != 1000 {
		t.Fatalf("document: %+v", doc)
	}
	if _, err := env.Engine.ApproveSystemDocument(env.Ctx, "founder-1", at(2)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// run enough weeks to clear every revenue gate at the absolute floors
	for w := 1; w <= 5; w++ {
		completeWeek(t, env, w, tacticFor(w), 2500)
	}
	if _, err := env.Engine.RecordExitInterview(env.Ctx, "founder-1", at(900)); err != nil {
		t.Fatalf("exit interview: %v", err)
	}
	p, err := env.Engine.Repo.GetParticipant(env.Ctx, "founder-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.ParticipantGraduated {
		t.Fatalf("expected graduation, got %s at stage %d", p.Status, p.CurrentStage)
	}
}

func tacticFor(week int) string {
	tactics := []string{"cold-calls", "webinars", "referrals", "partnerships", "outbound"}
	return tactics[(week-1)%len(tactics)]
}

func repeatWords(word string, n int) string {
	out := word
	for i := 1; i < n; i++ {
		out += " " + word
	}
	return out
}
