package repo

import (
	"context"
	"database/sql"

	"revloop/internal/domain"
)

const cycleColumns = `participant_id,week,week_start,commit_status,execute_status,report_status,diagnose_status,adjust_status,commit_deadline,report_deadline,adjust_deadline,diagnose_ready_at,stage_credit,locked,finalized,COALESCE(adjust_notes,''),created_at,updated_at`

const historyCycleColumns = `c.participant_id,c.week,c.week_start,c.commit_status,c.execute_status,c.report_status,c.diagnose_status,c.adjust_status,c.commit_deadline,c.report_deadline,c.adjust_deadline,c.diagnose_ready_at,c.stage_credit,c.locked,c.finalized,c.adjust_notes,c.created_at,c.updated_at`

func scanCycle(row interface{ Scan(...any) error }) (domain.WeekCycle, error) {
	var c domain.WeekCycle
	var ready sql.NullString
	err := row.Scan(&c.ParticipantID, &c.Week, &c.WeekStart,
		&c.CommitStatus, &c.ExecuteStatus, &c.ReportStatus, &c.DiagnoseStatus, &c.AdjustStatus,
		&c.CommitDeadline, &c.ReportDeadline, &c.AdjustDeadline, &ready,
		&c.StageCredit, &c.Locked, &c.Finalized, &c.AdjustNotes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if ready.Valid {
		c.DiagnoseReadyAt = &ready.String
	}
	return c, err
}

func (r Repo) InsertCycleTx(ctx context.Context, tx *sql.Tx, c domain.WeekCycle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO week_cycles(participant_id,week,week_start,commit_status,execute_status,report_status,diagnose_status,adjust_status,commit_deadline,report_deadline,adjust_deadline,diagnose_ready_at,stage_credit,locked,finalized,adjust_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ParticipantID, c.Week, c.WeekStart,
		c.CommitStatus, c.ExecuteStatus, c.ReportStatus, c.DiagnoseStatus, c.AdjustStatus,
		c.CommitDeadline, c.ReportDeadline, c.AdjustDeadline, optional(c.DiagnoseReadyAt),
		c.StageCredit, c.Locked, c.Finalized, nullable(c.AdjustNotes), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCycle(ctx context.Context, participantID string, week int) (domain.WeekCycle, error) {
	return scanCycle(r.DB.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM week_cycles WHERE participant_id=? AND week=?`, participantID, week))
}

func (r Repo) GetCycleTx(ctx context.Context, tx *sql.Tx, participantID string, week int) (domain.WeekCycle, error) {
	return scanCycle(tx.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM week_cycles WHERE participant_id=? AND week=?`, participantID, week))
}

func (r Repo) UpdateCycleTx(ctx context.Context, tx *sql.Tx, c domain.WeekCycle) error {
	res, err := tx.ExecContext(ctx, `UPDATE week_cycles SET commit_status=?,execute_status=?,report_status=?,diagnose_status=?,adjust_status=?,diagnose_ready_at=?,stage_credit=?,locked=?,finalized=?,adjust_notes=?,updated_at=? WHERE participant_id=? AND week=?`,
		c.CommitStatus, c.ExecuteStatus, c.ReportStatus, c.DiagnoseStatus, c.AdjustStatus,
		optional(c.DiagnoseReadyAt), c.StageCredit, c.Locked, c.Finalized,
		nullable(c.AdjustNotes), c.UpdatedAt, c.ParticipantID, c.Week)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// querier lets cycle reads run either on the pool or inside a command's
// transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) ListCycles(ctx context.Context, participantID string) ([]domain.WeekCycle, error) {
	return r.listCycles(ctx, r.DB, participantID)
}

func (r Repo) ListCyclesTx(ctx context.Context, tx *sql.Tx, participantID string) ([]domain.WeekCycle, error) {
	return r.listCycles(ctx, tx, participantID)
}

func (r Repo) listCycles(ctx context.Context, q querier, participantID string) ([]domain.WeekCycle, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM week_cycles WHERE participant_id=? ORDER BY week ASC`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WeekCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertCommitTx(ctx context.Context, tx *sql.Tx, c domain.Commit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commits(participant_id,week,action,tactic,target_revenue,target_date,submitted_at,late) VALUES (?,?,?,?,?,?,?,?)`,
		c.ParticipantID, c.Week, c.Action, nullable(c.Tactic), c.TargetRevenue, c.TargetDate, c.SubmittedAt, c.Late)
	return err
}

func (r Repo) GetCommit(ctx context.Context, participantID string, week int) (domain.Commit, error) {
	return r.getCommit(ctx, r.DB, participantID, week)
}

func (r Repo) GetCommitTx(ctx context.Context, tx *sql.Tx, participantID string, week int) (domain.Commit, error) {
	return r.getCommit(ctx, tx, participantID, week)
}

func (r Repo) getCommit(ctx context.Context, q querier, participantID string, week int) (domain.Commit, error) {
	var c domain.Commit
	err := q.QueryRowContext(ctx,
		`SELECT participant_id,week,action,COALESCE(tactic,''),target_revenue,target_date,submitted_at,late FROM commits WHERE participant_id=? AND week=?`,
		participantID, week).
		Scan(&c.ParticipantID, &c.Week, &c.Action, &c.Tactic, &c.TargetRevenue, &c.TargetDate, &c.SubmittedAt, &c.Late)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// UpsertReportTx overwrites a retained rejected report on resubmission;
// the bounded resubmission window is enforced by the engine, not here.
func (r Repo) UpsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(participant_id,week,revenue,hours,narrative,evidence_count,dollar_per_hour,win_rate,status,submitted_at,late)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(participant_id,week) DO UPDATE SET revenue=excluded.revenue,hours=excluded.hours,narrative=excluded.narrative,evidence_count=excluded.evidence_count,dollar_per_hour=excluded.dollar_per_hour,win_rate=excluded.win_rate,status=excluded.status,submitted_at=excluded.submitted_at,late=excluded.late`,
		rep.ParticipantID, rep.Week, rep.Revenue, rep.Hours, rep.Narrative, rep.EvidenceCount,
		rep.DollarPerHour, rep.WinRate, rep.Status, rep.SubmittedAt, rep.Late)
	return err
}

func (r Repo) GetReport(ctx context.Context, participantID string, week int) (domain.Report, error) {
	var rep domain.Report
	err := r.DB.QueryRowContext(ctx,
		`SELECT participant_id,week,revenue,hours,narrative,evidence_count,dollar_per_hour,win_rate,status,submitted_at,late FROM reports WHERE participant_id=? AND week=?`,
		participantID, week).
		Scan(&rep.ParticipantID, &rep.Week, &rep.Revenue, &rep.Hours, &rep.Narrative, &rep.EvidenceCount,
			&rep.DollarPerHour, &rep.WinRate, &rep.Status, &rep.SubmittedAt, &rep.Late)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

// WeekRecord joins one cycle with its commit and report, if any.
type WeekRecord struct {
	Cycle  domain.WeekCycle
	Commit *domain.Commit
	Report *domain.Report
}

// History returns the full per-week record for a participant, ordered by
// week. Stage predicates evaluate over this.
func (r Repo) History(ctx context.Context, participantID string) ([]WeekRecord, error) {
	return r.history(ctx, r.DB, participantID)
}

func (r Repo) HistoryTx(ctx context.Context, tx *sql.Tx, participantID string) ([]WeekRecord, error) {
	return r.history(ctx, tx, participantID)
}

func (r Repo) history(ctx context.Context, q querier, participantID string) ([]WeekRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+historyCycleColumns+`,
m.action, m.tactic, m.target_revenue, m.target_date, m.submitted_at, m.late,
p.revenue, p.hours, p.narrative, p.evidence_count, p.dollar_per_hour, p.win_rate, p.status, p.submitted_at, p.late
FROM week_cycles c
LEFT JOIN commits m ON m.participant_id=c.participant_id AND m.week=c.week
LEFT JOIN reports p ON p.participant_id=c.participant_id AND p.week=c.week
WHERE c.participant_id=? ORDER BY c.week ASC`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WeekRecord
	for rows.Next() {
		var rec WeekRecord
		c := &rec.Cycle
		var ready, notes sql.NullString
		var action, tactic, targetDate, commitAt sql.NullString
		var targetRevenue sql.NullFloat64
		var commitLate sql.NullBool
		var revenue, hours, dph, winRate sql.NullFloat64
		var narrative, reportStatus, reportAt sql.NullString
		var evidence sql.NullInt64
		var reportLate sql.NullBool
		if err := rows.Scan(&c.ParticipantID, &c.Week, &c.WeekStart,
			&c.CommitStatus, &c.ExecuteStatus, &c.ReportStatus, &c.DiagnoseStatus, &c.AdjustStatus,
			&c.CommitDeadline, &c.ReportDeadline, &c.AdjustDeadline, &ready,
			&c.StageCredit, &c.Locked, &c.Finalized, &notes, &c.CreatedAt, &c.UpdatedAt,
			&action, &tactic, &targetRevenue, &targetDate, &commitAt, &commitLate,
			&revenue, &hours, &narrative, &evidence, &dph, &winRate, &reportStatus, &reportAt, &reportLate,
		); err != nil {
			return nil, err
		}
		if ready.Valid {
			c.DiagnoseReadyAt = &ready.String
		}
		if notes.Valid {
			c.AdjustNotes = notes.String
		}
		if action.Valid {
			rec.Commit = &domain.Commit{
				ParticipantID: c.ParticipantID,
				Week:          c.Week,
				Action:        action.String,
				Tactic:        tactic.String,
				TargetRevenue: targetRevenue.Float64,
				TargetDate:    targetDate.String,
				SubmittedAt:   commitAt.String,
				Late:          commitLate.Bool,
			}
		}
		if reportStatus.Valid {
			rec.Report = &domain.Report{
				ParticipantID: c.ParticipantID,
				Week:          c.Week,
				Revenue:       revenue.Float64,
				Hours:         hours.Float64,
				Narrative:     narrative.String,
				EvidenceCount: int(evidence.Int64),
				DollarPerHour: dph.Float64,
				WinRate:       winRate.Float64,
				Status:        reportStatus.String,
				SubmittedAt:   reportAt.String,
				Late:          reportLate.Bool,
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
