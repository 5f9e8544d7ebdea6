package repo

import (
	"context"
	"database/sql"

	"revloop/internal/domain"
)

const participantColumns = `id,program_id,enrolled_at,baseline_30,baseline_90,current_stage,current_week,consecutive_misses,status,COALESCE(lock_reason,''),COALESCE(document_status,''),exit_interview_at,created_at,updated_at`

func scanParticipant(row interface{ Scan(...any) error }) (domain.Participant, error) {
	var p domain.Participant
	var exitAt sql.NullString
	err := row.Scan(&p.ID, &p.ProgramID, &p.EnrolledAt, &p.Baseline30, &p.Baseline90,
		&p.CurrentStage, &p.CurrentWeek, &p.ConsecutiveMisses, &p.Status,
		&p.LockReason, &p.DocumentStatus, &exitAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if exitAt.Valid {
		p.ExitInterviewAt = &exitAt.String
	}
	return p, err
}

func (r Repo) InsertParticipantTx(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(id,program_id,enrolled_at,baseline_30,baseline_90,current_stage,current_week,consecutive_misses,status,lock_reason,document_status,exit_interview_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProgramID, p.EnrolledAt, p.Baseline30, p.Baseline90,
		p.CurrentStage, p.CurrentWeek, p.ConsecutiveMisses, p.Status,
		nullable(p.LockReason), nullable(p.DocumentStatus), optional(p.ExitInterviewAt),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id=?`, id))
}

func (r Repo) ListParticipants(ctx context.Context, programID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE program_id=? ORDER BY enrolled_at ASC, id ASC`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListActiveParticipants returns participants the tick sweep still owns:
// active or under review. Terminal states are skipped at the source.
func (r Repo) ListActiveParticipants(ctx context.Context, programID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE program_id=? AND status IN (?,?) ORDER BY id ASC`,
		programID, domain.ParticipantActive, domain.ParticipantUnderReview)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateParticipantTx(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	res, err := tx.ExecContext(ctx, `UPDATE participants SET current_stage=?,current_week=?,consecutive_misses=?,status=?,lock_reason=?,document_status=?,exit_interview_at=?,updated_at=? WHERE id=?`,
		p.CurrentStage, p.CurrentWeek, p.ConsecutiveMisses, p.Status,
		nullable(p.LockReason), nullable(p.DocumentStatus), optional(p.ExitInterviewAt),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
