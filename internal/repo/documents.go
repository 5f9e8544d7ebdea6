package repo

import (
	"context"
	"database/sql"

	"revloop/internal/domain"
)

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.SystemDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO system_documents(id,participant_id,sections_json,word_count,status,submitted_at,approved_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ParticipantID, d.SectionsJSON, d.WordCount, d.Status, d.SubmittedAt, optional(d.ApprovedAt))
	return err
}

// LatestDocument returns the most recently submitted system document.
func (r Repo) LatestDocument(ctx context.Context, participantID string) (domain.SystemDocument, error) {
	var d domain.SystemDocument
	var approved sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,participant_id,sections_json,word_count,status,submitted_at,approved_at FROM system_documents WHERE participant_id=? ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		participantID).
		Scan(&d.ID, &d.ParticipantID, &d.SectionsJSON, &d.WordCount, &d.Status, &d.SubmittedAt, &approved)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if approved.Valid {
		d.ApprovedAt = &approved.String
	}
	return d, err
}

func (r Repo) ApproveDocumentTx(ctx context.Context, tx *sql.Tx, id, approvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE system_documents SET status=?, approved_at=? WHERE id=?`,
		domain.DocumentApproved, approvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
