package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"revloop/internal/domain"
)

// AppendIntentTx records a notification intent inside the command's
// transaction, so an intent exists iff the transition that caused it
// committed.
func (r Repo) AppendIntentTx(ctx context.Context, tx *sql.Tx, participantID, kind, occurredAt string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO intents(participant_id,kind,occurred_at,payload_json) VALUES (?,?,?,?)`,
		participantID, kind, occurredAt, string(data))
	return err
}

// DrainIntents returns undrained intents in append order and marks them
// drained. Each intent is returned exactly once.
func (r Repo) DrainIntents(ctx context.Context, limit int, drainedAt string) ([]domain.NotificationIntent, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := `SELECT id,participant_id,kind,occurred_at,payload_json FROM intents WHERE drained_at IS NULL ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.NotificationIntent
	var ids []string
	var idArgs []any
	for rows.Next() {
		var in domain.NotificationIntent
		if err := rows.Scan(&in.ID, &in.ParticipantID, &in.Kind, &in.OccurredAt, &in.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		in.DrainedAt = &drainedAt
		res = append(res, in)
		ids = append(ids, "?")
		idArgs = append(idArgs, in.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, tx.Commit()
	}
	idArgs = append([]any{drainedAt}, idArgs...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE intents SET drained_at=? WHERE id IN (`+strings.Join(ids, ",")+`)`, idArgs...); err != nil {
		return nil, err
	}
	return res, tx.Commit()
}

// PendingIntentCount reports how many intents await delivery.
func (r Repo) PendingIntentCount(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM intents WHERE drained_at IS NULL`).Scan(&n)
	return n, err
}

// ListIntents returns intents for a participant, drained or not, in
// append order. Read-only; never consumes.
func (r Repo) ListIntents(ctx context.Context, participantID string, limit int) ([]domain.NotificationIntent, error) {
	q := `SELECT id,participant_id,kind,occurred_at,payload_json,drained_at FROM intents WHERE participant_id=? ORDER BY id ASC`
	args := []any{participantID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NotificationIntent
	for rows.Next() {
		var in domain.NotificationIntent
		var drained sql.NullString
		if err := rows.Scan(&in.ID, &in.ParticipantID, &in.Kind, &in.OccurredAt, &in.Payload, &drained); err != nil {
			return nil, err
		}
		if drained.Valid {
			in.DrainedAt = &drained.String
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
