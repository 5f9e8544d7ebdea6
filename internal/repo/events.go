package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"revloop/internal/domain"
)

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	var programID, entityID, participantID sql.NullString
	err := rows.Scan(&e.ID, &e.TS, &e.Type, &programID, &e.EntityKind, &entityID, &participantID, &e.Payload)
	if programID.Valid {
		e.ProgramID = programID.String
	}
	if entityID.Valid {
		e.EntityID = entityID.String
	}
	if participantID.Valid {
		e.ParticipantID = participantID.String
	}
	return e, err
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, programID, evtType, entityKind, participantID string) ([]domain.Event, error) {
	var conds []string
	var args []any
	if programID != "" {
		conds = append(conds, "program_id=?")
		args = append(args, programID)
	}
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if participantID != "" {
		conds = append(conds, "participant_id=?")
		args = append(args, participantID)
	}
	q := `SELECT id,ts,type,program_id,entity_kind,entity_id,participant_id,payload_json FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id > cursor in append order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, programID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,program_id,entity_kind,entity_id,participant_id,payload_json FROM events WHERE id>? AND program_id=? ORDER BY id ASC LIMIT ?`,
		cursor, programID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, programID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE program_id=?`, programID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
