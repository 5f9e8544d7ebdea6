package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"revloop/internal/config"
	"revloop/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO programs(id,status,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	var p domain.Program
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,status,description,created_at FROM programs WHERE id=?`, id).
		Scan(&p.ID, &p.Status, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

// SingleProgram returns the only program in the workspace, or an error
// telling the caller to disambiguate.
func (r Repo) SingleProgram(ctx context.Context) (domain.Program, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,COALESCE(description,''),created_at FROM programs`)
	if err != nil {
		return domain.Program{}, err
	}
	defer rows.Close()
	var programs []domain.Program
	for rows.Next() {
		var p domain.Program
		if err := rows.Scan(&p.ID, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return domain.Program{}, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Program{}, err
	}
	if len(programs) == 0 {
		return domain.Program{}, ErrNotFound
	}
	if len(programs) > 1 {
		return domain.Program{}, fmt.Errorf("multiple programs exist; specify --program")
	}
	return programs[0], nil
}

func (r Repo) ListPrograms(ctx context.Context) ([]domain.Program, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,status,COALESCE(description,''),created_at FROM programs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		var p domain.Program
		if err := rows.Scan(&p.ID, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertProgramConfig(ctx context.Context, programID string, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertProgramConfigTx(ctx, tx, programID, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpsertProgramConfigTx(ctx context.Context, tx *sql.Tx, programID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Program.ID = programID
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO program_configs(program_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(program_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`,
		programID, string(data), now)
	return err
}

func (r Repo) GetProgramConfig(ctx context.Context, programID string) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM program_configs WHERE program_id=?`, programID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
