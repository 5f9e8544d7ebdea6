package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revloop/internal/config"
	"revloop/internal/domain"
	"revloop/internal/repo"
)

// ResolveProgramAndConfig picks the active program and ensures a program
// and rulebook exist in the DB, seeding defaults if missing. It prefers
// the override, then the single-program workspace. If the program does
// not exist, it is created on the fly.
func ResolveProgramAndConfig(ctx context.Context, programOverride string, r repo.Repo) (string, *config.Config, error) {
	programID := programOverride
	if programID == "" {
		if p, err := r.SingleProgram(ctx); err == nil {
			programID = p.ID
		} else {
			return "", nil, fmt.Errorf("program not specified; use --program")
		}
	}
	seedCfg := config.Default(programID)

	if _, err := r.GetProgram(ctx, programID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProgram(ctx, r, programID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProgramConfig(ctx, programID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProgramConfig(ctx, programID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed program config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Program.ID = programID
	return programID, cfg, nil
}

func createProgram(ctx context.Context, r repo.Repo, programID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(programID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Program{
		ID:        programID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertProgram(ctx, tx, p); err != nil {
		return fmt.Errorf("insert program: %w", err)
	}
	if err := r.UpsertProgramConfigTx(ctx, tx, programID, seedCfg); err != nil {
		return fmt.Errorf("insert program config: %w", err)
	}
	return tx.Commit()
}
