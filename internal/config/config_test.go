package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revloop/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default("prog-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "prog-1", cfg.Program.ID)
	assert.Equal(t, 12, cfg.Program.LengthWeeks)
	assert.Equal(t, 9, cfg.Deadlines.CommitHours)
	assert.Equal(t, 113, cfg.Deadlines.ReportHours)
	assert.Equal(t, 165, cfg.Deadlines.AdjustHours)
	assert.Equal(t, 2, cfg.Escalation.MissThreshold)
	assert.Len(t, cfg.Stages.Four.Sections, 5)
}

func TestValidateRejectsUnorderedDeadlines(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Deadlines.ReportHours = cfg.Deadlines.CommitHours
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit < report < adjust")
}

func TestValidateRejectsDeadlineBeyondWeek(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Deadlines.AdjustHours = 200
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adjust_hours")
}

func TestValidateRequiresBannedPhrases(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Rules.BannedPhrases = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "banned_phrases")
}

func TestValidateRejectsWindowBeyondProgram(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Stages.Five.WindowWeeks = cfg.Program.LengthWeeks + 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_weeks")
}

func TestValidateRequiresAbsoluteFallbacks(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Stages.Three.AbsoluteWeekly = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute_weekly")
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	_, err := config.FromYAML([]byte("program: [not a mapping"))
	assert.Error(t, err)
}

func TestFromYAMLRoundTrip(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("prog-2")))
	require.NoError(t, err)
	assert.Equal(t, "prog-2", cfg.Program.ID)
}

func TestWebhookNeedsURL(t *testing.T) {
	cfg := config.Default("prog-1")
	cfg.Webhooks = []config.WebhookConfig{{Secret: "s"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhooks[0].url")
}
