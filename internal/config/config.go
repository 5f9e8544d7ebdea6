package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config models revloop.yml: the single declarative rulebook the engine
// consumes. Every enforcement threshold lives here, never in a view.
type Config struct {
	Program struct {
		ID          string `yaml:"id"`
		LengthWeeks int    `yaml:"length_weeks"`
	} `yaml:"program"`
	Rules struct {
		BannedPhrases      []string `yaml:"banned_phrases"`
		CommitMinLength    int      `yaml:"commit_min_length"`
		NarrativeMinLength int      `yaml:"narrative_min_length"`
		MinEvidenceCount   int      `yaml:"min_evidence_count"`
	} `yaml:"rules"`
	Deadlines struct {
		// Offsets in hours from the start of each participant week.
		CommitHours int `yaml:"commit_hours"`
		ReportHours int `yaml:"report_hours"`
		AdjustHours int `yaml:"adjust_hours"`
	} `yaml:"deadlines"`
	Diagnosis struct {
		DelayHours int `yaml:"delay_hours"`
	} `yaml:"diagnosis"`
	Escalation struct {
		MissThreshold int `yaml:"miss_threshold"`
	} `yaml:"escalation"`
	Stages struct {
		One struct {
			AcceptedReports int `yaml:"accepted_reports"`
			MaxGapWeeks     int `yaml:"max_gap_weeks"`
		} `yaml:"one"`
		Two struct {
			DistinctTactics int `yaml:"distinct_tactics"`
		} `yaml:"two"`
		Three struct {
			BaselineMultiplier float64 `yaml:"baseline_multiplier"`
			ConsecutiveWeeks   int     `yaml:"consecutive_weeks"`
			AbsoluteWeekly     float64 `yaml:"absolute_weekly"`
		} `yaml:"three"`
		Four struct {
			DocumentMinWords int `yaml:"document_min_words"`
			SectionMinWords  int `yaml:"section_min_words"`
			Sections         []string `yaml:"sections"`
		} `yaml:"four"`
		Five struct {
			BaselineMultiplier float64 `yaml:"baseline_multiplier"`
			WindowWeeks        int     `yaml:"window_weeks"`
			AbsoluteWeekly     float64 `yaml:"absolute_weekly"`
		} `yaml:"five"`
	} `yaml:"stages"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Kinds          []string `yaml:"kinds,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rl program config import --file <path>", path)
		}
		return nil, eris.Wrap(err, "config: read file")
	}
	return FromYAML(data)
}

// Validate ensures the rulebook is internally consistent.
func (c *Config) Validate() error {
	if c.Program.ID == "" {
		return fmt.Errorf("config.program.id is required")
	}
	if c.Program.LengthWeeks < 1 {
		return fmt.Errorf("config.program.length_weeks must be >= 1")
	}
	if len(c.Rules.BannedPhrases) == 0 {
		return fmt.Errorf("config.rules.banned_phrases is required")
	}
	for _, p := range c.Rules.BannedPhrases {
		if p == "" {
			return fmt.Errorf("config.rules.banned_phrases contains empty phrase")
		}
	}
	if c.Rules.CommitMinLength < 1 || c.Rules.NarrativeMinLength < 1 {
		return fmt.Errorf("config.rules minimum lengths must be >= 1")
	}
	if c.Rules.MinEvidenceCount < 1 {
		return fmt.Errorf("config.rules.min_evidence_count must be >= 1")
	}
	d := c.Deadlines
	if d.CommitHours <= 0 || d.ReportHours <= 0 || d.AdjustHours <= 0 {
		return fmt.Errorf("config.deadlines offsets must be positive")
	}
	// Deadlines must be strictly increasing inside one week.
	if !(d.CommitHours < d.ReportHours && d.ReportHours < d.AdjustHours) {
		return fmt.Errorf("config.deadlines must satisfy commit < report < adjust")
	}
	if d.AdjustHours > 168 {
		return fmt.Errorf("config.deadlines.adjust_hours must fit inside the week (<= 168)")
	}
	if c.Diagnosis.DelayHours < 0 {
		return fmt.Errorf("config.diagnosis.delay_hours must be >= 0")
	}
	if c.Escalation.MissThreshold < 1 {
		return fmt.Errorf("config.escalation.miss_threshold must be >= 1")
	}
	s := c.Stages
	if s.One.AcceptedReports < 1 {
		return fmt.Errorf("config.stages.one.accepted_reports must be >= 1")
	}
	if s.One.MaxGapWeeks < 0 {
		return fmt.Errorf("config.stages.one.max_gap_weeks must be >= 0")
	}
	if s.Two.DistinctTactics < 1 {
		return fmt.Errorf("config.stages.two.distinct_tactics must be >= 1")
	}
	if s.Three.BaselineMultiplier <= 0 || s.Three.ConsecutiveWeeks < 1 {
		return fmt.Errorf("config.stages.three requires a positive multiplier and week count")
	}
	if s.Three.AbsoluteWeekly <= 0 {
		return fmt.Errorf("config.stages.three.absolute_weekly is required for zero-baseline participants")
	}
	if s.Four.DocumentMinWords < 1 || s.Four.SectionMinWords < 1 {
		return fmt.Errorf("config.stages.four word minimums must be >= 1")
	}
	if len(s.Four.Sections) == 0 {
		return fmt.Errorf("config.stages.four.sections is required")
	}
	if s.Five.BaselineMultiplier <= 0 || s.Five.WindowWeeks < 1 {
		return fmt.Errorf("config.stages.five requires a positive multiplier and window")
	}
	if s.Five.AbsoluteWeekly <= 0 {
		return fmt.Errorf("config.stages.five.absolute_weekly is required for zero-baseline participants")
	}
	if s.Five.WindowWeeks > c.Program.LengthWeeks {
		return fmt.Errorf("config.stages.five.window_weeks exceeds program length")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "revloop.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(programID string) string {
	return fmt.Sprintf(defaultTemplate, programID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "config: read file")
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a program.
func Default(programID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, programID))).Decode(&cfg)
	cfg.Program.ID = programID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "config: invalid yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "config: read file")
	}
	return FromYAML(data)
}

const defaultTemplate = `program:
  id: %s
  length_weeks: 12

rules:
  banned_phrases:
    - work on
    - try to
    - maybe
    - explore
    - think about
    - consider
  commit_min_length: 20
  narrative_min_length: 50
  min_evidence_count: 1

deadlines:
  # Hours from the start of the participant week. For a Monday 00:00
  # anchored enrollment: commit Mon 09:00, report Fri 17:00, adjust Sun 21:00.
  commit_hours: 9
  report_hours: 113
  adjust_hours: 165

diagnosis:
  delay_hours: 24

escalation:
  miss_threshold: 2

stages:
  one:
    accepted_reports: 2
    max_gap_weeks: 1
  two:
    distinct_tactics: 3
  three:
    baseline_multiplier: 2.0
    consecutive_weeks: 2
    absolute_weekly: 500
  four:
    document_min_words: 1000
    section_min_words: 50
    sections:
      - offer
      - pipeline
      - delivery
      - pricing
      - handoff
  five:
    baseline_multiplier: 4.0
    window_weeks: 3
    absolute_weekly: 2000

log:
  level: info
  format: console
`
