// Package validate holds the pure submission checks. Each check runs in a
// fixed order and the first failure wins, so a submitter always sees the
// same error for the same input.
package validate

import (
	"strings"

	"revloop/internal/config"
	"revloop/internal/domain"
)

type Rules struct {
	BannedPhrases      []string
	CommitMinLength    int
	NarrativeMinLength int
	MinEvidenceCount   int
	DocumentMinWords   int
	SectionMinWords    int
	Sections           []string
}

// FromConfig extracts the rule set from the program rulebook.
func FromConfig(cfg *config.Config) Rules {
	return Rules{
		BannedPhrases:      cfg.Rules.BannedPhrases,
		CommitMinLength:    cfg.Rules.CommitMinLength,
		NarrativeMinLength: cfg.Rules.NarrativeMinLength,
		MinEvidenceCount:   cfg.Rules.MinEvidenceCount,
		DocumentMinWords:   cfg.Stages.Four.DocumentMinWords,
		SectionMinWords:    cfg.Stages.Four.SectionMinWords,
		Sections:           cfg.Stages.Four.Sections,
	}
}

// Commit validates a commit statement. Check order: vague language,
// length, target, date.
func (r Rules) Commit(text string, target float64, date string) error {
	lowered := strings.ToLower(text)
	for _, phrase := range r.BannedPhrases {
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return domain.ValidationFault(domain.CodeVagueLanguage,
				"commit contains vague language %q; state a specific revenue action", phrase).
				WithDetail("phrase", phrase)
		}
	}
	if len(text) < r.CommitMinLength {
		return domain.ValidationFault(domain.CodeTooShort,
			"commit must be at least %d characters", r.CommitMinLength)
	}
	if target <= 0 {
		return domain.ValidationFault(domain.CodeInvalidTarget,
			"target revenue must be positive")
	}
	if strings.TrimSpace(date) == "" {
		return domain.ValidationFault(domain.CodeMissingDate,
			"target completion date is required")
	}
	return nil
}

// Report validates a result disclosure. Zero revenue is permitted; it
// still needs hours, a narrative, and evidence like any other report.
func (r Rules) Report(revenue, hours float64, narrative string, evidenceCount int) error {
	if hours <= 0 {
		return domain.ValidationFault(domain.CodeInvalidHours,
			"hours spent must be positive")
	}
	if len(narrative) < r.NarrativeMinLength {
		return domain.ValidationFault(domain.CodeNarrativeTooShort,
			"narrative must be at least %d characters", r.NarrativeMinLength)
	}
	if evidenceCount < r.MinEvidenceCount {
		return domain.ValidationFault(domain.CodeMissingEvidence,
			"at least %d evidence item is required", r.MinEvidenceCount)
	}
	return nil
}

// SystemDocument validates the stage-four artifact: every mandatory
// section present with enough words, and the total above the floor.
// Returns the total word count on success.
func (r Rules) SystemDocument(sections map[string]string) (int, error) {
	total := 0
	for _, name := range r.Sections {
		words := wordCount(sections[name])
		if words < r.SectionMinWords {
			return 0, domain.ValidationFault(domain.CodeSectionTooShort,
				"section %q has %d words; %d required", name, words, r.SectionMinWords).
				WithDetail("section", name)
		}
		total += words
	}
	for name, body := range sections {
		if !r.mandatory(name) {
			total += wordCount(body)
		}
	}
	if total < r.DocumentMinWords {
		return 0, domain.ValidationFault(domain.CodeDocumentTooShort,
			"document has %d words; %d required", total, r.DocumentMinWords)
	}
	return total, nil
}

func (r Rules) mandatory(name string) bool {
	for _, s := range r.Sections {
		if s == name {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
