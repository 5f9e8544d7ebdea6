package validate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revloop/internal/config"
	"revloop/internal/domain"
	"revloop/internal/engine/validate"
)

func defaultRules(t *testing.T) validate.Rules {
	t.Helper()
	return validate.FromConfig(config.Default("prog-1"))
}

func TestCommitVagueLanguage(t *testing.T) {
	r := defaultRules(t)
	err := r.Commit("I will Try To call some leads and see what happens", 5000, "2025-06-06")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeVagueLanguage))
	f, ok := domain.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, "try to", f.Details["phrase"])
}

func TestCommitFirstFailureWins(t *testing.T) {
	// Both vague and too short: vague language is reported because the
	// checks run in a fixed order.
	r := defaultRules(t)
	err := r.Commit("maybe call", 0, "")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeVagueLanguage))
}

func TestCommitTooShort(t *testing.T) {
	r := defaultRules(t)
	err := r.Commit("Call 5 leads", 5000, "2025-06-06")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeTooShort))
}

func TestCommitInvalidTarget(t *testing.T) {
	r := defaultRules(t)
	err := r.Commit("Call 20 dormant leads and book 5 demos", 0, "2025-06-06")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidTarget))

	err = r.Commit("Call 20 dormant leads and book 5 demos", -100, "2025-06-06")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidTarget))
}

func TestCommitMissingDate(t *testing.T) {
	r := defaultRules(t)
	err := r.Commit("Call 20 dormant leads and book 5 demos", 5000, "   ")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeMissingDate))
}

func TestCommitAccepted(t *testing.T) {
	r := defaultRules(t)
	assert.NoError(t, r.Commit("Call 20 dormant leads and book 5 demos", 5000, "2025-06-06"))
}

func TestReportZeroRevenueAllowed(t *testing.T) {
	r := defaultRules(t)
	narrative := "Called twenty dormant leads; nobody closed but two proposals went out."
	assert.NoError(t, r.Report(0, 12.5, narrative, 1))
}

func TestReportInvalidHours(t *testing.T) {
	r := defaultRules(t)
	narrative := "Called twenty dormant leads; nobody closed but two proposals went out."
	err := r.Report(3500, 0, narrative, 1)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidHours))
}

func TestReportNarrativeTooShort(t *testing.T) {
	r := defaultRules(t)
	err := r.Report(3500, 12.5, "it went fine", 1)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNarrativeTooShort))
}

func TestReportMissingEvidence(t *testing.T) {
	r := defaultRules(t)
	narrative := "Called twenty dormant leads; nobody closed but two proposals went out."
	err := r.Report(3500, 12.5, narrative, 0)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeMissingEvidence))
}

func section(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words))
}

func fullSections(r validate.Rules, perSection int) map[string]string {
	sections := make(map[string]string, len(r.Sections))
	for _, name := range r.Sections {
		sections[name] = section(perSection)
	}
	return sections
}

func TestSystemDocumentAccepted(t *testing.T) {
	r := defaultRules(t)
	total, err := r.SystemDocument(fullSections(r, 200))
	require.NoError(t, err)
	assert.Equal(t, 200*len(r.Sections), total)
}

func TestSystemDocumentMissingSection(t *testing.T) {
	r := defaultRules(t)
	sections := fullSections(r, 200)
	delete(sections, "pricing")
	_, err := r.SystemDocument(sections)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeSectionTooShort))
	f, ok := domain.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, "pricing", f.Details["section"])
}

func TestSystemDocumentBelowTotalFloor(t *testing.T) {
	// Each section clears its own minimum but the document stays thin.
	r := defaultRules(t)
	_, err := r.SystemDocument(fullSections(r, r.SectionMinWords))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeDocumentTooShort))
}

func TestSystemDocumentExtraSectionsCount(t *testing.T) {
	r := defaultRules(t)
	sections := fullSections(r, r.SectionMinWords)
	sections["appendix"] = section(r.DocumentMinWords)
	total, err := r.SystemDocument(sections)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, r.DocumentMinWords)
}
