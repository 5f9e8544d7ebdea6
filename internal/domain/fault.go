package domain

import (
	"errors"
	"fmt"
)

// FaultClass groups error codes by the kind of action that resolves them.
type FaultClass string

const (
	FaultValidation FaultClass = "validation"
	FaultSequencing FaultClass = "sequencing"
	FaultEscalation FaultClass = "escalation"
	FaultStage      FaultClass = "stage"
	FaultNotFound   FaultClass = "not_found"
)

// Error codes surfaced to submitters. All are expected, recoverable
// domain outcomes, not programmer errors.
const (
	CodeVagueLanguage     = "vague_language"
	CodeTooShort          = "too_short"
	CodeInvalidTarget     = "invalid_target"
	CodeMissingDate       = "missing_date"
	CodeInvalidHours      = "invalid_hours"
	CodeNarrativeTooShort = "narrative_too_short"
	CodeMissingEvidence   = "missing_evidence"
	CodeSectionTooShort   = "section_too_short"
	CodeDocumentTooShort  = "document_too_short"

	CodeReportLocked     = "report_locked"
	CodeAdjustLocked     = "adjust_locked"
	CodeWeekLocked       = "week_locked"
	CodeAlreadySubmitted = "already_submitted"
	CodeDeadlinePassed   = "deadline_passed"

	CodeUnderReview         = "under_review"
	CodeParticipantInactive = "participant_inactive"
	CodeNotUnderReview      = "not_under_review"

	CodeStageLocked = "stage_locked"
	CodeNotFound    = "not_found"
)

// Fault is the typed failure every command or query can return.
type Fault struct {
	Class   FaultClass     `json:"class"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func ValidationFault(code, format string, args ...any) *Fault {
	return &Fault{Class: FaultValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func SequencingFault(code, format string, args ...any) *Fault {
	return &Fault{Class: FaultSequencing, Code: code, Message: fmt.Sprintf(format, args...)}
}

func EscalationFault(code, format string, args ...any) *Fault {
	return &Fault{Class: FaultEscalation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundFault(format string, args ...any) *Fault {
	return &Fault{Class: FaultNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// StageLockedFault reports an attempt to reach content above the current
// stage. Details always carry the unmet requirements of the current stage.
func StageLockedFault(current, requested int, remaining []string) *Fault {
	return &Fault{
		Class:   FaultStage,
		Code:    CodeStageLocked,
		Message: fmt.Sprintf("stage %d content is locked at stage %d", requested, current),
		Details: map[string]any{
			"current_stage":   current,
			"requested_stage": requested,
			"remaining":       remaining,
		},
	}
}

// WithDetail returns the fault with one detail attached.
func (f *Fault) WithDetail(key string, value any) *Fault {
	if f.Details == nil {
		f.Details = map[string]any{}
	}
	f.Details[key] = value
	return f
}

// AsFault unwraps err into a *Fault when it carries one.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsCode reports whether err is a Fault with the given code.
func IsCode(err error, code string) bool {
	f, ok := AsFault(err)
	return ok && f.Code == code
}
