package server

import (
	"revloop/internal/domain"
)

type CreateProgramRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type ProgramResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func programResponse(p domain.Program) ProgramResponse {
	return ProgramResponse{ID: p.ID, Status: p.Status, Description: p.Description, CreatedAt: p.CreatedAt}
}

type EnrollRequest struct {
	ID         string  `json:"id,omitempty"`
	Baseline30 float64 `json:"baseline_30"`
	Baseline90 float64 `json:"baseline_90"`
}

type CommitRequest struct {
	Week          int     `json:"week"`
	Action        string  `json:"action"`
	Tactic        string  `json:"tactic,omitempty"`
	TargetRevenue float64 `json:"target_revenue"`
	TargetDate    string  `json:"target_date"`
}

type ReportRequest struct {
	Week          int     `json:"week"`
	Revenue       float64 `json:"revenue"`
	Hours         float64 `json:"hours"`
	Narrative     string  `json:"narrative"`
	EvidenceCount int     `json:"evidence_count"`
}

type AdjustRequest struct {
	Week  int    `json:"week"`
	Notes string `json:"notes,omitempty"`
}

type ReviewRequest struct {
	Outcome string `json:"outcome" enum:"reinstate,defer_cohort,remove"`
}

type DocumentRequest struct {
	Sections map[string]string `json:"sections"`
}

type DrainRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ConfigImportRequest struct {
	YAML string `json:"yaml"`
}
