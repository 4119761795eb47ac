package domain

import (
	"strings"
	"time"
)

type SurveyStatus string

const (
	SurveyPending    SurveyStatus = "pending"
	SurveyProcessing SurveyStatus = "processing"
	SurveyCompleted  SurveyStatus = "completed"
	SurveyFailed     SurveyStatus = "failed"
)

func (s SurveyStatus) Valid() bool {
	switch s {
	case SurveyPending, SurveyProcessing, SurveyCompleted, SurveyFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the remote job has finished with the survey.
func (s SurveyStatus) Terminal() bool {
	return s == SurveyCompleted || s == SurveyFailed
}

// Detectable reports whether detection may be (re)requested from this status.
func (s SurveyStatus) Detectable() bool {
	return s == SurveyPending || s == SurveyFailed
}

// DefaultFailureMessage stands in for a failed job that reported no reason.
const DefaultFailureMessage = "detection failed"

// Survey is one uploaded image and its asynchronous analysis job.
type Survey struct {
	ID           string       `json:"id"`
	FieldID      string       `json:"field_id"`
	Filename     string       `json:"filename"`
	StoragePath  string       `json:"-"`
	SizeBytes    int64        `json:"size_bytes,omitempty"`
	CaptureDate  string       `json:"capture_date,omitempty"`
	Source       string       `json:"source,omitempty"`
	Status       SurveyStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`

	TreeCount             *int     `json:"tree_count,omitempty"`
	TreesPerAcre          *float64 `json:"trees_per_acre,omitempty"`
	AverageNDVI           *float64 `json:"average_ndvi,omitempty"`
	CanopyCoveragePercent *float64 `json:"canopy_coverage_percent,omitempty"`
	AverageConfidence     *float64 `json:"average_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSummary reports whether any completion scalar is populated.
func (s *Survey) HasSummary() bool {
	return s.TreeCount != nil || s.TreesPerAcre != nil || s.AverageNDVI != nil ||
		s.CanopyCoveragePercent != nil || s.AverageConfidence != nil
}

// Normalize enforces the status invariants on a survey read from an untrusted source:
// error message only when failed, summary scalars only when completed.
func (s *Survey) Normalize() {
	if s.Status != SurveyFailed {
		s.ErrorMessage = ""
	} else if strings.TrimSpace(s.ErrorMessage) == "" {
		s.ErrorMessage = DefaultFailureMessage
	}
	if s.Status != SurveyCompleted {
		s.ClearSummary()
	}
}

func (s *Survey) ClearSummary() {
	s.TreeCount = nil
	s.TreesPerAcre = nil
	s.AverageNDVI = nil
	s.CanopyCoveragePercent = nil
	s.AverageConfidence = nil
}

// ApplySummary copies the summary scalars onto the survey record.
func (s *Survey) ApplySummary(summary HealthSummary) {
	total := summary.TotalTrees
	s.TreeCount = &total
	s.TreesPerAcre = summary.TreesPerAcre
	s.AverageNDVI = summary.AverageNDVI
	s.CanopyCoveragePercent = summary.CanopyCoveragePercent
	s.AverageConfidence = summary.AverageConfidence
}
