package ports

import (
	"context"
	"io"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

// SurveyIngestor is the inbound contract for survey image upload.
type SurveyIngestor interface {
	Upload(ctx context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error)
}

// SurveyCatalog is the inbound read/delete model for survey records and their results.
type SurveyCatalog interface {
	List(ctx context.Context, fieldID string) ([]domain.Survey, error)
	Get(ctx context.Context, id string) (*domain.Survey, error)
	Delete(ctx context.Context, id string) error
	Trees(ctx context.Context, surveyID string) ([]domain.RawRecord, error)
	HealthSummary(ctx context.Context, surveyID string) (domain.RawRecord, error)
}

// DetectionRequester is the inbound contract for (re)starting detection on a survey.
type DetectionRequester interface {
	RequestDetection(ctx context.Context, surveyID string) (*domain.Survey, error)
}

// DetectionOutcomeApplier is the inbound contract for terminal reports from the detection job.
type DetectionOutcomeApplier interface {
	Apply(ctx context.Context, outcome domain.DetectionOutcome) error
}
