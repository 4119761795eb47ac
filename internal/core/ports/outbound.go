package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

// SurveyRepository persists and reads survey state and detection results.
type SurveyRepository interface {
	Create(ctx context.Context, survey *domain.Survey) error
	GetByID(ctx context.Context, id string) (*domain.Survey, error)
	ListByField(ctx context.Context, fieldID string) ([]domain.Survey, error)
	Delete(ctx context.Context, id string) error
	// TransitionStatus moves a survey to status only when its current status is one of from.
	TransitionStatus(ctx context.Context, id string, from []domain.SurveyStatus, to domain.SurveyStatus, errMessage string) error
	SaveResults(ctx context.Context, survey *domain.Survey, trees []domain.RawRecord, summary domain.RawRecord) error
	ListTrees(ctx context.Context, surveyID string) ([]domain.RawRecord, error)
	GetSummary(ctx context.Context, surveyID string) (domain.RawRecord, error)
}

// ObjectStorage stores survey images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DetectionQueue publishes detection requests and consumes detection outcomes.
type DetectionQueue interface {
	PublishDetectionRequested(ctx context.Context, req domain.DetectionRequest) error
	SubscribeDetectionOutcomes(ctx context.Context, handler func(context.Context, domain.DetectionOutcome) error) error
}

// SurveyGateway is the client-side view of the remote Survey Repository.
type SurveyGateway interface {
	List(ctx context.Context, fieldID string) ([]domain.Survey, error)
	Get(ctx context.Context, id string) (*domain.Survey, error)
	Create(ctx context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error)
	Delete(ctx context.Context, id string) error
	TriggerDetection(ctx context.Context, id string) error
}

// ResultSource serves the raw detection results of a completed survey.
type ResultSource interface {
	GetTrees(ctx context.Context, surveyID string) ([]domain.RawRecord, error)
	GetHealthSummary(ctx context.Context, surveyID string) (domain.RawRecord, error)
}

// Timer is a handle to one scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing; it reports whether the call stopped it.
	Stop() bool
}

// Scheduler arms one-shot callbacks; the poller re-arms after each completed check.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}
