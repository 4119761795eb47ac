package orchestrator

import (
	"context"
	"fmt"
	"io"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

// Uploader validates a candidate image locally and transfers it. Nothing is sent when
// validation fails.
type Uploader struct {
	gateway  ports.SurveyGateway
	maxBytes int64
}

func NewUploader(gateway ports.SurveyGateway, maxBytes int64) *Uploader {
	return &Uploader{gateway: gateway, maxBytes: maxBytes}
}

func (u *Uploader) Upload(ctx context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error) {
	if err := candidate.Validate(u.maxBytes); err != nil {
		return nil, err
	}
	if candidate.SizeBytes < 0 {
		return nil, &domain.ValidationError{
			Rule:    domain.RuleUnknownSize,
			Message: fmt.Sprintf("size of %q must be known before upload", candidate.Filename),
		}
	}
	bounded := &boundedReader{r: body, limit: candidate.SizeBytes}
	survey, err := u.gateway.Create(ctx, candidate, bounded)
	if bounded.err != nil {
		return nil, bounded.err
	}
	if err != nil {
		return nil, fmt.Errorf("upload survey: %w", err)
	}
	survey.Normalize()
	return survey, nil
}

// boundedReader fails the transfer once the body grows past the validated size.
type boundedReader struct {
	r     io.Reader
	limit int64
	read  int64
	err   error
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		b.err = &domain.ValidationError{
			Rule:    domain.RuleTooLarge,
			Message: fmt.Sprintf("file body exceeds its declared size of %d bytes", b.limit),
		}
		return n - int(b.read-b.limit), b.err
	}
	return n, err
}

type DetectionTrigger struct {
	gateway ports.SurveyGateway
}

func NewDetectionTrigger(gateway ports.SurveyGateway) *DetectionTrigger {
	return &DetectionTrigger{gateway: gateway}
}

// Trigger requests (re)processing and returns the optimistic processing copy of survey.
// On failure survey is returned to the caller unchanged.
func (t *DetectionTrigger) Trigger(ctx context.Context, survey domain.Survey) (*domain.Survey, error) {
	if !survey.Status.Detectable() {
		return nil, domain.WrapError(
			domain.ErrConflict,
			"trigger detection",
			fmt.Errorf("survey %s is %s", survey.ID, survey.Status),
		)
	}
	if err := t.gateway.TriggerDetection(ctx, survey.ID); err != nil {
		return nil, fmt.Errorf("trigger detection: %w", err)
	}
	updated := survey
	updated.Status = domain.SurveyProcessing
	updated.ErrorMessage = ""
	updated.ClearSummary()
	return &updated, nil
}
