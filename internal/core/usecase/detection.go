package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

var detectableStatuses = []domain.SurveyStatus{domain.SurveyPending, domain.SurveyFailed}

type RequestDetectionUseCase struct {
	repo  ports.SurveyRepository
	queue ports.DetectionQueue
}

func NewRequestDetectionUseCase(repo ports.SurveyRepository, queue ports.DetectionQueue) *RequestDetectionUseCase {
	return &RequestDetectionUseCase{
		repo:  repo,
		queue: queue,
	}
}

// RequestDetection moves a pending or failed survey to processing and hands it to the
// detection job. When the request cannot be published the previous status is restored.
func (uc *RequestDetectionUseCase) RequestDetection(ctx context.Context, surveyID string) (*domain.Survey, error) {
	survey, err := uc.repo.GetByID(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("fetch survey by id: %w", err)
	}
	if !survey.Status.Detectable() {
		return nil, domain.WrapError(
			domain.ErrConflict,
			"request detection",
			fmt.Errorf("survey %s is %s", surveyID, survey.Status),
		)
	}
	previous := survey.Status
	previousErr := survey.ErrorMessage

	if err := uc.repo.TransitionStatus(ctx, surveyID, detectableStatuses, domain.SurveyProcessing, ""); err != nil {
		return nil, fmt.Errorf("set status=processing: %w", err)
	}

	publishErr := uc.queue.PublishDetectionRequested(ctx, domain.DetectionRequest{
		SurveyID:    survey.ID,
		FieldID:     survey.FieldID,
		StoragePath: survey.StoragePath,
		Filename:    survey.Filename,
	})
	if publishErr != nil {
		restoreErr := uc.repo.TransitionStatus(
			ctx,
			surveyID,
			[]domain.SurveyStatus{domain.SurveyProcessing},
			previous,
			previousErr,
		)
		if restoreErr != nil {
			slog.Error("detection_status_restore_failed", "survey_id", surveyID, "error", restoreErr)
			return nil, errors.Join(fmt.Errorf("publish detection request: %w", publishErr), restoreErr)
		}
		return nil, fmt.Errorf("publish detection request: %w", publishErr)
	}

	survey.Status = domain.SurveyProcessing
	survey.ErrorMessage = ""
	survey.ClearSummary()
	return survey, nil
}
