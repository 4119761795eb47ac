package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

type SurveyCatalogUseCase struct {
	repo    ports.SurveyRepository
	storage ports.ObjectStorage
}

func NewSurveyCatalogUseCase(repo ports.SurveyRepository, storage ports.ObjectStorage) *SurveyCatalogUseCase {
	return &SurveyCatalogUseCase{
		repo:    repo,
		storage: storage,
	}
}

func (uc *SurveyCatalogUseCase) List(ctx context.Context, fieldID string) ([]domain.Survey, error) {
	if strings.TrimSpace(fieldID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list surveys", errors.New("field id is required"))
	}
	surveys, err := uc.repo.ListByField(ctx, fieldID)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	for i := range surveys {
		surveys[i].Normalize()
	}
	return surveys, nil
}

func (uc *SurveyCatalogUseCase) Get(ctx context.Context, id string) (*domain.Survey, error) {
	survey, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	survey.Normalize()
	return survey, nil
}

// Delete removes the survey with its results, then its stored image.
func (uc *SurveyCatalogUseCase) Delete(ctx context.Context, id string) error {
	survey, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	if survey.StoragePath != "" {
		if err := uc.storage.Delete(ctx, survey.StoragePath); err != nil {
			slog.Warn("storage_cleanup_failed", "survey_id", id, "key", survey.StoragePath, "error", err)
		}
	}
	return nil
}

func (uc *SurveyCatalogUseCase) Trees(ctx context.Context, surveyID string) ([]domain.RawRecord, error) {
	if _, err := uc.completed(ctx, surveyID, "list trees"); err != nil {
		return nil, err
	}
	trees, err := uc.repo.ListTrees(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}
	return trees, nil
}

func (uc *SurveyCatalogUseCase) HealthSummary(ctx context.Context, surveyID string) (domain.RawRecord, error) {
	if _, err := uc.completed(ctx, surveyID, "get health summary"); err != nil {
		return nil, err
	}
	summary, err := uc.repo.GetSummary(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("get health summary: %w", err)
	}
	return summary, nil
}

func (uc *SurveyCatalogUseCase) completed(ctx context.Context, surveyID, operation string) (*domain.Survey, error) {
	survey, err := uc.repo.GetByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey.Status != domain.SurveyCompleted {
		return nil, domain.WrapError(
			domain.ErrConflict,
			operation,
			fmt.Errorf("survey %s is %s", surveyID, survey.Status),
		)
	}
	return survey, nil
}
