package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/normalize"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

type ApplyDetectionOutcomeUseCase struct {
	repo ports.SurveyRepository
}

func NewApplyDetectionOutcomeUseCase(repo ports.SurveyRepository) *ApplyDetectionOutcomeUseCase {
	return &ApplyDetectionOutcomeUseCase{repo: repo}
}

// Apply records the terminal outcome of a detection job. Outcomes for surveys that are not
// processing are ignored; terminal surveys never change again.
func (uc *ApplyDetectionOutcomeUseCase) Apply(ctx context.Context, outcome domain.DetectionOutcome) error {
	if strings.TrimSpace(outcome.SurveyID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "apply detection outcome", errors.New("survey id is required"))
	}
	if !outcome.Status.Terminal() {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"apply detection outcome",
			fmt.Errorf("status %q is not terminal", outcome.Status),
		)
	}

	survey, err := uc.repo.GetByID(ctx, outcome.SurveyID)
	if err != nil {
		return fmt.Errorf("fetch survey by id: %w", err)
	}
	if survey.Status != domain.SurveyProcessing {
		slog.Warn("detection_outcome_ignored",
			"survey_id", survey.ID,
			"status", survey.Status,
			"outcome", outcome.Status,
		)
		return nil
	}

	if outcome.Status == domain.SurveyFailed {
		message := strings.TrimSpace(outcome.ErrorMessage)
		if message == "" {
			message = domain.DefaultFailureMessage
		}
		if err := uc.repo.TransitionStatus(
			ctx,
			survey.ID,
			[]domain.SurveyStatus{domain.SurveyProcessing},
			domain.SurveyFailed,
			message,
		); err != nil {
			return fmt.Errorf("set status=failed: %w", err)
		}
		return nil
	}

	trees, dropped := normalize.Trees(outcome.Trees)
	summary := normalize.Summary(survey.ID, outcome.Summary, trees)
	if dropped > 0 {
		slog.Info("detection_trees_without_position", "survey_id", survey.ID, "dropped", dropped)
	}
	if summary.Inconsistent {
		slog.Warn("summary_inconsistent",
			"survey_id", survey.ID,
			"total_trees", summary.TotalTrees,
			"category_total", summary.CategoryTotal(),
		)
	}

	survey.Status = domain.SurveyCompleted
	survey.ErrorMessage = ""
	survey.ApplySummary(summary)
	survey.UpdatedAt = time.Now().UTC()

	summaryRecord := outcome.Summary
	if summaryRecord == nil {
		summaryRecord = domain.RawRecord{}
	}
	if err := uc.repo.SaveResults(ctx, survey, outcome.Trees, summaryRecord); err != nil {
		return fmt.Errorf("save detection results: %w", err)
	}
	return nil
}
