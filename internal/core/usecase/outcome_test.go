package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

func TestApplyCompletedOutcomeStoresResultsAndScalars(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{ID: "s-1", Status: domain.SurveyProcessing})
	uc := NewApplyDetectionOutcomeUseCase(repo)

	err := uc.Apply(context.Background(), domain.DetectionOutcome{
		SurveyID: "s-1",
		Status:   domain.SurveyCompleted,
		Trees: []domain.RawRecord{
			{"lat": 1.0, "lng": 2.0, "health": "healthy"},
			{"lat": 1.1, "lng": 2.1, "health": "stressed"},
		},
		Summary: domain.RawRecord{"tree_count": 2, "avg_ndvi": 0.55, "canopy_coverage": 31.5},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	stored := repo.surveys["s-1"]
	if stored.Status != domain.SurveyCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.TreeCount == nil || *stored.TreeCount != 2 {
		t.Fatalf("expected tree count 2, got %v", stored.TreeCount)
	}
	if stored.AverageNDVI == nil || *stored.AverageNDVI != 0.55 {
		t.Fatalf("expected average ndvi 0.55, got %v", stored.AverageNDVI)
	}
	if len(repo.trees["s-1"]) != 2 {
		t.Fatalf("expected raw trees stored, got %d", len(repo.trees["s-1"]))
	}
}

func TestApplyFailedOutcomeDefaultsMessage(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{ID: "s-1", Status: domain.SurveyProcessing})
	uc := NewApplyDetectionOutcomeUseCase(repo)

	if err := uc.Apply(context.Background(), domain.DetectionOutcome{SurveyID: "s-1", Status: domain.SurveyFailed}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	stored := repo.surveys["s-1"]
	if stored.Status != domain.SurveyFailed || stored.ErrorMessage != domain.DefaultFailureMessage {
		t.Fatalf("unexpected survey: %+v", stored)
	}
}

func TestApplyOutcomeIgnoresTerminalSurvey(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{ID: "s-1", Status: domain.SurveyCompleted})
	uc := NewApplyDetectionOutcomeUseCase(repo)

	err := uc.Apply(context.Background(), domain.DetectionOutcome{SurveyID: "s-1", Status: domain.SurveyFailed, ErrorMessage: "late"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if repo.surveys["s-1"].Status != domain.SurveyCompleted || len(repo.transitions) != 0 {
		t.Fatalf("terminal survey must not change")
	}
}

func TestApplyOutcomeRejectsNonTerminalStatus(t *testing.T) {
	uc := NewApplyDetectionOutcomeUseCase(newSurveyRepoFake())
	err := uc.Apply(context.Background(), domain.DetectionOutcome{SurveyID: "s-1", Status: domain.SurveyProcessing})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
