package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

func TestRequestDetectionFromFailed(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{
		ID:           "s-1",
		FieldID:      "field-1",
		StoragePath:  "s-1_a.tif",
		Status:       domain.SurveyFailed,
		ErrorMessage: "gpu out of memory",
	})
	queue := &queueFake{}
	uc := NewRequestDetectionUseCase(repo, queue)

	survey, err := uc.RequestDetection(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("RequestDetection() error = %v", err)
	}
	if survey.Status != domain.SurveyProcessing || survey.ErrorMessage != "" {
		t.Fatalf("unexpected survey: %+v", survey)
	}
	if repo.surveys["s-1"].Status != domain.SurveyProcessing {
		t.Fatalf("expected stored status processing, got %s", repo.surveys["s-1"].Status)
	}
	if len(queue.published) != 1 || queue.published[0].StoragePath != "s-1_a.tif" {
		t.Fatalf("unexpected published requests: %+v", queue.published)
	}
}

func TestRequestDetectionRejectsProcessingSurvey(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{ID: "s-1", Status: domain.SurveyProcessing})
	queue := &queueFake{}
	uc := NewRequestDetectionUseCase(repo, queue)

	_, err := uc.RequestDetection(context.Background(), "s-1")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatalf("expected no publish")
	}
}

func TestRequestDetectionRestoresStatusWhenPublishFails(t *testing.T) {
	repo := newSurveyRepoFake(domain.Survey{ID: "s-1", Status: domain.SurveyPending})
	queue := &queueFake{err: errors.New("nats down")}
	uc := NewRequestDetectionUseCase(repo, queue)

	_, err := uc.RequestDetection(context.Background(), "s-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if repo.surveys["s-1"].Status != domain.SurveyPending {
		t.Fatalf("expected status restored to pending, got %s", repo.surveys["s-1"].Status)
	}
}
