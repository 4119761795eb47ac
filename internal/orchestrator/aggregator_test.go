package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

func completedSurvey(id string) domain.Survey {
	return domain.Survey{ID: id, FieldID: "field-1", Status: domain.SurveyCompleted}
}

func TestAggregatorDropsTreesWithoutPosition(t *testing.T) {
	source := &resultSourceFake{
		trees: []domain.RawRecord{
			{"id": "1", "latitude": 10.0, "longitude": 20.0, "confidence": 0.9, "health_category": "healthy"},
			{"id": "2", "lat": 10.1, "lng": 20.1, "detection_confidence": 0.8, "health_category": "stressed"},
			{"id": "3", "lat": 10.2, "lon": 20.2},
			{"id": "4", "position": map[string]any{"latitude": 10.3, "longitude": 20.3}},
			{"id": "5", "confidence": 0.4},
		},
		summary: domain.RawRecord{"total_trees": 4, "health_distribution": map[string]any{"healthy": 1, "stressed": 1, "unknown": 2}},
	}
	aggregator := NewResultAggregator(source, nil, nil)

	results, err := aggregator.Load(context.Background(), completedSurvey("s-1"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(results.Trees) != 4 {
		t.Fatalf("expected 4 normalized trees, got %d", len(results.Trees))
	}
	if results.DroppedTrees != 1 {
		t.Fatalf("expected 1 dropped tree, got %d", results.DroppedTrees)
	}
	if results.Trees[2].Health != domain.HealthUnknown {
		t.Fatalf("expected missing health to default to unknown, got %s", results.Trees[2].Health)
	}
	if results.Summary.Inconsistent {
		t.Fatalf("expected consistent summary")
	}
}

func TestAggregatorFailsAsWholeWhenOneFetchFails(t *testing.T) {
	source := &resultSourceFake{
		trees:      []domain.RawRecord{{"lat": 1.0, "lng": 2.0}},
		summaryErr: errNetwork,
	}
	aggregator := NewResultAggregator(source, nil, nil)

	results, err := aggregator.Load(context.Background(), completedSurvey("s-1"))
	if !errors.Is(err, errNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if results != nil {
		t.Fatalf("expected no partial results, got %+v", results)
	}
	if source.treeCalls != 1 || source.summaryCalls != 1 {
		t.Fatalf("expected both fetches issued, trees=%d summary=%d", source.treeCalls, source.summaryCalls)
	}
}

func TestAggregatorRequiresCompletedSurvey(t *testing.T) {
	source := &resultSourceFake{}
	aggregator := NewResultAggregator(source, nil, nil)

	_, err := aggregator.Load(context.Background(), domain.Survey{ID: "s-1", Status: domain.SurveyFailed})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if source.calls() != 0 {
		t.Fatalf("expected no fetches for a non-completed survey")
	}
}

func TestAggregatorFlagsInconsistentSummary(t *testing.T) {
	source := &resultSourceFake{
		summary: domain.RawRecord{"total_trees": 4, "health_distribution": map[string]any{"healthy": 3, "stressed": 2}},
	}
	aggregator := NewResultAggregator(source, nil, nil)

	results, err := aggregator.Load(context.Background(), completedSurvey("s-1"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !results.Summary.Inconsistent {
		t.Fatalf("expected inconsistent summary to be flagged")
	}
}

// rendezvousSource answers each fetch only after the other fetch has started.
type rendezvousSource struct {
	treesEntered   chan struct{}
	summaryEntered chan struct{}
}

var errFetchedInSequence = errors.New("other fetch never started")

func (s *rendezvousSource) GetTrees(ctx context.Context, _ string) ([]domain.RawRecord, error) {
	close(s.treesEntered)
	if err := s.await(ctx, s.summaryEntered); err != nil {
		return nil, err
	}
	return []domain.RawRecord{{"id": "t1", "lat": 1.0, "lng": 2.0, "health": "healthy"}}, nil
}

func (s *rendezvousSource) GetHealthSummary(ctx context.Context, _ string) (domain.RawRecord, error) {
	close(s.summaryEntered)
	if err := s.await(ctx, s.treesEntered); err != nil {
		return nil, err
	}
	return domain.RawRecord{"total_trees": 1}, nil
}

func (s *rendezvousSource) await(ctx context.Context, other <-chan struct{}) error {
	select {
	case <-other:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return errFetchedInSequence
	}
}

func TestAggregatorFetchesTreesAndSummaryTogether(t *testing.T) {
	source := &rendezvousSource{
		treesEntered:   make(chan struct{}),
		summaryEntered: make(chan struct{}),
	}
	aggregator := NewResultAggregator(source, nil, nil)

	results, err := aggregator.Load(context.Background(), completedSurvey("s-1"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(results.Trees) != 1 || results.Summary.TotalTrees != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
}
