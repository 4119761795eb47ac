package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/normalize"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

// Results is the canonical view of a completed survey handed to the presentation layer.
type Results struct {
	SurveyID     string
	Trees        []domain.DetectedTree
	Summary      domain.HealthSummary
	DroppedTrees int
}

type ResultAggregator struct {
	source  ports.ResultSource
	logger  *slog.Logger
	metrics Metrics
}

func NewResultAggregator(source ports.ResultSource, logger *slog.Logger, metrics Metrics) *ResultAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ResultAggregator{
		source:  source,
		logger:  logger,
		metrics: metrics,
	}
}

// Load fetches trees and the health summary of a completed survey together and returns
// both normalized, or neither.
func (a *ResultAggregator) Load(ctx context.Context, survey domain.Survey) (*Results, error) {
	if survey.Status != domain.SurveyCompleted {
		return nil, domain.WrapError(
			domain.ErrConflict,
			"load results",
			fmt.Errorf("survey %s is %s", survey.ID, survey.Status),
		)
	}

	var (
		rawTrees   []domain.RawRecord
		rawSummary domain.RawRecord
		g          errgroup.Group
	)
	g.Go(func() error {
		trees, err := a.source.GetTrees(ctx, survey.ID)
		if err != nil {
			return fmt.Errorf("fetch trees: %w", err)
		}
		rawTrees = trees
		return nil
	})
	g.Go(func() error {
		summary, err := a.source.GetHealthSummary(ctx, survey.ID)
		if err != nil {
			return fmt.Errorf("fetch health summary: %w", err)
		}
		rawSummary = summary
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	trees, dropped := normalize.Trees(rawTrees)
	summary := normalize.Summary(survey.ID, rawSummary, trees)

	if dropped > 0 {
		a.logger.Info("trees_without_position_dropped", "survey_id", survey.ID, "dropped", dropped)
	}
	if summary.Inconsistent {
		a.logger.Warn("summary_inconsistent",
			"survey_id", survey.ID,
			"total_trees", summary.TotalTrees,
			"category_total", summary.CategoryTotal(),
		)
	}
	a.metrics.ResultsLoaded(len(trees), dropped, summary.Inconsistent)

	return &Results{
		SurveyID:     survey.ID,
		Trees:        trees,
		Summary:      summary,
		DroppedTrees: dropped,
	}, nil
}
