package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/canopy-survey/internal/config"
	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/resilience"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/schedule"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/surveyapi"
	"github.com/kirillkom/canopy-survey/internal/observability/logging"
	"github.com/kirillkom/canopy-survey/internal/observability/metrics"
	"github.com/kirillkom/canopy-survey/internal/orchestrator"
)

var (
	errStillProcessing = errors.New("survey is still processing, taking longer than expected")
	errDetectionFailed = errors.New("detection failed")
)

// session hosts one orchestrator and relays its events to the command waiting on them.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	client  *surveyapi.Client
	orch    *orchestrator.Orchestrator
	metrics *metrics.PollMetrics
	events  chan orchestrator.Event
	done    chan struct{}
}

func newSession(stderr io.Writer) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newSessionWith(cfg, logging.New(stderr, "surveyctl", cfg.LogLevel), nil), nil
}

func newSessionWith(cfg config.Config, logger *slog.Logger, transport http.RoundTripper) *session {
	resilienceCfg := resilience.BreakerOnly()
	resilienceCfg.BreakerEnabled = cfg.BreakerEnabled
	client := surveyapi.New(cfg.SurveyAPIURL, surveyapi.Options{
		Timeout:            cfg.HTTPClientTimeout,
		Transport:          transport,
		ResilienceExecutor: resilience.NewExecutor(resilienceCfg, logger),
		Logger:             logger,
	})

	s := &session{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		metrics: metrics.NewPollMetrics("surveyctl"),
		events:  make(chan orchestrator.Event, 64),
		done:    make(chan struct{}),
	}
	s.orch = orchestrator.New(client, client, schedule.Realtime{}, orchestrator.Options{
		PollInterval:    cfg.PollInterval,
		PollMaxDuration: cfg.PollMaxDuration,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		Logger:          logger,
		Metrics:         s.metrics,
		Observer:        s.observe,
	})
	return s
}

func (s *session) observe(event orchestrator.Event) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func (s *session) Close() {
	s.orch.Close()
	close(s.done)
}

// drain discards events emitted by commands that do not wait on the poller.
func (s *session) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// await blocks until the selected survey reaches a state a command can report: results
// loaded, detection failed, polling gave up, or an error.
func (s *session) await(ctx context.Context, surveyID string) (orchestrator.View, error) {
	for {
		view := s.orch.Snapshot()
		if view.Selected == nil || view.Selected.ID != surveyID {
			return view, fmt.Errorf("survey %s is no longer selected", surveyID)
		}
		if done, err := settled(view); done {
			return view, err
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case event := <-s.events:
			if event.SurveyID != "" && event.SurveyID != surveyID {
				continue
			}
			switch event.Kind {
			case orchestrator.EventError, orchestrator.EventResultsFailed:
				return s.orch.Snapshot(), event.Err
			case orchestrator.EventPollingStarted:
				s.logger.Info("watching_survey", "survey_id", surveyID, "interval", s.cfg.PollInterval.String())
			}
		}
	}
}

func settled(view orchestrator.View) (bool, error) {
	switch {
	case view.LastError != nil:
		return true, view.LastError
	case view.SlowProcessing:
		return true, errStillProcessing
	case view.Polling:
		return false, nil
	case view.Selected.Status == domain.SurveyFailed:
		return true, fmt.Errorf("%w: %s", errDetectionFailed, view.Selected.ErrorMessage)
	case view.Selected.Status == domain.SurveyCompleted:
		return view.Results != nil, nil
	default:
		return true, nil
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errStillProcessing):
		return 3
	case domain.IsKind(err, domain.ErrInvalidInput):
		return 2
	default:
		return 1
	}
}

// serveMetrics exposes poll metrics while a long watch runs; an empty addr disables it.
func (s *session) serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	server := &http.Server{Addr: addr, Handler: s.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
