package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

const DefaultPollInterval = 3 * time.Second

type PollerState string

const (
	PollerIdle    PollerState = "idle"
	PollerPolling PollerState = "polling"
	PollerStopped PollerState = "stopped"
)

// PollOutcome says why a polling session ended on its own.
type PollOutcome string

const (
	// OutcomeResolved: the survey left processing; PollResult.Survey holds the new record.
	OutcomeResolved PollOutcome = "resolved"
	// OutcomeError: a status check failed; observation stopped, the survey itself is untouched.
	OutcomeError PollOutcome = "error"
	// OutcomeSlow: the survey stayed in processing past the configured ceiling.
	OutcomeSlow PollOutcome = "slow"
)

type PollResult struct {
	SurveyID string
	Outcome  PollOutcome
	Survey   *domain.Survey
	Attempts int
	Elapsed  time.Duration
	Err      error
}

type SurveyFetcher interface {
	Get(ctx context.Context, id string) (*domain.Survey, error)
}

type PollerConfig struct {
	Interval time.Duration
	// MaxDuration bounds continuous processing observation; zero disables the ceiling.
	MaxDuration time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
	Metrics     Metrics
}

// StatusPoller tracks one survey at a time until it leaves processing.
// At most one timer is armed per poller; the next check is scheduled only after the
// previous one has been handled, so checks never overlap.
type StatusPoller struct {
	fetcher   SurveyFetcher
	scheduler ports.Scheduler
	interval  time.Duration
	ceiling   time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	metrics   Metrics

	mu      sync.Mutex
	state   PollerState
	session *pollSession
	nextID  uint64
}

type pollSession struct {
	id        uint64
	surveyID  string
	ctx       context.Context
	cancel    context.CancelFunc
	timer     ports.Timer
	attempts  int
	startedAt time.Time
	onStop    func(PollResult)
}

func NewStatusPoller(fetcher SurveyFetcher, scheduler ports.Scheduler, cfg PollerConfig) *StatusPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxDuration < 0 {
		cfg.MaxDuration = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &StatusPoller{
		fetcher:   fetcher,
		scheduler: scheduler,
		interval:  cfg.Interval,
		ceiling:   cfg.MaxDuration,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		state:     PollerIdle,
	}
}

// Start begins a session for surveyID, terminating any prior session first.
// onStop runs once when the session ends by itself; it does not run after Cancel.
func (p *StatusPoller) Start(ctx context.Context, surveyID string, onStop func(PollResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	p.nextID++
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &pollSession{
		id:        p.nextID,
		surveyID:  surveyID,
		ctx:       sessionCtx,
		cancel:    cancel,
		startedAt: p.clock(),
		onStop:    onStop,
	}
	p.session = s
	p.state = PollerPolling
	p.armLocked(s)

	p.logger.Debug("poll_started", "survey_id", surveyID, "interval_ms", p.interval.Milliseconds())
}

// Cancel stops the active session synchronously. It is a no-op when nothing is polling.
func (p *StatusPoller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return
	}
	p.logger.Debug("poll_cancelled", "survey_id", p.session.surveyID, "attempts", p.session.attempts)
	p.stopLocked()
}

func (p *StatusPoller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active returns the survey being polled, if any.
func (p *StatusPoller) Active() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return "", false
	}
	return p.session.surveyID, true
}

func (p *StatusPoller) armLocked(s *pollSession) {
	id := s.id
	s.timer = p.scheduler.AfterFunc(p.interval, func() {
		p.tick(id)
	})
}

func (p *StatusPoller) stopLocked() {
	s := p.session
	if s == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	p.session = nil
	p.state = PollerStopped
}

func (p *StatusPoller) tick(id uint64) {
	p.mu.Lock()
	s := p.session
	if s == nil || s.id != id {
		p.mu.Unlock()
		return
	}
	s.timer = nil
	s.attempts++
	ctx := s.ctx
	p.mu.Unlock()

	survey, err := p.fetcher.Get(ctx, s.surveyID)
	if err == nil && survey == nil {
		err = errors.New("status check returned no survey")
	}

	p.mu.Lock()
	if p.session != s {
		// Cancelled or superseded while the check was in flight.
		p.mu.Unlock()
		return
	}

	result := PollResult{
		SurveyID: s.surveyID,
		Attempts: s.attempts,
		Elapsed:  p.clock().Sub(s.startedAt),
	}
	switch {
	case err != nil:
		p.metrics.PollTick("error")
		result.Outcome = OutcomeError
		result.Err = err
	case survey.Status == domain.SurveyProcessing:
		p.metrics.PollTick(string(survey.Status))
		if p.ceiling > 0 && result.Elapsed >= p.ceiling {
			result.Outcome = OutcomeSlow
			result.Survey = survey
			break
		}
		attempt := s.attempts
		p.armLocked(s)
		p.mu.Unlock()
		p.logger.Debug("poll_tick", "survey_id", s.surveyID, "attempt", attempt, "status", survey.Status)
		return
	default:
		p.metrics.PollTick(string(survey.Status))
		result.Outcome = OutcomeResolved
		result.Survey = survey
	}
	p.stopLocked()
	p.mu.Unlock()

	p.metrics.PollSessionStopped(string(result.Outcome))
	logAttrs := []any{
		"survey_id", result.SurveyID,
		"outcome", result.Outcome,
		"attempts", result.Attempts,
		"elapsed_ms", result.Elapsed.Milliseconds(),
	}
	if result.Survey != nil {
		logAttrs = append(logAttrs, "status", result.Survey.Status)
	}
	if result.Err != nil {
		p.logger.Warn("poll_stopped", append(logAttrs, "error", result.Err)...)
	} else {
		p.logger.Info("poll_stopped", logAttrs...)
	}

	if s.onStop != nil {
		s.onStop(result)
	}
}
