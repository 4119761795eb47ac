package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

var ErrClosed = errors.New("orchestrator closed")

type Options struct {
	PollInterval    time.Duration
	PollMaxDuration time.Duration
	MaxUploadBytes  int64
	Clock           func() time.Time
	Logger          *slog.Logger
	Metrics         Metrics
	// Observer is called synchronously after each state change, outside the state lock.
	Observer func(Event)
}

// View is a consistent copy of the orchestrator state.
type View struct {
	FieldID        string
	Surveys        []domain.Survey
	Selected       *domain.Survey
	Results        *Results
	Polling        bool
	PollerState    PollerState
	SlowProcessing bool
	LastError      error
}

// Orchestrator owns the survey list, the selected survey and its results, and the single
// polling session of one page session. Create one per session and Close it when done.
type Orchestrator struct {
	gateway    ports.SurveyGateway
	uploader   *Uploader
	trigger    *DetectionTrigger
	poller     *StatusPoller
	aggregator *ResultAggregator
	logger     *slog.Logger
	observer   func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	fieldID  string
	surveys  []domain.Survey
	selected *domain.Survey
	results  *Results
	slow     bool
	lastErr  error
	// gen changes on every selection change; async work started under an older gen is dropped.
	gen uint64
}

func New(gateway ports.SurveyGateway, source ports.ResultSource, scheduler ports.Scheduler, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		gateway:  gateway,
		uploader: NewUploader(gateway, opts.MaxUploadBytes),
		trigger:  NewDetectionTrigger(gateway),
		poller: NewStatusPoller(gateway, scheduler, PollerConfig{
			Interval:    opts.PollInterval,
			MaxDuration: opts.PollMaxDuration,
			Clock:       opts.Clock,
			Logger:      opts.Logger,
			Metrics:     opts.Metrics,
		}),
		aggregator: NewResultAggregator(source, opts.Logger, opts.Metrics),
		logger:     opts.Logger,
		observer:   opts.Observer,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetField switches the scope, dropping the selection and any polling, then loads the list.
func (o *Orchestrator) SetField(ctx context.Context, fieldID string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	hadSelection := o.selected != nil
	o.resetSelectionLocked()
	o.fieldID = fieldID
	o.surveys = nil
	o.mu.Unlock()

	if hadSelection {
		o.emit(Event{Kind: EventSelectionChanged})
	}
	return o.Refresh(ctx)
}

// Refresh reloads the survey list of the current field.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	fieldID := o.fieldID
	o.mu.Unlock()

	if fieldID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "refresh surveys", errors.New("no field selected"))
	}

	surveys, err := o.gateway.List(ctx, fieldID)
	if err != nil {
		err = fmt.Errorf("list surveys: %w", err)
		o.fail("", err)
		return err
	}
	for i := range surveys {
		surveys[i].Normalize()
	}

	o.mu.Lock()
	if o.fieldID != fieldID {
		o.mu.Unlock()
		return nil
	}
	o.surveys = surveys
	o.mu.Unlock()

	o.emit(Event{Kind: EventSurveysUpdated})
	return nil
}

// Select makes id the active survey. Completed surveys load results immediately,
// processing surveys start polling, pending and failed surveys stay idle.
func (o *Orchestrator) Select(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	var survey domain.Survey
	idx := o.indexLocked(id)
	if idx >= 0 {
		survey = o.surveys[idx]
	}
	o.mu.Unlock()

	if idx < 0 {
		fetched, err := o.gateway.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("select survey: %w", err)
		}
		fetched.Normalize()
		survey = *fetched
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.resetSelectionLocked()
	o.selected = &survey
	gen := o.gen
	o.mu.Unlock()

	o.emit(Event{Kind: EventSelectionChanged, SurveyID: id})
	return o.activate(ctx, gen, survey)
}

// Deselect clears the selection and stops polling.
func (o *Orchestrator) Deselect() {
	o.mu.Lock()
	if o.selected == nil && !o.pollingLocked() {
		o.mu.Unlock()
		return
	}
	o.resetSelectionLocked()
	o.mu.Unlock()

	o.emit(Event{Kind: EventSelectionChanged})
}

// Upload validates and transfers a survey image. The new pending survey is added to the
// list when it belongs to the current field.
func (o *Orchestrator) Upload(ctx context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	survey, err := o.uploader.Upload(ctx, candidate, body)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	listed := !o.closed && survey.FieldID == o.fieldID
	if listed {
		o.surveys = append([]domain.Survey{*survey}, o.surveys...)
	}
	o.mu.Unlock()

	if listed {
		o.emit(Event{Kind: EventSurveysUpdated, SurveyID: survey.ID})
	}
	return survey, nil
}

// TriggerDetection requests processing of id. The survey becomes the selection, its local
// copy turns processing immediately, and a polling session starts. On failure nothing
// changes.
func (o *Orchestrator) TriggerDetection(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	var current *domain.Survey
	if o.selected != nil && o.selected.ID == id {
		copySurvey := *o.selected
		current = &copySurvey
	} else if idx := o.indexLocked(id); idx >= 0 {
		copySurvey := o.surveys[idx]
		current = &copySurvey
	}
	o.mu.Unlock()

	if current == nil {
		fetched, err := o.gateway.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("trigger detection: %w", err)
		}
		fetched.Normalize()
		current = fetched
	}

	updated, err := o.trigger.Trigger(ctx, *current)
	if err != nil {
		o.fail(id, err)
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	selectionChanged := o.selected == nil || o.selected.ID != id
	if selectionChanged {
		o.resetSelectionLocked()
	} else {
		o.poller.Cancel()
		o.results = nil
		o.slow = false
		o.lastErr = nil
	}
	o.selected = updated
	o.replaceLocked(*updated)
	gen := o.gen
	o.startPollingLocked(gen, id)
	o.mu.Unlock()

	if selectionChanged {
		o.emit(Event{Kind: EventSelectionChanged, SurveyID: id})
	}
	o.emit(Event{Kind: EventSurveyUpdated, SurveyID: id})
	o.emit(Event{Kind: EventPollingStarted, SurveyID: id})
	return nil
}

// Delete removes a survey. Deleting the selection stops its polling and clears all derived
// state first.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	wasSelected := o.selected != nil && o.selected.ID == id
	if wasSelected {
		o.resetSelectionLocked()
	}
	o.mu.Unlock()

	if wasSelected {
		o.emit(Event{Kind: EventSelectionChanged})
	}

	if err := o.gateway.Delete(ctx, id); err != nil {
		err = fmt.Errorf("delete survey: %w", err)
		o.fail(id, err)
		return err
	}

	o.mu.Lock()
	if idx := o.indexLocked(id); idx >= 0 {
		o.surveys = slices.Delete(o.surveys, idx, idx+1)
	}
	o.mu.Unlock()

	o.emit(Event{Kind: EventSurveysUpdated, SurveyID: id})
	return nil
}

func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	view := View{
		FieldID:        o.fieldID,
		Surveys:        slices.Clone(o.surveys),
		Results:        o.results,
		Polling:        o.pollingLocked(),
		PollerState:    o.poller.State(),
		SlowProcessing: o.slow,
		LastError:      o.lastErr,
	}
	if o.selected != nil {
		selected := *o.selected
		view.Selected = &selected
	}
	return view
}

// Close stops polling and abandons in-flight follow-up work. It is safe to call twice.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.resetSelectionLocked()
	o.mu.Unlock()
	o.cancel()
}

func (o *Orchestrator) activate(ctx context.Context, gen uint64, survey domain.Survey) error {
	switch survey.Status {
	case domain.SurveyCompleted:
		return o.loadResults(ctx, gen, survey)
	case domain.SurveyProcessing:
		o.mu.Lock()
		if o.gen != gen || o.closed {
			o.mu.Unlock()
			return nil
		}
		o.startPollingLocked(gen, survey.ID)
		o.mu.Unlock()
		o.emit(Event{Kind: EventPollingStarted, SurveyID: survey.ID})
		return nil
	default:
		return nil
	}
}

func (o *Orchestrator) startPollingLocked(gen uint64, surveyID string) {
	o.poller.Start(o.ctx, surveyID, func(result PollResult) {
		o.onPollStopped(gen, result)
	})
}

func (o *Orchestrator) onPollStopped(gen uint64, result PollResult) {
	o.mu.Lock()
	if o.gen != gen || o.closed {
		o.mu.Unlock()
		return
	}

	switch result.Outcome {
	case OutcomeError:
		o.lastErr = fmt.Errorf("poll survey %s: %w", result.SurveyID, result.Err)
		err := o.lastErr
		o.mu.Unlock()
		o.emit(Event{Kind: EventPollingStopped, SurveyID: result.SurveyID, Err: err})
		o.emit(Event{Kind: EventError, SurveyID: result.SurveyID, Err: err})
		return
	case OutcomeSlow:
		o.slow = true
		o.mu.Unlock()
		o.emit(Event{Kind: EventPollingStopped, SurveyID: result.SurveyID})
		o.emit(Event{Kind: EventProcessingSlow, SurveyID: result.SurveyID})
		return
	}

	survey := *result.Survey
	survey.Normalize()
	o.selected = &survey
	o.replaceLocked(survey)
	scoped := o.fieldID != ""
	o.mu.Unlock()

	o.emit(Event{Kind: EventPollingStopped, SurveyID: survey.ID})
	o.emit(Event{Kind: EventSurveyUpdated, SurveyID: survey.ID})

	if scoped {
		if err := o.Refresh(o.ctx); err != nil {
			o.logger.Warn("survey_list_refresh_failed", "survey_id", survey.ID, "error", err)
		}
	}
	if survey.Status == domain.SurveyCompleted {
		_ = o.loadResults(o.ctx, gen, survey)
	}
}

func (o *Orchestrator) loadResults(ctx context.Context, gen uint64, survey domain.Survey) error {
	results, err := o.aggregator.Load(ctx, survey)

	o.mu.Lock()
	if o.gen != gen || o.closed {
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.results = nil
		o.lastErr = err
		o.mu.Unlock()
		o.emit(Event{Kind: EventResultsFailed, SurveyID: survey.ID, Err: err})
		return err
	}
	o.results = results
	o.lastErr = nil
	o.mu.Unlock()

	o.emit(Event{Kind: EventResultsLoaded, SurveyID: survey.ID})
	return nil
}

func (o *Orchestrator) resetSelectionLocked() {
	o.poller.Cancel()
	o.gen++
	o.selected = nil
	o.results = nil
	o.slow = false
	o.lastErr = nil
}

func (o *Orchestrator) pollingLocked() bool {
	_, ok := o.poller.Active()
	return ok
}

func (o *Orchestrator) indexLocked(id string) int {
	return slices.IndexFunc(o.surveys, func(s domain.Survey) bool { return s.ID == id })
}

func (o *Orchestrator) replaceLocked(survey domain.Survey) {
	if idx := o.indexLocked(survey.ID); idx >= 0 {
		o.surveys[idx] = survey
	}
}

func (o *Orchestrator) fail(surveyID string, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.lastErr = err
	o.mu.Unlock()
	o.emit(Event{Kind: EventError, SurveyID: surveyID, Err: err})
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) emit(event Event) {
	if o.observer != nil {
		o.observer(event)
	}
}
