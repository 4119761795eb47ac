package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

// fakeScheduler records armed timers and fires them on demand with a virtual clock.
type fakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	armed   int
	stopped int
}

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, fn: fn}
	s.timers = append(s.timers, t)
	s.armed++
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.stopped++
	return true
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Active counts timers that are armed and have neither fired nor been stopped.
func (s *fakeScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Fire runs the pending timer, advancing the clock by its delay. It reports false when
// nothing is armed.
func (s *fakeScheduler) Fire() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	s.now = s.now.Add(next.d)
	s.mu.Unlock()

	next.fn()
	return true
}

type gatewayFake struct {
	mu sync.Mutex

	surveys map[string]domain.Survey
	// statuses is consumed by successive Get calls and applied to the stored survey.
	statuses map[string][]domain.SurveyStatus
	onGet    func(id string)

	getErr     error
	listErr    error
	createErr  error
	triggerErr error
	deleteErr  error

	listCalls    int
	getCalls     int
	createCalls  int
	triggerCalls int
	deleteCalls  int
	uploaded     int64
}

func newGatewayFake(surveys ...domain.Survey) *gatewayFake {
	f := &gatewayFake{
		surveys:  map[string]domain.Survey{},
		statuses: map[string][]domain.SurveyStatus{},
	}
	for _, s := range surveys {
		f.surveys[s.ID] = s
	}
	return f
}

func (f *gatewayFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls + f.getCalls + f.createCalls + f.triggerCalls + f.deleteCalls
}

func (f *gatewayFake) List(_ context.Context, fieldID string) ([]domain.Survey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Survey, 0, len(f.surveys))
	for _, s := range f.surveys {
		if s.FieldID == fieldID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *gatewayFake) Get(_ context.Context, id string) (*domain.Survey, error) {
	f.mu.Lock()
	f.getCalls++
	hook := f.onGet
	if f.getErr != nil {
		err := f.getErr
		f.mu.Unlock()
		return nil, err
	}
	s, ok := f.surveys[id]
	if !ok {
		f.mu.Unlock()
		return nil, domain.WrapError(domain.ErrSurveyNotFound, "get survey", fmt.Errorf("id=%s", id))
	}
	if queue := f.statuses[id]; len(queue) > 0 {
		s.Status = queue[0]
		if s.Status == domain.SurveyFailed {
			s.ErrorMessage = "tiling failed"
		}
		f.statuses[id] = queue[1:]
		f.surveys[id] = s
	}
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return &s, nil
}

func (f *gatewayFake) Create(_ context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return nil, err
	}
	f.uploaded = n
	s := domain.Survey{
		ID:          fmt.Sprintf("s-%d", len(f.surveys)+1),
		FieldID:     candidate.FieldID,
		Filename:    candidate.Filename,
		SizeBytes:   n,
		CaptureDate: candidate.CaptureDate,
		Source:      candidate.Source,
		Status:      domain.SurveyPending,
	}
	f.surveys[s.ID] = s
	return &s, nil
}

func (f *gatewayFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.surveys, id)
	return nil
}

func (f *gatewayFake) TriggerDetection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCalls++
	if f.triggerErr != nil {
		return f.triggerErr
	}
	s := f.surveys[id]
	s.Status = domain.SurveyProcessing
	s.ErrorMessage = ""
	f.surveys[id] = s
	return nil
}

type resultSourceFake struct {
	mu           sync.Mutex
	trees        []domain.RawRecord
	summary      domain.RawRecord
	treesErr     error
	summaryErr   error
	treeCalls    int
	summaryCalls int
}

func (f *resultSourceFake) GetTrees(context.Context, string) ([]domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeCalls++
	if f.treesErr != nil {
		return nil, f.treesErr
	}
	return f.trees, nil
}

func (f *resultSourceFake) GetHealthSummary(context.Context, string) (domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.summary, nil
}

func (f *resultSourceFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.treeCalls + f.summaryCalls
}

var errNetwork = errors.New("connection reset by peer")
