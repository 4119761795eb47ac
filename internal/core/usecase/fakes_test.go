package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

type surveyRepoFake struct {
	surveys   map[string]*domain.Survey
	trees     map[string][]domain.RawRecord
	summaries map[string]domain.RawRecord

	createErr     error
	transitionErr error
	transitions   []domain.SurveyStatus
}

func newSurveyRepoFake(surveys ...domain.Survey) *surveyRepoFake {
	f := &surveyRepoFake{
		surveys:   map[string]*domain.Survey{},
		trees:     map[string][]domain.RawRecord{},
		summaries: map[string]domain.RawRecord{},
	}
	for i := range surveys {
		s := surveys[i]
		f.surveys[s.ID] = &s
	}
	return f
}

func (f *surveyRepoFake) Create(_ context.Context, survey *domain.Survey) error {
	if f.createErr != nil {
		return f.createErr
	}
	copySurvey := *survey
	f.surveys[survey.ID] = &copySurvey
	return nil
}

func (f *surveyRepoFake) GetByID(_ context.Context, id string) (*domain.Survey, error) {
	s, ok := f.surveys[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSurveyNotFound, "get survey", fmt.Errorf("id=%s", id))
	}
	copySurvey := *s
	return &copySurvey, nil
}

func (f *surveyRepoFake) ListByField(_ context.Context, fieldID string) ([]domain.Survey, error) {
	out := make([]domain.Survey, 0)
	for _, s := range f.surveys {
		if s.FieldID == fieldID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *surveyRepoFake) Delete(_ context.Context, id string) error {
	if _, ok := f.surveys[id]; !ok {
		return domain.WrapError(domain.ErrSurveyNotFound, "delete survey", fmt.Errorf("id=%s", id))
	}
	delete(f.surveys, id)
	delete(f.trees, id)
	delete(f.summaries, id)
	return nil
}

func (f *surveyRepoFake) TransitionStatus(_ context.Context, id string, from []domain.SurveyStatus, to domain.SurveyStatus, errMessage string) error {
	f.transitions = append(f.transitions, to)
	if f.transitionErr != nil {
		return f.transitionErr
	}
	s, ok := f.surveys[id]
	if !ok {
		return domain.WrapError(domain.ErrSurveyNotFound, "transition survey", fmt.Errorf("id=%s", id))
	}
	if !slices.Contains(from, s.Status) {
		return domain.WrapError(domain.ErrConflict, "transition survey", fmt.Errorf("status=%s", s.Status))
	}
	s.Status = to
	s.ErrorMessage = errMessage
	return nil
}

func (f *surveyRepoFake) SaveResults(_ context.Context, survey *domain.Survey, trees []domain.RawRecord, summary domain.RawRecord) error {
	copySurvey := *survey
	f.surveys[survey.ID] = &copySurvey
	f.trees[survey.ID] = trees
	f.summaries[survey.ID] = summary
	return nil
}

func (f *surveyRepoFake) ListTrees(_ context.Context, surveyID string) ([]domain.RawRecord, error) {
	return f.trees[surveyID], nil
}

func (f *surveyRepoFake) GetSummary(_ context.Context, surveyID string) (domain.RawRecord, error) {
	return f.summaries[surveyID], nil
}

type storageFake struct {
	saved   map[string][]byte
	deleted []string
	err     error
}

func newStorageFake() *storageFake {
	return &storageFake{saved: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.saved[key] = raw
	return int64(len(raw)), nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.saved, key)
	return nil
}

type queueFake struct {
	published []domain.DetectionRequest
	err       error
}

func (f *queueFake) PublishDetectionRequested(_ context.Context, req domain.DetectionRequest) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	return nil
}

func (f *queueFake) SubscribeDetectionOutcomes(context.Context, func(context.Context, domain.DetectionOutcome) error) error {
	return errors.New("not implemented")
}
