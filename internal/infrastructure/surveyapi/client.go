// Package surveyapi is the HTTP client of the remote survey service. It implements both
// ports.SurveyGateway and ports.ResultSource.
package surveyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/resilience"
)

type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	executor     *resilience.Executor
	logger       *slog.Logger
}

type Options struct {
	// Timeout bounds every call except uploads, which are bounded by their context only.
	Timeout            time.Duration
	Transport          http.RoundTripper
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

var (
	_ ports.SurveyGateway = (*Client)(nil)
	_ ports.ResultSource  = (*Client)(nil)
)

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		uploadClient: &http.Client{Transport: transport},
		executor:     opts.ResilienceExecutor,
		logger:       logger,
	}
}

func (c *Client) List(ctx context.Context, fieldID string) ([]domain.Survey, error) {
	var surveys []domain.Survey
	path := "/v1/fields/" + url.PathEscape(fieldID) + "/surveys"
	if err := c.call(ctx, "list_surveys", http.MethodGet, path, &surveys); err != nil {
		return nil, err
	}
	if surveys == nil {
		surveys = []domain.Survey{}
	}
	return surveys, nil
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Survey, error) {
	var survey domain.Survey
	if err := c.call(ctx, "get_survey", http.MethodGet, surveyPath(id), &survey); err != nil {
		return nil, err
	}
	if survey.ID == "" {
		return nil, fmt.Errorf("get_survey: response has no survey id")
	}
	return &survey, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, "delete_survey", http.MethodDelete, surveyPath(id), nil)
}

func (c *Client) TriggerDetection(ctx context.Context, id string) error {
	return c.call(ctx, "trigger_detection", http.MethodPost, surveyPath(id)+"/detect", nil)
}

// GetTrees accepts a bare array, an object wrapping "trees", or a GeoJSON
// FeatureCollection.
func (c *Client) GetTrees(ctx context.Context, surveyID string) ([]domain.RawRecord, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "get_trees", http.MethodGet, surveyPath(surveyID)+"/trees", &raw); err != nil {
		return nil, err
	}
	trees, err := decodeTrees(raw)
	if err != nil {
		return nil, fmt.Errorf("get_trees: %w", err)
	}
	return trees, nil
}

func (c *Client) GetHealthSummary(ctx context.Context, surveyID string) (domain.RawRecord, error) {
	var summary domain.RawRecord
	if err := c.call(ctx, "get_health_summary", http.MethodGet, surveyPath(surveyID)+"/health-summary", &summary); err != nil {
		return nil, err
	}
	if summary == nil {
		summary = domain.RawRecord{}
	}
	return summary, nil
}

// Create streams a multipart upload. It is sent once; a failed upload is never repeated.
func (c *Client) Create(ctx context.Context, candidate domain.UploadCandidate, body io.Reader) (*domain.Survey, error) {
	var survey domain.Survey
	call := func(ctx context.Context) error {
		pr, pw := io.Pipe()
		form := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUploadForm(form, candidate, body))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/surveys", pr)
		if err != nil {
			_ = pr.Close()
			return fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		req.Header.Set("Accept", "application/json")

		resp, err := c.uploadClient.Do(req)
		_ = pr.Close()
		if err != nil {
			return fmt.Errorf("upload request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return newHTTPStatusError("upload", resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&survey); err != nil {
			return fmt.Errorf("decode upload response: %w", err)
		}
		return nil
	}

	if err := c.execute(ctx, "create_survey", call); err != nil {
		return nil, err
	}
	if survey.ID == "" {
		return nil, errors.New("upload: response has no survey id")
	}
	return &survey, nil
}

func writeUploadForm(form *multipart.Writer, candidate domain.UploadCandidate, body io.Reader) error {
	fields := [][2]string{
		{"field_id", candidate.FieldID},
		{"capture_date", candidate.CaptureDate},
		{"source", candidate.Source},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		if err := form.WriteField(field[0], field[1]); err != nil {
			return fmt.Errorf("write form field %s: %w", field[0], err)
		}
	}
	part, err := form.CreateFormFile("file", candidate.Filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copy upload body: %w", err)
	}
	return form.Close()
}

func (c *Client) call(ctx context.Context, operation, method, path string, out any) error {
	return c.execute(ctx, operation, func(ctx context.Context) error {
		return c.doJSON(ctx, operation, method, path, out)
	})
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "surveyapi."+operation, call, classifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.logger.Debug("survey_api_call_failed", "operation", operation, "error", err)
	}
	return wrapKind(operation, err)
}

func surveyPath(id string) string {
	return "/v1/surveys/" + url.PathEscape(id)
}

func decodeTrees(raw json.RawMessage) ([]domain.RawRecord, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []domain.RawRecord{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var trees []domain.RawRecord
		if err := json.Unmarshal(raw, &trees); err != nil {
			return nil, fmt.Errorf("decode trees: %w", err)
		}
		return trees, nil
	}

	var envelope struct {
		Trees    []domain.RawRecord `json:"trees"`
		Features []domain.RawRecord `json:"features"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode trees: %w", err)
	}
	switch {
	case envelope.Trees != nil:
		return envelope.Trees, nil
	case envelope.Features != nil:
		return envelope.Features, nil
	default:
		return []domain.RawRecord{}, nil
	}
}
