package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/canopy-survey/internal/config"
	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

const (
	serviceName = "api"
	// multipartOverhead covers form fields and part headers around the image.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// Recorder receives survey-level counters; observability/metrics.HTTPServerMetrics implements it.
type Recorder interface {
	Middleware(service string, next http.Handler) http.Handler
	Handler() http.Handler
	RecordUpload(service string, sizeBytes int64, err error)
	RecordDetectionRequest(service string, err error)
}

type Router struct {
	cfg       config.Config
	ingest    ports.SurveyIngestor
	catalog   ports.SurveyCatalog
	detection ports.DetectionRequester
	metrics   Recorder
}

func NewRouter(
	cfg config.Config,
	ingest ports.SurveyIngestor,
	catalog ports.SurveyCatalog,
	detection ports.DetectionRequester,
	metrics Recorder,
) *Router {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = domain.MaxUploadBytes
	}
	return &Router{
		cfg:       cfg,
		ingest:    ingest,
		catalog:   catalog,
		detection: detection,
		metrics:   metrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("GET /v1/fields/{field_id}/surveys", rt.listSurveys)
	mux.HandleFunc("POST /v1/surveys", rt.uploadSurvey)
	mux.HandleFunc("GET /v1/surveys/{id}", rt.getSurvey)
	mux.HandleFunc("DELETE /v1/surveys/{id}", rt.deleteSurvey)
	mux.HandleFunc("POST /v1/surveys/{id}/detect", rt.requestDetection)
	mux.HandleFunc("GET /v1/surveys/{id}/trees", rt.getTrees)
	mux.HandleFunc("GET /v1/surveys/{id}/health-summary", rt.getHealthSummary)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := rt.catalog.List(r.Context(), r.PathValue("field_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, surveys)
}

func (rt *Router) uploadSurvey(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	candidate := domain.UploadCandidate{
		FieldID:     strings.TrimSpace(r.FormValue("field_id")),
		Filename:    header.Filename,
		SizeBytes:   header.Size,
		CaptureDate: strings.TrimSpace(r.FormValue("capture_date")),
		Source:      strings.TrimSpace(r.FormValue("source")),
	}
	survey, err := rt.ingest.Upload(r.Context(), candidate, file)
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, header.Size, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, survey)
}

func (rt *Router) getSurvey(w http.ResponseWriter, r *http.Request) {
	survey, err := rt.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

func (rt *Router) deleteSurvey(w http.ResponseWriter, r *http.Request) {
	if err := rt.catalog.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) requestDetection(w http.ResponseWriter, r *http.Request) {
	survey, err := rt.detection.RequestDetection(r.Context(), r.PathValue("id"))
	if rt.metrics != nil {
		rt.metrics.RecordDetectionRequest(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, survey)
}

func (rt *Router) getTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := rt.catalog.Trees(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trees)
}

func (rt *Router) getHealthSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.catalog.HealthSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err, status)})
}
