package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/surveys/abc":                "/v1/surveys/{survey_id}",
		"/v1/surveys/abc/":               "/v1/surveys/{survey_id}",
		"/v1/surveys/abc/trees":          "/v1/surveys/{survey_id}/trees",
		"/v1/surveys/abc/health-summary": "/v1/surveys/{survey_id}/health-summary",
		"/v1/fields/f-9/surveys":         "/v1/fields/{field_id}/surveys",
		"/v1/surveys":                    "/v1/surveys",
		"/healthz":                       "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(res.Body)
	return string(body)
}

func TestHTTPMiddlewareRecordsNormalizedPath(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/surveys/s-1", nil))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `path="/v1/surveys/{survey_id}"`) || !strings.Contains(out, `status="404"`) {
		t.Fatalf("expected normalized request metric, got:\n%s", out)
	}
}

func TestWorkerMetricsCountOutcomes(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartOutcome()
	m.FinishOutcome("worker", "completed", 120, 15*time.Millisecond, nil)

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `canopy_worker_detection_outcomes_total{result="success",service="worker",status="completed"} 1`) {
		t.Fatalf("expected outcome counter, got:\n%s", out)
	}
}

func TestPollMetricsCountSessions(t *testing.T) {
	m := NewPollMetrics("surveyctl")
	m.PollTick("processing")
	m.PollTick("completed")
	m.PollSessionStopped("resolved")
	m.ResultsLoaded(4, 1, true)

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`canopy_poller_ticks_total{service="surveyctl",status="processing"} 1`,
		`canopy_poller_sessions_total{outcome="resolved",service="surveyctl"} 1`,
		`canopy_results_trees_dropped_total{service="surveyctl"} 1`,
		`canopy_results_inconsistent_summaries_total{service="surveyctl"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
