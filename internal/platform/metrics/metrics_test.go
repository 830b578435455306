package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_JobCounters(t *testing.T) {
	m := New()
	m.IncJobsStarted()
	m.ObserveJobFinished("completed", 2.5)
	m.ObserveJobFinished("cancelled", 0)
	m.IncCommand("pause", "ok")
	m.IncCommand("pause", "rejected")
	m.IncCommand("pause", "rejected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsStartedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinishedTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.secondsWritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("pause", "rejected")))
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()
	h := m.Handler(func() { m.SetJob(true, 42) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cut_job_active 1")
	assert.Contains(t, rec.Body.String(), "cut_job_progress_percent 42")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/audio/list/{radio}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "radio") == "bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	for _, p := range []string{"/audio/list/ok", "/audio/list/bad", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorsTotal))
	assert.Equal(t, 3, testutil.CollectAndCount(m.requestDuration))

	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `route="/audio/list/{radio}"`)
	assert.NotContains(t, rec.Body.String(), `route="/audio/list/bad"`)
}
