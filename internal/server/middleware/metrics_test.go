package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRequest(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func resetMetrics(t *testing.T, conf MetricsConfig) *httpMetrics {
	t.Helper()
	m, err := registerHttpMetrics(conf)
	require.NoError(t, err)
	m.duration.Reset()
	m.streams.Reset()
	return m
}

func TestMetrics(t *testing.T) {
	resetMetrics(t, DefaultMetricsConfig)
	e := echo.New()
	e.Use(Metrics())

	e.GET("/requests/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/broken", func(c echo.Context) error {
		return fmt.Errorf("internal user error")
	})

	for i := range 100 {
		makeRequest(e, http.MethodGet, fmt.Sprintf("/requests/%d", i))
	}
	for range 7 {
		makeRequest(e, http.MethodGet, "/broken")
	}
	for range 69 {
		makeRequest(e, http.MethodGet, "/nothing-here")
	}
	makeRequest(e, http.MethodPost, "/nothing-either")

	body := makeRequest(e, http.MethodGet, "/metrics").Body.String()
	for _, want := range []string{
		`request_chat_request_duration_seconds_count{code="200",method="GET",path="/requests/:id"} 100`,
		`request_chat_request_duration_seconds_count{code="500",method="GET",path="/broken"} 7`,
		`request_chat_request_duration_seconds_count{code="404",method="GET",path="/not-found"} 69`,
		`request_chat_request_duration_seconds_count{code="404",method="POST",path="/not-found"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestMetricsLongLivedRoutes(t *testing.T) {
	conf := DefaultMetricsConfig
	conf.LongLived = func(c echo.Context) bool { return strings.HasSuffix(c.Path(), "/stream") }
	m := resetMetrics(t, conf)

	e := echo.New()
	e.Use(MetricsWithConfig(conf))

	var during float64
	e.GET("/unread/stream", func(c echo.Context) error {
		during = testutil.ToFloat64(m.streams.WithLabelValues("/unread/stream"))
		return c.NoContent(http.StatusOK)
	})

	makeRequest(e, http.MethodGet, "/unread/stream")

	assert.Equal(t, 1.0, during)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.streams.WithLabelValues("/unread/stream")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.duration))
}

func TestNormalizeHTTPStatus(t *testing.T) {
	t.Parallel()
	for status, want := range map[int]string{101: "1xx", 204: "2xx", 304: "3xx", 413: "4xx", 502: "5xx"} {
		assert.Equal(t, want, normalizeHTTPStatus(status))
	}
}
