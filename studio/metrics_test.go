package studio

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/mostlygeek/genstudio/studio/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observer(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch(schema.KindFal, "ok", 250*time.Millisecond)
	m.ObserveDispatch(schema.KindFal, "http_401", time.Second)
	m.ObservePoll(schema.KindFal, backend.StatusProcessing)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("fal", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("fal", "http_401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollTotal.WithLabelValues("fal", "processing")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DispatchDuration))
}

func TestMetrics_Endpoint(t *testing.T) {
	pm := newTestManager(t, config.Config{})

	w := pm.do(http.MethodPost, "/api/dispatch/upscale", strings.NewReader(`{"image":"https://x/y.png"}`))
	require.Equal(t, http.StatusOK, w.Code)
	w = pm.do(http.MethodPost, "/api/dispatch/upscale", strings.NewReader(`{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.metrics.DispatchTotal.WithLabelValues("replicate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.metrics.DispatchTotal.WithLabelValues("replicate", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.metrics.HTTPRequests.WithLabelValues("POST", "/api/dispatch/:slug", "400")))

	w = pm.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `genstudio_dispatch_total{outcome="ok",vendor="replicate"} 1`)
	assert.Contains(t, w.Body.String(), "genstudio_dispatch_duration_seconds_bucket")
}
