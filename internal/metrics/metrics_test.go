package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/event"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	bus := event.NewBus()
	c := NewCollector(bus, m, 3, false)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Budget))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.AutoMode))

	bus.Publish(event.NewFeatureStartedEvent("a", false, false, false))
	bus.Publish(event.NewFeatureStartedEvent("b", false, false, true))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Running))

	bus.Publish(event.NewFeatureFinishedEvent("a", "succeeded", "waiting_approval", "", 90*time.Second))
	bus.Publish(event.NewFeatureFinishedEvent("b", "failed", "in_progress", "boom", time.Second))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Running))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Executions.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Executions.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ExecutionDuration))

	bus.Publish(event.NewAdmissionRejectedEvent("c", "blocked", []string{"a"}))
	bus.Publish(event.NewAdmissionRejectedEvent("d", "blocked", nil))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Rejections.WithLabelValues("blocked")))

	bus.Publish(event.NewBudgetChangedEvent(5))
	bus.Publish(event.NewAutoModeChangedEvent(true))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Budget))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AutoMode))

	bus.Publish(event.NewSuggestionsCompleteEvent(4, false, ""))
	bus.Publish(event.NewSuggestionsCompleteEvent(0, true, ""))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Suggestions.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Suggestions.WithLabelValues("aborted")))

	c.Stop()
	assert.Equal(t, 0, bus.SubscriptionCount())
	bus.Publish(event.NewFeatureStartedEvent("x", false, false, false))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Running))
}

func TestServe(t *testing.T) {
	reg, m := NewRegistry()
	m.Budget.Set(4)

	srv, err := Serve("127.0.0.1:0", reg, nil)
	require.NoError(t, err)
	defer srv.Close(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "automaker_concurrency_budget 4")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServe_BadAddr(t *testing.T) {
	reg, _ := NewRegistry()
	_, err := Serve("not-an-addr", reg, nil)
	assert.Error(t, err)
}
