// Package metrics exposes scheduler and execution metrics to Prometheus.
// A Collector subscribes to the event bus, so the engine's components do
// not depend on it.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/logging"
)

// Metrics holds the automaker Prometheus metrics.
type Metrics struct {
	Running           prometheus.Gauge
	Budget            prometheus.Gauge
	AutoMode          prometheus.Gauge
	Rejections        *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Suggestions       *prometheus.CounterVec
}

// NewMetrics registers the metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "automaker_running_tasks",
			Help: "Number of features currently executing",
		}),
		Budget: factory.NewGauge(prometheus.GaugeOpts{
			Name: "automaker_concurrency_budget",
			Help: "Configured maximum number of concurrent executions",
		}),
		AutoMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "automaker_auto_mode",
			Help: "1 when auto mode is enabled",
		}),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automaker_admissions_rejected_total",
				Help: "Start requests that were not admitted",
			},
			[]string{"reason"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automaker_executions_total",
				Help: "Finished feature executions",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automaker_execution_duration_seconds",
				Help:    "Feature execution duration in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"outcome"},
		),
		Suggestions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automaker_suggestion_runs_total",
				Help: "Finished project analyses",
			},
			[]string{"result"},
		),
	}
}

// NewRegistry creates a registry with automaker and Go runtime metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg, NewMetrics(reg)
}

// Collector feeds Metrics from bus events.
type Collector struct {
	m      *Metrics
	bus    *event.Bus
	subIDs []string
}

// NewCollector subscribes m to bus. Call Stop to unsubscribe.
func NewCollector(bus *event.Bus, m *Metrics, budget int, autoMode bool) *Collector {
	c := &Collector{m: m, bus: bus}
	m.Budget.Set(float64(budget))
	m.AutoMode.Set(boolGauge(autoMode))

	c.subIDs = append(c.subIDs,
		bus.Subscribe(event.TypeFeatureStarted, func(event.Event) { m.Running.Inc() }),
		bus.Subscribe(event.TypeFeatureFinished, func(e event.Event) {
			fe := e.(event.FeatureFinishedEvent)
			m.Running.Dec()
			m.Executions.WithLabelValues(fe.Outcome).Inc()
			m.ExecutionDuration.WithLabelValues(fe.Outcome).Observe(fe.Duration.Seconds())
		}),
		bus.Subscribe(event.TypeAdmissionRejected, func(e event.Event) {
			m.Rejections.WithLabelValues(e.(event.AdmissionRejectedEvent).Reason).Inc()
		}),
		bus.Subscribe(event.TypeBudgetChanged, func(e event.Event) {
			m.Budget.Set(float64(e.(event.BudgetChangedEvent).Budget))
		}),
		bus.Subscribe(event.TypeAutoModeChanged, func(e event.Event) {
			m.AutoMode.Set(boolGauge(e.(event.AutoModeChangedEvent).Enabled))
		}),
		bus.Subscribe(event.TypeSuggestionsComplete, func(e event.Event) {
			se := e.(event.SuggestionsCompleteEvent)
			result := "succeeded"
			switch {
			case se.Aborted:
				result = "aborted"
			case se.Error != "":
				result = "failed"
			}
			m.Suggestions.WithLabelValues(result).Inc()
		}),
	)
	return c
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	for _, id := range c.subIDs {
		c.bus.Unsubscribe(id)
	}
	c.subIDs = nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Server serves /metrics for a registry.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *logging.Logger
}

// Serve starts an HTTP server on addr exposing reg at /metrics.
func Serve(addr string, reg *prometheus.Registry, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger.WithComponent("metrics"),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("metrics listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
