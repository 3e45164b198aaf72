// Package metrics exports Prometheus collectors fed by engine events.
package metrics

import (
	"context"
	"net/http"

	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the engine's metrics.
type Collectors struct {
	Runs             *prometheus.CounterVec
	Passes           prometheus.Histogram
	RunDuration      prometheus.Histogram
	Changes          *prometheus.CounterVec
	UpdateDuration   *prometheus.HistogramVec
	Loads            *prometheus.CounterVec
	LoadedEntities   *prometheus.CounterVec
	LoadDuration     *prometheus.HistogramVec
	ConsistencyRatio *prometheus.GaugeVec
	Inconsistent     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "computed_scheduler_runs_total",
			Help: "Scheduler runs by outcome",
		}, []string{"outcome"}),

		Passes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "computed_scheduler_passes",
			Help:    "Passes needed by a scheduler run",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "computed_scheduler_duration_seconds",
			Help:    "Duration of scheduler runs",
			Buckets: prometheus.DefBuckets,
		}),

		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "computed_member_changes_total",
			Help: "Values written per computed member",
		}, []string{"member"}),

		UpdateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "computed_member_update_duration_seconds",
			Help:    "Duration of computed member updates that wrote values",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"member"}),

		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "computed_navigation_loads_total",
			Help: "Navigation loads requested from the host",
		}, []string{"navigation", "mode", "outcome"}),

		LoadedEntities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "computed_navigation_load_entities_total",
			Help: "Entities whose navigation was loaded",
		}, []string{"navigation", "mode"}),

		LoadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "computed_navigation_load_duration_seconds",
			Help:    "Duration of navigation loads",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"navigation"}),

		ConsistencyRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "computed_consistency_ratio",
			Help: "Share of stored values matching a recomputation at the last check",
		}, []string{"member"}),

		Inconsistent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "computed_inconsistent_entities",
			Help: "Entities whose stored value differed at the last check",
		}, []string{"member"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Register subscribes the collectors to engine events on the global bus.
func (c *Collectors) Register() (unregister func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.SchedulerFinish) {
			c.Runs.WithLabelValues(outcome(e.Err)).Inc()
			c.Passes.Observe(float64(e.Passes))
			c.RunDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ComputedUpdated) {
			c.Changes.WithLabelValues(e.Member).Add(float64(e.Changes))
			c.UpdateDuration.WithLabelValues(e.Member).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.NavigationLoad) {
			c.Loads.WithLabelValues(e.Navigation, e.Mode, outcome(e.Err)).Inc()
			if e.Err == nil {
				c.LoadedEntities.WithLabelValues(e.Navigation, e.Mode).Add(float64(e.Entities))
			}
			c.LoadDuration.WithLabelValues(e.Navigation).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.ConsistencyChecked) {
			c.ConsistencyRatio.WithLabelValues(e.Member).Set(e.Ratio)
			c.Inconsistent.WithLabelValues(e.Member).Set(float64(e.Inconsistent))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
