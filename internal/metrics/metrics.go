// Package metrics exposes run progress as Prometheus collectors. The
// collectors live on a private registry so concurrent tests and embedded
// callers never fight over global metric names.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/events"
	"github.com/DAVEWEYLAND1993/PBL-Opentrons-Protocol-100-50.50-75.25/internal/model"
)

// Collector owns every gelpilot metric. Updates arrive either through the
// typed Record methods or through a bus subscription (Attach); both paths
// are safe from any goroutine.
type Collector struct {
	registry *prometheus.Registry

	actionsTotal      *prometheus.CounterVec
	volumeDispensedUL *prometheus.CounterVec
	moduleTemperature *prometheus.GaugeVec
	runState          *prometheus.GaugeVec
	actionDuration    *prometheus.HistogramVec
	operatorPauses    prometheus.Counter
	runProgress       prometheus.Gauge
}

// NewCollector builds and registers the collectors on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gelpilot_actions_total",
			Help: "Worklist actions executed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		volumeDispensedUL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gelpilot_volume_dispensed_microliters_total",
			Help: "Liquid dispensed into destination wells, by reagent.",
		}, []string{"reagent"}),
		moduleTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gelpilot_module_temperature_celsius",
			Help: "Last observed temperature per module.",
		}, []string{"module"}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gelpilot_run_state",
			Help: "Current run status, 1 for the active status and 0 otherwise.",
		}, []string{"status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gelpilot_action_duration_seconds",
			Help:    "Wall time per worklist action, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		operatorPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gelpilot_operator_pauses_total",
			Help: "Manual checkpoints reached.",
		}),
		runProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gelpilot_run_progress_ratio",
			Help: "Completed fraction of the worklist, 0 to 1.",
		}),
	}

	c.registry.MustRegister(
		c.actionsTotal,
		c.volumeDispensedUL,
		c.moduleTemperature,
		c.runState,
		c.actionDuration,
		c.operatorPauses,
		c.runProgress,
	)
	return c
}

// Registry returns the private registry for promhttp and for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordAction counts one executed action and observes its duration.
func (c *Collector) RecordAction(kind model.ActionKind, outcome model.ActionOutcome, seconds float64) {
	c.actionsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	c.actionDuration.WithLabelValues(string(kind)).Observe(seconds)
}

// RecordDispense accumulates delivered volume per reagent.
func (c *Collector) RecordDispense(reagent string, volumeUL float64) {
	if reagent == "" || volumeUL <= 0 {
		return
	}
	c.volumeDispensedUL.WithLabelValues(reagent).Add(volumeUL)
}

// SetModuleTemperature records the latest module sample.
func (c *Collector) SetModuleTemperature(moduleID string, observedC float64) {
	c.moduleTemperature.WithLabelValues(moduleID).Set(observedC)
}

// SetRunStatus flips the run_state gauge family so exactly one status is 1.
func (c *Collector) SetRunStatus(status model.RunStatus) {
	for _, s := range []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusRunning,
		model.RunStatusPaused,
		model.RunStatusCompleted,
		model.RunStatusFailed,
		model.RunStatusOperatorAborted,
	} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		c.runState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordOperatorPause counts a manual checkpoint being reached.
func (c *Collector) RecordOperatorPause() {
	c.operatorPauses.Inc()
}

// SetProgress publishes completed/total as a ratio.
func (c *Collector) SetProgress(completed, total int) {
	if total <= 0 {
		c.runProgress.Set(0)
		return
	}
	c.runProgress.Set(float64(completed) / float64(total))
}

// Attach subscribes the collector to run events. The returned function
// detaches every subscription.
func (c *Collector) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.EventRunStarted, func(e events.Event) {
			c.SetRunStatus(model.RunStatusRunning)
			c.SetProgress(0, intFrom(e.Data, "total_actions"))
		}),
		bus.Subscribe(events.EventActionCompleted, func(e events.Event) {
			kind := model.ActionKind(stringFrom(e.Data, "kind"))
			outcome := model.ActionOutcome(stringFrom(e.Data, "outcome"))
			c.RecordAction(kind, outcome, floatFrom(e.Data, "duration_s"))
			if kind == model.ActionDispense && outcome == model.OutcomeSuccess {
				c.RecordDispense(stringFrom(e.Data, "reagent"), floatFrom(e.Data, "volume_ul"))
			}
			c.SetProgress(intFrom(e.Data, "action_index")+1, intFrom(e.Data, "total_actions"))
		}),
		bus.Subscribe(events.EventCheckpoint, func(e events.Event) {
			c.RecordOperatorPause()
		}),
		bus.Subscribe(events.EventTemperatureUpdate, func(e events.Event) {
			c.SetModuleTemperature(stringFrom(e.Data, "module_id"), floatFrom(e.Data, "observed_c"))
		}),
		bus.Subscribe(events.EventRunFinished, func(e events.Event) {
			c.SetRunStatus(model.RunStatus(stringFrom(e.Data, "status")))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Serve exposes the registry over HTTP until ctx is cancelled. A nil error
// means the listener closed because of cancellation.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Bus payloads are map[string]interface{}; numeric values arrive as int or
// float64 depending on the publisher. These coercions keep subscribers
// tolerant of either.

func stringFrom(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func floatFrom(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func intFrom(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
