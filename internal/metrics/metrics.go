// Package metrics collects per-run counters for validate, lint and graph
// commands. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contentgraph"

// Metrics holds the collectors of one run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	validationResults *prometheus.CounterVec
	validatedItems    prometheus.Gauge
	lintTools         *prometheus.CounterVec
	lintPackages      *prometheus.CounterVec
	graphNodes        prometheus.Gauge
	graphEdges        prometheus.Gauge
	duration          *prometheus.GaugeVec
}

// New creates a Metrics with every collector registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "results_total",
			Help:      "Validation results by error code and outcome.",
		}, []string{"code", "outcome"}),
		validatedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "items",
			Help:      "Content items checked by the last validation run.",
		}),
		lintTools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lint",
			Name:      "tool_runs_total",
			Help:      "Lint tool runs by tool and status.",
		}, []string{"tool", "status"}),
		lintPackages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lint",
			Name:      "packages_total",
			Help:      "Linted packages by outcome.",
		}, []string{"outcome"}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes in the content graph.",
		}),
		graphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "relationships",
			Help:      "Relationships in the content graph.",
		}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall time of the last run of a command.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(
		m.validationResults, m.validatedItems,
		m.lintTools, m.lintPackages,
		m.graphNodes, m.graphEdges,
		m.duration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ValidationResult counts one result. outcome is failure, warning, ignored
// or fixed.
func (m *Metrics) ValidationResult(code, outcome string) {
	if m == nil {
		return
	}
	m.validationResults.WithLabelValues(code, outcome).Inc()
}

// ValidatedItems records how many items a run checked.
func (m *Metrics) ValidatedItems(n int) {
	if m == nil {
		return
	}
	m.validatedItems.Set(float64(n))
}

// LintTool counts one lint tool run.
func (m *Metrics) LintTool(tool, status string) {
	if m == nil {
		return
	}
	m.lintTools.WithLabelValues(tool, status).Inc()
}

// LintPackage counts one linted package.
func (m *Metrics) LintPackage(outcome string) {
	if m == nil {
		return
	}
	m.lintPackages.WithLabelValues(outcome).Inc()
}

// GraphSize records the size of the content graph.
func (m *Metrics) GraphSize(nodes, relationships int) {
	if m == nil {
		return
	}
	m.graphNodes.Set(float64(nodes))
	m.graphEdges.Set(float64(relationships))
}

// Observe records the duration of a command since start.
func (m *Metrics) Observe(command string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(command).Set(time.Since(start).Seconds())
}

// WriteFile writes the collected metrics in the text exposition format, for
// the node exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
