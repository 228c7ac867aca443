// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// shared by the orchestrator and tool layer.
//
// Grounded on hector's pkg/observability/tracer.go
// (InitGlobalTracer/GetTracer shape), swapping the OTLP gRPC exporter
// for go.opentelemetry.io/otel/exporters/stdout/stdouttrace since this
// module has no collector endpoint to target — stdouttrace is the
// ecosystem-standard choice for a library that wants tracing wired
// without requiring operators to stand up a collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	omet "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	promclient "github.com/prometheus/client_golang/prometheus"
)

// Config controls whether real exporters are installed.
type Config struct {
	TracingEnabled bool
	MetricsEnabled bool
	ServiceName    string
}

// Provider bundles the tracer and the meter used across the core.
type Provider struct {
	Tracer trace.Tracer
	Meter  omet.Meter

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init sets up tracing (stdout exporter) and metrics (Prometheus
// registry) per cfg, installing both as process globals so tool/
// orchestrator code can call otel.Tracer/otel.Meter directly as well.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}

	if !cfg.TracingEnabled {
		p.Tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		p.tp = tp
		p.Tracer = tp.Tracer(cfg.ServiceName)
	}

	if !cfg.MetricsEnabled {
		p.Meter = omet.NewMeterProvider().Meter(cfg.ServiceName)
	} else {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(mp)
		p.mp = mp
		p.Meter = mp.Meter(cfg.ServiceName)
	}

	return p, nil
}

// Shutdown flushes and stops any installed exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.mp != nil {
		return p.mp.Shutdown(ctx)
	}
	return nil
}

// Metrics are the Prometheus counters/histograms the orchestrator emits
// directly (grounded on hector's pkg/observability/metrics.go
// registration pattern), kept separate from the otel metric.Meter since
// the hop/turn-limit counters are simple monotonic counters best
// expressed with client_golang directly.
type Metrics struct {
	LLMCalls       *promclient.CounterVec
	ToolExecutions *promclient.CounterVec
	HopGuardrails  promclient.Counter
	TurnLimitHits  promclient.Counter
}

// NewMetrics registers the core counters against reg (pass
// promclient.DefaultRegisterer for process-global metrics).
func NewMetrics(reg promclient.Registerer) *Metrics {
	m := &Metrics{
		LLMCalls: promclient.NewCounterVec(promclient.CounterOpts{
			Name: "agentworld_llm_calls_total",
			Help: "Total LLM generate calls by world and agent.",
		}, []string{"world_id", "agent_id"}),
		ToolExecutions: promclient.NewCounterVec(promclient.CounterOpts{
			Name: "agentworld_tool_executions_total",
			Help: "Total tool executions by tool name and outcome.",
		}, []string{"tool_name", "outcome"}),
		HopGuardrails: promclient.NewCounter(promclient.CounterOpts{
			Name: "agentworld_hop_guardrail_total",
			Help: "Total times the 50-hop continuation guardrail fired.",
		}),
		TurnLimitHits: promclient.NewCounter(promclient.CounterOpts{
			Name: "agentworld_turn_limit_total",
			Help: "Total times an agent hit its world turn limit.",
		}),
	}
	reg.MustRegister(m.LLMCalls, m.ToolExecutions, m.HopGuardrails, m.TurnLimitHits)
	return m
}
