package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/JoeyEamigh/ccmemory/internal/engine"

// instruments holds the engine's OpenTelemetry instruments. With no meter
// provider installed the global provider is a no-op.
type instruments struct {
	decayRuns     metric.Int64Counter
	decayUpdated  metric.Int64Counter
	decayFailures metric.Int64Counter
	searchResults metric.Int64Histogram
	searchScore   metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) *instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	ins := &instruments{}

	// Names are static and valid.
	ins.decayRuns, _ = meter.Int64Counter("ccmemory.decay.runs",
		metric.WithDescription("Decay batches processed"),
		metric.WithUnit("{run}"))
	ins.decayUpdated, _ = meter.Int64Counter("ccmemory.decay.updated",
		metric.WithDescription("Memories whose salience was lowered by decay"),
		metric.WithUnit("{memory}"))
	ins.decayFailures, _ = meter.Int64Counter("ccmemory.decay.failures",
		metric.WithDescription("Decay batches that failed"),
		metric.WithUnit("{run}"))
	ins.searchResults, _ = meter.Int64Histogram("ccmemory.search.results",
		metric.WithDescription("Results returned per search"),
		metric.WithUnit("{memory}"))
	ins.searchScore, _ = meter.Float64Histogram("ccmemory.search.top_score",
		metric.WithDescription("Score of the best result per search"),
		metric.WithUnit("1"))
	return ins
}
