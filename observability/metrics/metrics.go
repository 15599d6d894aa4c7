// Package metrics exposes the node's runtime counters and gauges: pipeline
// round outcomes, resolved quorum sizes, and per-subject gap-buffer depth.
// A package-level prometheus.GaugeVec/CounterVec set is registered once
// and mirrored into an otel meter that falls back to a noop provider if
// the process has none configured.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	initOnce sync.Once
	shared   *Metrics
)

// Metrics is the process-wide set of node observability instruments.
// Construct it once via Get; every component that needs to record a
// measurement takes a *Metrics collaborator rather than reaching for
// package-level state directly, so tests can pass a fresh instance.
type Metrics struct {
	roundOutcomes  *prometheus.CounterVec
	quorumSize     *prometheus.GaugeVec
	gapBufferDepth *prometheus.GaugeVec
	witnessAckLag  *prometheus.GaugeVec

	meter              metric.Meter
	roundOutcomeCount  metric.Int64Counter
	gapBufferHistogram metric.Int64Histogram
}

// Get returns the process-wide Metrics instance, registering its
// collectors with the default prometheus registry on first call.
func Get() *Metrics {
	initOnce.Do(func() {
		m := &Metrics{
			roundOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "kore_pipeline_round_outcomes_total",
				Help: "Count of pipeline rounds by schema and terminal outcome.",
			}, []string{"schema", "outcome"}),
			quorumSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "kore_governance_quorum_size",
				Help: "Resolved quorum size for the most recent round at a given stage.",
			}, []string{"schema", "stage"}),
			gapBufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "kore_ledger_gap_buffer_depth",
				Help: "Number of events currently buffered awaiting causal repair, per subject.",
			}, []string{"subject"}),
			witnessAckLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "kore_distribution_witness_ack_lag",
				Help: "sn gap between the committed head and a witness's last acknowledged sn.",
			}, []string{"subject", "witness"}),
		}
		prometheus.MustRegister(m.roundOutcomes, m.quorumSize, m.gapBufferDepth, m.witnessAckLag)
		m.initMeter()
		shared = m
	})
	return shared
}

func (m *Metrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("kore/pipeline")
	counter, err := meter.Int64Counter("kore.pipeline.round_outcomes")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("kore/pipeline")
		counter, _ = fallback.Int64Counter("kore.pipeline.round_outcomes")
		meter = fallback
	}
	gapHist, err := meter.Int64Histogram("kore.ledger.gap_buffer_depth")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("kore/pipeline")
		gapHist, _ = fallback.Int64Histogram("kore.ledger.gap_buffer_depth")
		meter = fallback
	}
	m.meter = meter
	m.roundOutcomeCount = counter
	m.gapBufferHistogram = gapHist
}

// RecordRoundOutcome bumps the round-outcome counter for schemaID/outcome
// (e.g. "committed", "evaluator_mismatch", "validation_quorum_unreachable").
func (m *Metrics) RecordRoundOutcome(schemaID, outcome string) {
	if m == nil {
		return
	}
	m.roundOutcomes.WithLabelValues(schemaID, outcome).Inc()
	if m.roundOutcomeCount != nil {
		m.roundOutcomeCount.Add(contextBackground(), 1,
			metric.WithAttributes(attribute.String("schema", schemaID), attribute.String("outcome", outcome)))
	}
}

// SetQuorumSize records the quorum size resolved for schemaID at stage.
func (m *Metrics) SetQuorumSize(schemaID, stage string, size uint32) {
	if m == nil {
		return
	}
	m.quorumSize.WithLabelValues(schemaID, stage).Set(float64(size))
}

// SetGapBufferDepth records subjectID's current gap-buffer occupancy.
func (m *Metrics) SetGapBufferDepth(subjectID string, depth int) {
	if m == nil {
		return
	}
	m.gapBufferDepth.WithLabelValues(subjectID).Set(float64(depth))
	if m.gapBufferHistogram != nil {
		m.gapBufferHistogram.Record(contextBackground(), int64(depth),
			metric.WithAttributes(attribute.String("subject", subjectID)))
	}
}

// SetWitnessAckLag records how many sn behind witness is for subjectID, as
// observed by the distribution component's last re-push round.
func (m *Metrics) SetWitnessAckLag(subjectID, witness string, lag uint64) {
	if m == nil {
		return
	}
	m.witnessAckLag.WithLabelValues(subjectID, witness).Set(float64(lag))
}

// RemoveSubject clears subjectID's gap-buffer depth gauge once a subject
// reaches EOL and stops being actively tracked. Its witness ack-lag series
// are left in place.
func (m *Metrics) RemoveSubject(subjectID string) {
	if m == nil {
		return
	}
	m.gapBufferDepth.DeleteLabelValues(subjectID)
}

var backgroundOnce sync.Once
var backgroundContext context.Context

func contextBackground() context.Context {
	backgroundOnce.Do(func() {
		backgroundContext = context.Background()
	})
	return backgroundContext
}
