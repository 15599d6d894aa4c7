package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundOutcomeIncrementsCounter(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.roundOutcomes.WithLabelValues("widget", "committed"))
	m.RecordRoundOutcome("widget", "committed")
	after := testutil.ToFloat64(m.roundOutcomes.WithLabelValues("widget", "committed"))
	require.Equal(t, before+1, after)
}

func TestSetGapBufferDepthSetsGauge(t *testing.T) {
	m := Get()
	m.SetGapBufferDepth("subject-1", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.gapBufferDepth.WithLabelValues("subject-1")))
	m.RemoveSubject("subject-1")
	require.Equal(t, float64(0), testutil.ToFloat64(m.gapBufferDepth.WithLabelValues("subject-1")))
}

func TestSetQuorumSizeAndWitnessAckLag(t *testing.T) {
	m := Get()
	m.SetQuorumSize("widget", "validate", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.quorumSize.WithLabelValues("widget", "validate")))

	m.SetWitnessAckLag("subject-1", "witness-1", 5)
	require.Equal(t, float64(5), testutil.ToFloat64(m.witnessAckLag.WithLabelValues("subject-1", "witness-1")))
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordRoundOutcome("widget", "committed")
	m.SetGapBufferDepth("s", 1)
	m.SetQuorumSize("widget", "validate", 1)
	m.SetWitnessAckLag("s", "w", 1)
	m.RemoveSubject("s")
}
