package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ReconcileRows.WithLabelValues("matched").Add(3)
	m.ReconcileRows.WithLabelValues("no_adm2_match").Inc()
	m.ScoresWritten.WithLabelValues("overall").Add(42)
	m.JobsRunning.Set(1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReconcileRows.WithLabelValues("matched")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ScoresWritten.WithLabelValues("overall")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["severity_reconcile_rows_total"])
	assert.True(t, names["severity_scores_written_total"])
	assert.True(t, names["severity_jobs_running"])
}

func TestNewMetricsWithRegistry_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetricsWithRegistry(reg)
	assert.Panics(t, func() { NewMetricsWithRegistry(reg) })
}
