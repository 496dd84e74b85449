package perf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMonitorIsNoOp(t *testing.T) {
	m, err := New(false, "", "")
	require.NoError(t, err)

	op := m.Begin("op-1")
	assert.Nil(t, op)
	m.Complete(op)
	assert.Equal(t, Summary{}, m.Summary())
	assert.NoError(t, m.Close())
}

func TestNilMonitorIsNoOp(t *testing.T) {
	var m *Monitor
	assert.Nil(t, m.Begin("op-1"))
	assert.Equal(t, Summary{}, m.Summary())
	assert.NoError(t, m.Close())
}

func TestEnabledMonitorWritesCSVAndSummarizes(t *testing.T) {
	dir := t.TempDir()
	m, err := New(true, dir, "perf.csv")
	require.NoError(t, err)
	defer m.Close()

	op := m.Begin("op-1")
	require.NotNil(t, op)
	op.SessionStart = op.Received.Add(100 * time.Millisecond)
	op.SessionDone = op.SessionStart.Add(200 * time.Millisecond)
	op.ResultSent = op.SessionDone.Add(10 * time.Millisecond)
	m.Complete(op)

	summary := m.Summary()
	assert.Equal(t, 1, summary.Count)
	assert.InDelta(t, 0.1, summary.StartupMean, 0.01)
	assert.InDelta(t, 0.2, summary.SimulationMean, 0.01)

	data, err := os.ReadFile(dir + "/perf.csv")
	require.NoError(t, err)
	assert.Contains(t, string(data), "op-1")
	assert.Contains(t, string(data), "operation_id")
}

func TestSummaryAggregatesMinMeanMaxAcrossOperations(t *testing.T) {
	dir := t.TempDir()
	m, err := New(true, dir, "perf.csv")
	require.NoError(t, err)
	defer m.Close()

	for i, startup := range []time.Duration{50 * time.Millisecond, 150 * time.Millisecond} {
		op := m.Begin("op")
		op.SessionStart = op.Received.Add(startup)
		op.SessionDone = op.SessionStart.Add(time.Duration(i+1) * 100 * time.Millisecond)
		op.ResultSent = op.SessionDone.Add(5 * time.Millisecond)
		m.Complete(op)
	}

	summary := m.Summary()
	assert.Equal(t, 2, summary.Count)
	assert.True(t, summary.StartupMin <= summary.StartupMean)
	assert.True(t, summary.StartupMean <= summary.StartupMax)
}
