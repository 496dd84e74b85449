// Package perf implements C11: a per-agent-process performance
// monitor that timestamps the phases of one request's lifecycle and
// appends a row to an append-only CSV on completion. Disabled by
// default and zero-overhead when disabled, per spec.md §4.11.
package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Operation accumulates the timestamps for one request's lifecycle.
// Callers record phases as they happen; RSS/CPU sampling is the
// caller's responsibility since the data only meaningfully exists
// next to the compute-process handle (internal/process).
type Operation struct {
	ID        string
	Received  time.Time
	SessionStart time.Time
	SessionDone  time.Time
	ProcessStop  time.Time
	ResultSent   time.Time
	CPUPercent   float64
	RSSMB        float64
}

func (o *Operation) startupDuration() float64 {
	return o.SessionStart.Sub(o.Received).Seconds()
}

func (o *Operation) simulationDuration() float64 {
	return o.SessionDone.Sub(o.SessionStart).Seconds()
}

func (o *Operation) totalDuration() float64 {
	return o.ResultSent.Sub(o.Received).Seconds()
}

// Monitor is the per-agent-process singleton. A nil *Monitor is valid
// and every method on it is a no-op, so callers that build one from a
// disabled config need no branching at call sites.
type Monitor struct {
	enabled bool
	path    string

	mu      sync.Mutex
	rows    []*Operation
	csvFile *os.File
	writer  *csv.Writer
}

// New builds a monitor. If enabled is false, the returned Monitor
// records nothing and Begin/Complete/Summary are free.
func New(enabled bool, logDir, logFilename string) (*Monitor, error) {
	if !enabled {
		return &Monitor{enabled: false}, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("perf: create log dir: %w", err)
	}
	path := filepath.Join(logDir, logFilename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("perf: open log file: %w", err)
	}

	info, statErr := f.Stat()
	w := csv.NewWriter(f)
	if statErr == nil && info.Size() == 0 {
		_ = w.Write([]string{
			"operation_id", "received", "session_start", "session_done", "process_stop", "result_sent",
			"startup_duration_s", "simulation_duration_s", "total_duration_s", "cpu_percent", "rss_mb",
		})
		w.Flush()
	}

	return &Monitor{enabled: true, path: path, csvFile: f, writer: w}, nil
}

// Begin starts tracking a new operation, returning nil when the
// monitor is disabled.
func (m *Monitor) Begin(operationID string) *Operation {
	if m == nil || !m.enabled {
		return nil
	}
	return &Operation{ID: operationID, Received: time.Now()}
}

// Complete appends op's row to the CSV and retains it in memory for
// Summary. A nil op (monitor disabled, or caller never called Begin)
// is a no-op.
func (m *Monitor) Complete(op *Operation) {
	if m == nil || !m.enabled || op == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, op)
	_ = m.writer.Write([]string{
		op.ID,
		op.Received.Format(time.RFC3339Nano),
		op.SessionStart.Format(time.RFC3339Nano),
		op.SessionDone.Format(time.RFC3339Nano),
		op.ProcessStop.Format(time.RFC3339Nano),
		op.ResultSent.Format(time.RFC3339Nano),
		fmt.Sprintf("%.6f", op.startupDuration()),
		fmt.Sprintf("%.6f", op.simulationDuration()),
		fmt.Sprintf("%.6f", op.totalDuration()),
		fmt.Sprintf("%.2f", op.CPUPercent),
		fmt.Sprintf("%.2f", op.RSSMB),
	})
	m.writer.Flush()
}

// Summary holds the min/mean/max aggregation spec.md §4.11 describes
// over startup, simulation, and total durations.
type Summary struct {
	Count                          int
	StartupMin, StartupMean, StartupMax       float64
	SimulationMin, SimulationMean, SimulationMax float64
	TotalMin, TotalMean, TotalMax       float64
}

// Summary aggregates every operation recorded so far. Returns the zero
// Summary when disabled or no operations have completed.
func (m *Monitor) Summary() Summary {
	if m == nil || !m.enabled {
		return Summary{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.rows) == 0 {
		return Summary{}
	}

	var s Summary
	s.Count = len(m.rows)
	s.StartupMin, s.SimulationMin, s.TotalMin = minTriple(m.rows)
	s.StartupMax, s.SimulationMax, s.TotalMax = maxTriple(m.rows)

	var startupSum, simSum, totalSum float64
	for _, op := range m.rows {
		startupSum += op.startupDuration()
		simSum += op.simulationDuration()
		totalSum += op.totalDuration()
	}
	n := float64(len(m.rows))
	s.StartupMean = startupSum / n
	s.SimulationMean = simSum / n
	s.TotalMean = totalSum / n

	return s
}

func minTriple(rows []*Operation) (startup, sim, total float64) {
	startup, sim, total = rows[0].startupDuration(), rows[0].simulationDuration(), rows[0].totalDuration()
	for _, op := range rows[1:] {
		startup = minOf(startup, op.startupDuration())
		sim = minOf(sim, op.simulationDuration())
		total = minOf(total, op.totalDuration())
	}
	return
}

func maxTriple(rows []*Operation) (startup, sim, total float64) {
	startup, sim, total = rows[0].startupDuration(), rows[0].simulationDuration(), rows[0].totalDuration()
	for _, op := range rows[1:] {
		startup = maxOf(startup, op.startupDuration())
		sim = maxOf(sim, op.simulationDuration())
		total = maxOf(total, op.totalDuration())
	}
	return
}

func minOf(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

func maxOf(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// Close flushes and releases the underlying file, a no-op when
// disabled.
func (m *Monitor) Close() error {
	if m == nil || !m.enabled {
		return nil
	}
	m.writer.Flush()
	return m.csvFile.Close()
}
