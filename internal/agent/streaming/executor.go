// Package streaming implements C9: open a local TCP listener, launch
// the compute process, accept its single connection, forward inputs,
// and republish each newline-delimited record it emits as a sequenced
// response, per spec.md §4.9.
package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/intocps-association/simulation-bridge/internal/agent/perf"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/process"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

const (
	acceptTimeout = 120 * time.Second
	teardownGrace = 10 * time.Second
	readChunkSize = 4096
)

// Publisher is the subset of agent/publish.Publisher the executor
// needs, kept as an interface so tests can substitute a fake instead
// of dialing a real broker.
type Publisher interface {
	Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error
}

// ProcessHandle is the subset of process.Handle the executor needs,
// letting tests fake the launched compute process.
type ProcessHandle interface {
	Stop(gracePeriod time.Duration) error
}

// Launcher starts the compute process for a streaming request, given
// the listener's port and a working directory. Swappable in tests.
type Launcher func(ctx context.Context, executable string, port int, workDir string) (ProcessHandle, error)

// DefaultLauncher launches executable with --port/--workdir arguments
// communicating the listener's address, per spec.md §4.9 point 2.
func DefaultLauncher(ctx context.Context, executable string, port int, workDir string) (ProcessHandle, error) {
	args := []string{fmt.Sprintf("--port=%d", port), "--workdir=" + workDir}
	return process.Start(ctx, "compute-stream", executable, args, nil, workDir)
}

// Executor runs one streaming request per call to Run; the agent
// handler may call Run concurrently on the same Executor, and each call
// opens its own listener on an OS-assigned port (spec.md §8's "each
// owns a distinct TCP listener port" property).
type Executor struct {
	simBasePath string
	executable  string
	host        string
	launch      Launcher
	publisher   Publisher
	templates   config.ResponseTemplatesConfig
	perf        *perf.Monitor
	log         *logger.Logger
}

// New builds a streaming executor. executable is the compute kernel's
// streaming-mode entry point.
func New(simBasePath, executable, host string, launch Launcher, publisher Publisher, templates config.ResponseTemplatesConfig, monitor *perf.Monitor, log *logger.Logger) *Executor {
	if launch == nil {
		launch = DefaultLauncher
	}
	return &Executor{simBasePath: simBasePath, executable: executable, host: host, launch: launch, publisher: publisher, templates: templates, perf: monitor, log: log}
}

// Run executes req asynchronously-from-the-caller's-perspective: the
// handler ACKs before calling this so a long-running stream never
// blocks consumption of other requests (spec.md §4.7 point 4). Run
// itself is synchronous internally; the handler invokes it in its own
// goroutine.
func (e *Executor) Run(ctx context.Context, req *protocol.Request) {
	op := e.perf.Begin(req.Simulation.RequestID)
	meta := req.ResponseMeta()
	simFile := req.Simulation.File
	workDir := e.simBasePath

	if _, err := os.Stat(filepath.Join(workDir, simFile)); err != nil {
		e.publishError(ctx, req, meta, protocol.KindMissingFile, fmt.Sprintf("simulation file not found: %s", simFile))
		return
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", e.host))
	if err != nil {
		e.publishError(ctx, req, meta, protocol.KindStartFailure, fmt.Sprintf("listen: %v", err))
		return
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	handle, err := e.launch(ctx, e.executable, port, workDir)
	if err != nil {
		e.publishError(ctx, req, meta, protocol.KindStartFailure, err.Error())
		return
	}
	if op != nil {
		op.SessionStart = time.Now()
	}
	defer func() {
		if op != nil {
			op.ProcessStop = time.Now()
		}
		_ = handle.Stop(teardownGrace)
		if op != nil {
			op.ResultSent = time.Now()
			e.perf.Complete(op)
		}
	}()

	e.send(ctx, req, protocol.Build(protocol.TemplateSuccess, req.Simulation.RequestID, simFile, req.Simulation.Type, meta,
		e.cfgFor(protocol.TemplateSuccess), protocol.Fields{Data: map[string]any{"message": "streaming started"}}))

	if err := ln.(*net.TCPListener).SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		e.publishError(ctx, req, meta, protocol.KindStartFailure, err.Error())
		return
	}
	conn, err := ln.Accept()
	if err != nil {
		e.publishError(ctx, req, meta, protocol.KindTimeout, fmt.Sprintf("accept: %v", err))
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{}) // clear accept timeout on the connection itself

	inputLine, err := json.Marshal(req.Simulation.Inputs)
	if err != nil {
		e.publishError(ctx, req, meta, protocol.KindValidation, err.Error())
		return
	}
	if _, err := conn.Write(append(inputLine, '\n')); err != nil {
		e.publishError(ctx, req, meta, protocol.KindExecution, fmt.Sprintf("send inputs: %v", err))
		return
	}

	e.readLoop(ctx, req, meta, conn)

	if op != nil {
		op.SessionDone = time.Now()
	}
}

// readLoop buffers in 4KiB chunks until a newline, parses each
// complete line as JSON, and classifies it as progress or streaming
// data, per spec.md §4.9 points 6-9.
func (e *Executor) readLoop(ctx context.Context, req *protocol.Request, meta map[string]any, conn net.Conn) {
	reader := bufio.NewReaderSize(conn, readChunkSize)
	sequence := 0

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			var record map[string]any
			if jsonErr := json.Unmarshal([]byte(line), &record); jsonErr != nil {
				if e.log != nil {
					e.log.Warnf("streaming executor: invalid JSON record for %s, skipping: %v", req.Simulation.RequestID, jsonErr)
				}
			} else {
				e.emitRecord(ctx, req, meta, record, &sequence)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				e.send(ctx, req, protocol.Build(protocol.TemplateSuccess, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta,
					e.cfgFor(protocol.TemplateSuccess), protocol.Fields{}))
				return
			}
			e.publishError(ctx, req, meta, protocol.KindExecution, fmt.Sprintf("connection error: %v", err))
			return
		}
	}
}

func (e *Executor) emitRecord(ctx context.Context, req *protocol.Request, meta map[string]any, record map[string]any, sequence *int) {
	seq := *sequence
	*sequence++

	if progress, ok := record["progress"]; ok {
		pct, _ := toInt(progress)
		msg, _ := record["message"].(string)
		fields := protocol.Fields{Percentage: pct, ProgressMsg: msg, Sequence: &seq}
		if data, ok := record["data"]; ok {
			fields.Data = data
		}
		e.send(ctx, req, protocol.Build(protocol.TemplateProgress, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta, e.cfgFor(protocol.TemplateProgress), fields))
		return
	}

	e.send(ctx, req, protocol.Build(protocol.TemplateStreaming, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta,
		e.cfgFor(protocol.TemplateStreaming), protocol.Fields{Data: record, Sequence: &seq}))
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func (e *Executor) cfgFor(t protocol.TemplateType) protocol.BuildConfig {
	var tc config.TemplateConfig
	switch t {
	case protocol.TemplateSuccess:
		tc = e.templates.Success
	case protocol.TemplateError:
		tc = e.templates.Error
	case protocol.TemplateProgress:
		tc = e.templates.Progress
	case protocol.TemplateStreaming:
		tc = e.templates.Streaming
	}
	return protocol.BuildConfig{ErrorCodes: tc.ErrorCodes, IncludeStackTrace: tc.IncludeStackTrace}
}

func (e *Executor) publishError(ctx context.Context, req *protocol.Request, meta map[string]any, kind protocol.ErrorKind, message string) {
	resp := protocol.Build(protocol.TemplateError, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta,
		e.cfgFor(protocol.TemplateError), protocol.Fields{ErrMessage: message, ErrType: string(kind)})
	e.send(ctx, req, resp)
}

func (e *Executor) send(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	if err := e.publisher.Publish(ctx, req.Simulation.Simulator, req.Simulation.ClientID, resp); err != nil && e.log != nil {
		e.log.Errorf("streaming executor: publish result for %s: %v", req.Simulation.RequestID, err)
	}
}
