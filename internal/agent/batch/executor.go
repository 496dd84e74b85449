// Package batch implements C8: the single-shot executor flow
// validate → session-start → progress(0) → invoke → progress(50) →
// marshal outputs → success → session-end, per spec.md §4.8.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/intocps-association/simulation-bridge/internal/agent/compute"
	"github.com/intocps-association/simulation-bridge/internal/agent/perf"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

const (
	sessionStartRetries = 3
	sessionStartBackoff = 1 * time.Second
)

// Publisher is the subset of agent/publish.Publisher the executor
// needs, kept as an interface so tests can substitute a fake instead
// of dialing a real broker.
type Publisher interface {
	Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error
}

// Executor runs batch requests to completion synchronously; the
// caller (the agent handler) is expected to have already ACKed or to
// ACK only after Run returns, per spec.md §4.7 point 4.
type Executor struct {
	simBasePath string
	factory     compute.Factory
	publisher   Publisher
	templates   config.ResponseTemplatesConfig
	perf        *perf.Monitor
	log         *logger.Logger
}

// New builds a batch executor. simBasePath is the configured
// simulation.path directory the session's working directory and
// simulation file are resolved against.
func New(simBasePath string, factory compute.Factory, publisher Publisher, templates config.ResponseTemplatesConfig, monitor *perf.Monitor, log *logger.Logger) *Executor {
	return &Executor{simBasePath: simBasePath, factory: factory, publisher: publisher, templates: templates, perf: monitor, log: log}
}

// Run executes req to completion, publishing progress/success/error
// responses as it goes. It returns nothing: every failure is reported
// only as an error response.
func (e *Executor) Run(ctx context.Context, req *protocol.Request) {
	op := e.perf.Begin(req.Simulation.RequestID)
	meta := req.ResponseMeta()

	simFile := req.Simulation.File
	workDir := e.simBasePath

	if _, err := os.Stat(filepath.Join(workDir, simFile)); err != nil {
		e.publishError(ctx, req, meta, protocol.KindMissingFile, fmt.Sprintf("simulation file not found: %s", simFile))
		return
	}

	session := e.factory(simFile, workDir)
	var started bool
	defer func() {
		if started {
			if op != nil {
				op.ProcessStop = time.Now()
			}
			_ = session.Close()
		}
		if op != nil {
			op.ResultSent = time.Now()
			e.perf.Complete(op)
		}
		if r := recover(); r != nil {
			e.publishError(ctx, req, meta, protocol.KindExecution, fmt.Sprintf("panic during execution: %v", r))
		}
	}()

	if err := e.startSessionWithRetry(ctx, session); err != nil {
		e.publishError(ctx, req, meta, protocol.KindStartFailure, err.Error())
		return
	}
	started = true
	if op != nil {
		op.SessionStart = time.Now()
	}

	e.publishProgress(ctx, req, meta, 0, "starting")

	marshaledInputs := make(map[string]any, len(req.Simulation.Inputs))
	for name, v := range req.Simulation.Inputs {
		converted, err := protocol.ToCompute(v)
		if err != nil {
			e.publishError(ctx, req, meta, protocol.KindValidation, fmt.Sprintf("invalid input %q: %v", name, err))
			return
		}
		marshaledInputs[name] = converted
	}

	outputNames := req.Simulation.OutputNames()
	outputs, err := session.Invoke(ctx, req.Simulation.FunctionName(), marshaledInputs, len(outputNames))
	if op != nil {
		op.SessionDone = time.Now()
	}
	if err != nil {
		e.publishError(ctx, req, meta, protocol.KindOf(err), err.Error())
		return
	}

	e.publishProgress(ctx, req, meta, 50, "processing outputs")

	demarshaled := make(map[string]any, len(outputs))
	for name, v := range outputs {
		if m, ok := v.(protocol.Matrix); ok {
			demarshaled[name] = protocol.FromCompute(m)
		} else {
			demarshaled[name] = v
		}
	}

	resp := protocol.Build(protocol.TemplateSuccess, req.Simulation.RequestID, simFile, req.Simulation.Type, meta,
		protocol.BuildConfig{ErrorCodes: e.templates.Success.ErrorCodes, IncludeStackTrace: e.templates.Success.IncludeStackTrace},
		protocol.Fields{Outputs: demarshaled})
	e.send(ctx, req, resp)
}

func (e *Executor) startSessionWithRetry(ctx context.Context, session compute.Session) error {
	var lastErr error
	for attempt := 1; attempt <= sessionStartRetries; attempt++ {
		if err := session.Start(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < sessionStartRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sessionStartBackoff):
			}
		}
	}
	return lastErr
}

func (e *Executor) publishProgress(ctx context.Context, req *protocol.Request, meta map[string]any, pct int, msg string) {
	resp := protocol.Build(protocol.TemplateProgress, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta,
		protocol.BuildConfig{ErrorCodes: e.templates.Progress.ErrorCodes, IncludeStackTrace: e.templates.Progress.IncludeStackTrace},
		protocol.Fields{Percentage: pct, ProgressMsg: msg})
	e.send(ctx, req, resp)
}

func (e *Executor) publishError(ctx context.Context, req *protocol.Request, meta map[string]any, kind protocol.ErrorKind, message string) {
	resp := protocol.Build(protocol.TemplateError, req.Simulation.RequestID, req.Simulation.File, req.Simulation.Type, meta,
		protocol.BuildConfig{ErrorCodes: e.templates.Error.ErrorCodes, IncludeStackTrace: e.templates.Error.IncludeStackTrace},
		protocol.Fields{ErrMessage: message, ErrType: string(kind)})
	e.send(ctx, req, resp)
}

func (e *Executor) send(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	if err := e.publisher.Publish(ctx, req.Simulation.Simulator, req.Simulation.ClientID, resp); err != nil && e.log != nil {
		e.log.Errorf("batch executor: publish result for %s: %v", req.Simulation.RequestID, err)
	}
}
