package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intocps-association/simulation-bridge/internal/agent/compute"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

type fakePublisher struct {
	responses []*protocol.Response
	failN     int
}

func (f *fakePublisher) Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error {
	f.responses = append(f.responses, resp)
	return nil
}

type fakeSession struct {
	startErr  error
	startErrs []error
	outputs   map[string]any
	invokeErr error
	closed    bool
}

func (s *fakeSession) Start(ctx context.Context) error {
	if len(s.startErrs) > 0 {
		err := s.startErrs[0]
		s.startErrs = s.startErrs[1:]
		return err
	}
	return s.startErr
}

func (s *fakeSession) Invoke(ctx context.Context, functionName string, inputs map[string]any, nargout int) (map[string]any, error) {
	if s.invokeErr != nil {
		return nil, s.invokeErr
	}
	return s.outputs, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func newReq(t *testing.T, dir, file string) *protocol.Request {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("x"), 0o644))
	return &protocol.Request{
		Simulation: protocol.Simulation{
			RequestID: "r1",
			ClientID:  "c1",
			Simulator: "sim1",
			Type:      protocol.TypeBatch,
			File:      file,
			Inputs:    map[string]any{"x": 1.0},
			Outputs:   []any{"y"},
		},
		BridgeMeta: map[string]any{"protocol": "rest"},
	}
}

func TestRunMissingFileProducesErrorResponse(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	session := &fakeSession{}
	exec := New(dir, func(string, string) compute.Session { return session }, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := &protocol.Request{Simulation: protocol.Simulation{RequestID: "r1", File: "missing.m", Type: protocol.TypeBatch}}
	exec.Run(context.Background(), req)

	require.Len(t, pub.responses, 1)
	assert.Equal(t, protocol.StatusError, pub.responses[0].Status)
	assert.Equal(t, string(protocol.KindMissingFile), pub.responses[0].Error.Type)
	assert.False(t, session.closed)
}

func TestRunSuccessPublishesProgressThenSuccess(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	session := &fakeSession{outputs: map[string]any{"y": 3.0}}
	exec := New(dir, func(string, string) compute.Session { return session }, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	require.Len(t, pub.responses, 3)
	assert.Equal(t, protocol.StatusInProgress, pub.responses[0].Status)
	assert.Equal(t, 0, pub.responses[0].Progress.Percentage)
	assert.Equal(t, protocol.StatusInProgress, pub.responses[1].Status)
	assert.Equal(t, 50, pub.responses[1].Progress.Percentage)
	assert.Equal(t, protocol.StatusCompleted, pub.responses[2].Status)
	assert.Equal(t, 3.0, pub.responses[2].Simulation.Outputs["y"])
	assert.True(t, session.closed)
}

func TestRunRetriesSessionStartBeforeGivingUp(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	session := &fakeSession{
		startErrs: []error{protocol.NewError(protocol.KindStartFailure, true, assertErr("boom")), nil},
		outputs:   map[string]any{"y": 1.0},
	}
	exec := New(dir, func(string, string) compute.Session { return session }, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	require.NotEmpty(t, pub.responses)
	last := pub.responses[len(pub.responses)-1]
	assert.Equal(t, protocol.StatusCompleted, last.Status)
}

func TestRunStartFailureAfterExhaustingRetriesPublishesError(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	session := &fakeSession{startErr: protocol.NewError(protocol.KindStartFailure, true, assertErr("boom"))}
	exec := New(dir, func(string, string) compute.Session { return session }, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	require.Len(t, pub.responses, 1)
	assert.Equal(t, string(protocol.KindStartFailure), pub.responses[0].Error.Type)
	assert.False(t, session.closed)
}

func TestRunInvokeErrorPublishesErrorAndStillClosesSession(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	session := &fakeSession{invokeErr: protocol.NewError(protocol.KindExecution, false, assertErr("invoke failed"))}
	exec := New(dir, func(string, string) compute.Session { return session }, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	require.Len(t, pub.responses, 2) // progress(0), error
	assert.Equal(t, protocol.StatusError, pub.responses[1].Status)
	assert.True(t, session.closed)
}

func TestRunPanicDuringExecutionRecoveredAsExecutionError(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	exec := New(dir, func(string, string) compute.Session {
		return panickySession{}
	}, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	require.NotEmpty(t, pub.responses)
	last := pub.responses[len(pub.responses)-1]
	assert.Equal(t, string(protocol.KindExecution), last.Error.Type)
}

type panickySession struct{}

func (panickySession) Start(ctx context.Context) error { return nil }
func (panickySession) Invoke(ctx context.Context, functionName string, inputs map[string]any, nargout int) (map[string]any, error) {
	panic("boom")
}
func (panickySession) Close() error { return nil }

type assertErr string

func (e assertErr) Error() string { return string(e) }
