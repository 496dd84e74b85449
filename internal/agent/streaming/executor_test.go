package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

type fakePublisher struct {
	mu        sync.Mutex
	responses []*protocol.Response
}

func (f *fakePublisher) Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakePublisher) snapshot() []*protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Response, len(f.responses))
	copy(out, f.responses)
	return out
}

type fakeHandle struct{ stopped bool }

func (h *fakeHandle) Stop(time.Duration) error {
	h.stopped = true
	return nil
}

// connectingLauncher dials back into the listener on the given port,
// standing in for a launched compute process without spawning one.
func connectingLauncher(lines []string) Launcher {
	return func(ctx context.Context, executable string, port int, workDir string) (ProcessHandle, error) {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
		go func() {
			defer conn.Close()
			reader := bufio.NewReader(conn)
			_, _ = reader.ReadString('\n') // consume the inputs line
			for _, line := range lines {
				_, _ = conn.Write([]byte(line + "\n"))
			}
		}()
		return &fakeHandle{}, nil
	}
}

func newReq(t *testing.T, dir, file string) *protocol.Request {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("x"), 0o644))
	return &protocol.Request{
		Simulation: protocol.Simulation{
			RequestID: "r1",
			ClientID:  "c1",
			Simulator: "sim1",
			Type:      protocol.TypeStreaming,
			File:      file,
			Inputs:    map[string]any{"x": 1.0},
		},
		BridgeMeta: map[string]any{"protocol": "websocket"},
	}
}

func TestRunMissingFileProducesErrorResponse(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	exec := New(dir, "/bin/true", "127.0.0.1", connectingLauncher(nil), pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := &protocol.Request{Simulation: protocol.Simulation{RequestID: "r1", File: "missing.m", Type: protocol.TypeStreaming}}
	exec.Run(context.Background(), req)

	resp := pub.snapshot()
	require.Len(t, resp, 1)
	assert.Equal(t, string(protocol.KindMissingFile), resp[0].Error.Type)
}

func TestRunStreamsRecordsThenCompletes(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	records := []string{
		mustJSON(t, map[string]any{"progress": 25, "message": "step1"}),
		mustJSON(t, map[string]any{"y": 9.0}),
	}
	exec := New(dir, "/bin/true", "127.0.0.1", connectingLauncher(records), pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	resp := pub.snapshot()
	require.GreaterOrEqual(t, len(resp), 4) // started, progress, data, final

	assert.Equal(t, protocol.StatusCompleted, resp[0].Status)
	assert.Equal(t, protocol.StatusInProgress, resp[1].Status)
	assert.Equal(t, 25, resp[1].Progress.Percentage)
	assert.Equal(t, protocol.StatusStreaming, resp[2].Status)
	require.NotNil(t, resp[2].Sequence)
	assert.Equal(t, 1, *resp[2].Sequence) // the progress record before it took sequence 0

	last := resp[len(resp)-1]
	assert.Equal(t, protocol.StatusCompleted, last.Status)
}

func TestRunLaunchFailurePublishesStartFailure(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	launch := func(ctx context.Context, executable string, port int, workDir string) (ProcessHandle, error) {
		return nil, assertErr("cannot launch")
	}
	exec := New(dir, "/bin/true", "127.0.0.1", launch, pub, config.ResponseTemplatesConfig{}, nil, nil)

	req := newReq(t, dir, "m.m")
	exec.Run(context.Background(), req)

	resp := pub.snapshot()
	require.Len(t, resp, 1)
	assert.Equal(t, string(protocol.KindStartFailure), resp[0].Error.Type)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
