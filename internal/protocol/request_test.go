package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunctionNameDefaultsToFileStem(t *testing.T) {
	s := Simulation{File: "model.m"}
	assert.Equal(t, "model", s.FunctionName())
}

func TestFunctionNameExplicitOverride(t *testing.T) {
	s := Simulation{File: "model.m", FunctionName: "run_sim"}
	assert.Equal(t, "run_sim", s.FunctionName())
}

func TestFunctionNameHandlesPathsWithoutExtension(t *testing.T) {
	s := Simulation{File: "model"}
	assert.Equal(t, "model", s.FunctionName())
}

func TestOutputNamesFromInterfaceSlice(t *testing.T) {
	s := Simulation{Outputs: []any{"y1", "y2"}}
	assert.Equal(t, []string{"y1", "y2"}, s.OutputNames())
}

func TestOutputNamesNilForStreamingDescriptor(t *testing.T) {
	s := Simulation{Outputs: map[string]any{"fields": []string{"t", "v"}}}
	assert.Nil(t, s.OutputNames())
}

func TestSetProtocolCreatesMapWhenNil(t *testing.T) {
	r := &Request{}
	r.SetProtocol("http")
	assert.Equal(t, "http", r.Protocol())
}

func TestResponseMetaCopiesThroughAndAddsRouting(t *testing.T) {
	r := &Request{
		Simulation: Simulation{ClientID: "client-a", Simulator: "sim1"},
		BridgeMeta: map[string]any{"protocol": "http"},
	}
	meta := r.ResponseMeta()
	assert.Equal(t, "http", meta["protocol"])
	assert.Equal(t, "client-a", meta["client_id"])
	assert.Equal(t, "sim1", meta["simulator"])

	// Mutating the returned map must not alias the request's own map.
	meta["protocol"] = "mutated"
	assert.Equal(t, "http", r.Protocol())
}

func TestResponseClientIDAndProtocolRoundTrip(t *testing.T) {
	resp := &Response{BridgeMeta: map[string]any{"protocol": "pubsub", "client_id": "c9"}}
	assert.Equal(t, "pubsub", resp.Protocol())
	assert.Equal(t, "c9", resp.ClientID())
}

func TestResponseTerminal(t *testing.T) {
	assert.True(t, (&Response{Status: StatusCompleted}).Terminal())
	assert.True(t, (&Response{Status: StatusError}).Terminal())
	assert.False(t, (&Response{Status: StatusInProgress}).Terminal())
	assert.False(t, (&Response{Status: StatusStreaming}).Terminal())
}
