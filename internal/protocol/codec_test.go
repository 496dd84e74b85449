package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYAML(t *testing.T) {
	body := []byte(`
simulation:
  request_id: req-1
  client_id: client-a
  simulator: sim1
  type: batch
  file: model.m
  inputs:
    x: 1
`)
	req, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.Simulation.RequestID)
	assert.Equal(t, TypeBatch, req.Simulation.Type)
}

func TestDecodeJSONFallback(t *testing.T) {
	body := []byte(`{"simulation": {"request_id": "r2", "client_id": "c2", "simulator": "sim1", "type": "streaming", "file": "m.m"}}`)
	req, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, TypeStreaming, req.Simulation.Type)
}

func TestDecodeRejectsNonObject(t *testing.T) {
	_, err := Decode([]byte(`["not", "an", "object"]`))
	assert.ErrorIs(t, err, ErrNotAnObject)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	_, err := Decode([]byte("   "))
	assert.Error(t, err)
}

func TestEncodeJSONMergesExtra(t *testing.T) {
	resp := &Response{
		RequestID: "req-1",
		Status:    StatusCompleted,
		Extra:     map[string]any{"custom_field": "value"},
	}
	body, err := EncodeJSON(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), "custom_field")
	assert.Contains(t, string(body), "req-1")
}

func TestEncodeRequestYAMLRoundTrips(t *testing.T) {
	req := &Request{Simulation: Simulation{RequestID: "r1", ClientID: "c1", Simulator: "sim1", Type: TypeBatch, File: "x.m"}}
	body, err := EncodeRequestYAML(req)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, req.Simulation.RequestID, decoded.Simulation.RequestID)
}

func TestDecodeResponseYAML(t *testing.T) {
	body := []byte(`
simulation:
  name: x.m
  type: batch
request_id: r1
status: completed
`)
	resp, err := DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
}
