package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrNotAnObject is returned by Decode when the payload parses but is
// not a mapping/object at the top level (spec.md §4.2: "reject
// non-object payloads").
var ErrNotAnObject = fmt.Errorf("payload is not an object")

// Decode parses raw bytes into a Request, trying YAML first, then
// JSON, per spec.md §4.2 ("YAML preferred, JSON fallback, raw-text
// last"). A payload that decodes to a non-map top level is rejected
// with ErrNotAnObject rather than silently coerced.
func Decode(raw []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var probe any
	yamlErr := yaml.Unmarshal(trimmed, &probe)
	if yamlErr == nil {
		if !isObject(probe) {
			return nil, ErrNotAnObject
		}
		var req Request
		if err := yaml.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("yaml decode: %w", err)
		}
		return &req, nil
	}

	var jsonProbe any
	if jsonErr := json.Unmarshal(trimmed, &jsonProbe); jsonErr == nil {
		if !isObject(jsonProbe) {
			return nil, ErrNotAnObject
		}
		var req Request
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
		return &req, nil
	}

	return nil, fmt.Errorf("raw-text payload could not be parsed as a request: %w", yamlErr)
}

// DecodeResponse parses raw bytes into a Response, using the same
// YAML-preferred/JSON-fallback strategy as Decode. Used by the
// internal-broker adapter to read result-queue message bodies.
func DecodeResponse(raw []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var probe any
	if err := yaml.Unmarshal(trimmed, &probe); err == nil {
		if !isObject(probe) {
			return nil, ErrNotAnObject
		}
		var resp Response
		if err := yaml.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("yaml decode: %w", err)
		}
		return &resp, nil
	}

	var jsonProbe any
	if err := json.Unmarshal(trimmed, &jsonProbe); err == nil {
		if !isObject(jsonProbe) {
			return nil, ErrNotAnObject
		}
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
		return &resp, nil
	}

	return nil, fmt.Errorf("raw-text payload could not be parsed as a response")
}

func isObject(v any) bool {
	switch v.(type) {
	case map[string]any, map[any]any:
		return true
	default:
		return false
	}
}

// EncodeRequestYAML serializes a request as YAML, used to publish
// bridge→simulator messages onto ex.bridge.output.
func EncodeRequestYAML(req *Request) ([]byte, error) {
	return yaml.Marshal(req)
}

// EncodeYAML serializes a response envelope as YAML, used for broker
// message bodies (spec.md §6: "body: YAML-encoded response envelope").
func EncodeYAML(resp *Response) ([]byte, error) {
	merged := mergeExtra(resp)
	return yaml.Marshal(merged)
}

// EncodeJSON serializes a response envelope as a single-line JSON
// object, used by the HTTP adapter's newline-delimited stream.
func EncodeJSON(resp *Response) ([]byte, error) {
	merged := mergeExtra(resp)
	return json.Marshal(merged)
}

// mergeExtra flattens Response into a plain map so Extra's
// pass-through fields sit alongside the named ones without a custom
// MarshalJSON/MarshalYAML on Response itself.
func mergeExtra(resp *Response) map[string]any {
	body, _ := json.Marshal(resp)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	for k, v := range resp.Extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
