package protocol

import "time"

// Status is the outer `status` field of a response envelope.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
	StatusStreaming  Status = "streaming"
	StatusError      Status = "error"
	StatusProcessing Status = "processing" // HTTP adapter's opening frame
	StatusTimeout    Status = "timeout"    // HTTP adapter's idle-timeout frame
)

// ResponseSimulation is the reduced `simulation` block echoed in a
// response: name/type plus, for a completed batch, its outputs.
type ResponseSimulation struct {
	Name    string         `yaml:"name" json:"name"`
	Type    SimulationType `yaml:"type" json:"type"`
	Outputs map[string]any `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// Progress carries the optional percentage/message pair for
// in_progress responses.
type Progress struct {
	Percentage int    `yaml:"percentage" json:"percentage"`
	Message    string `yaml:"message,omitempty" json:"message,omitempty"`
}

// ErrorDetail is the `error` block of an error envelope.
type ErrorDetail struct {
	Message string         `yaml:"message" json:"message"`
	Type    string         `yaml:"type" json:"type"`
	Code    int            `yaml:"code,omitempty" json:"code,omitempty"`
	Details map[string]any `yaml:"details,omitempty" json:"details,omitempty"`
}

// Metadata carries optional execution accounting.
type Metadata struct {
	ExecutionTime float64        `yaml:"execution_time,omitempty" json:"execution_time,omitempty"`
	MemoryUsage   float64        `yaml:"memory_usage,omitempty" json:"memory_usage,omitempty"`
	Counters      map[string]int `yaml:"counters,omitempty" json:"counters,omitempty"`
}

// Response is the uniform outbound envelope described in spec.md §3.
// Sequence is a pointer so a zero sequence (the first streaming
// fragment) is distinguishable from "no sequence" on a terminal
// envelope, per the monotonicity property in spec.md §8.
type Response struct {
	Simulation ResponseSimulation `yaml:"simulation" json:"simulation"`
	RequestID  string             `yaml:"request_id" json:"request_id"`
	BridgeMeta map[string]any     `yaml:"bridge_meta,omitempty" json:"bridge_meta,omitempty"`
	Status     Status             `yaml:"status" json:"status"`
	Timestamp  time.Time          `yaml:"timestamp" json:"timestamp"`
	Data       any                `yaml:"data,omitempty" json:"data,omitempty"`
	Progress   *Progress          `yaml:"progress,omitempty" json:"progress,omitempty"`
	Error      *ErrorDetail       `yaml:"error,omitempty" json:"error,omitempty"`
	Sequence   *int               `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	Metadata   *Metadata          `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Extra passes unknown/forward-compatible fields through verbatim,
	// added by the YAML/JSON encoders (mergeExtra in codec.go) for every
	// key the named fields do not already set, the way the original
	// create_response.py forwards **kwargs untouched.
	Extra map[string]any `yaml:"-" json:"-"`
}

// Protocol returns the bridge_meta.protocol tag this response was
// built for, used by the bridge core to route the result signal back
// to the originating adapter (spec.md §4.6).
func (r *Response) Protocol() string {
	if r.BridgeMeta == nil {
		return ""
	}
	if p, ok := r.BridgeMeta["protocol"].(string); ok {
		return p
	}
	return ""
}

// ClientID extracts the client_id the response was tagged for, when
// the bridge_meta carries it (the HTTP and pub-sub adapters key their
// per-client state off this).
func (r *Response) ClientID() string {
	if r.BridgeMeta == nil {
		return ""
	}
	if c, ok := r.BridgeMeta["client_id"].(string); ok {
		return c
	}
	return ""
}

// Terminal reports whether this response ends the request's lifecycle
// (completed or error), used to tear down per-request state.
func (r *Response) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}
