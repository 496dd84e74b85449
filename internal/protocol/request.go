// Package protocol defines the wire-level data model shared by every
// adapter, the bridge core, and the agent-side executors: the
// simulation request, the response envelope, the type marshalling
// rules, and the response builder.
package protocol

// SimulationType discriminates the two execution modes a simulator
// agent understands. It is the tag in the {batch, streaming} tagged
// union described by the request's `type` field.
type SimulationType string

const (
	TypeBatch     SimulationType = "batch"
	TypeStreaming SimulationType = "streaming"
)

// Valid reports whether t is one of the recognized simulation types.
func (t SimulationType) Valid() bool {
	return t == TypeBatch || t == TypeStreaming
}

// Simulation is the inner `simulation` object carried by a Request and
// echoed (in reduced form) by every Response.
type Simulation struct {
	RequestID    string         `yaml:"request_id" json:"request_id"`
	ClientID     string         `yaml:"client_id" json:"client_id"`
	Simulator    string         `yaml:"simulator" json:"simulator"`
	Type         SimulationType `yaml:"type" json:"type"`
	File         string         `yaml:"file" json:"file"`
	FunctionName string         `yaml:"function_name,omitempty" json:"function_name,omitempty"`
	Inputs       map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs      any            `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// Request is the full on-wire envelope a client sends and a bridge
// forwards to a simulator agent.
type Request struct {
	Simulation Simulation     `yaml:"simulation" json:"simulation"`
	BridgeMeta map[string]any `yaml:"bridge_meta,omitempty" json:"bridge_meta,omitempty"`
}

// FunctionName returns the entry-point symbol: the explicit
// function_name if set, otherwise the file name stripped of its
// extension, per spec.md §3.
func (s Simulation) FunctionName() string {
	if s.FunctionName != "" {
		return s.FunctionName
	}
	name := s.File
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
		if name[i] == '/' {
			break
		}
	}
	return name
}

// OutputNames returns the ordered batch output names. For a streaming
// request Outputs holds a field descriptor instead and this returns nil.
func (s Simulation) OutputNames() []string {
	raw, ok := s.Outputs.([]any)
	if !ok {
		if names, ok := s.Outputs.([]string); ok {
			return names
		}
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			names = append(names, str)
		}
	}
	return names
}

// Protocol returns the origin protocol tag set by the bridge in
// bridge_meta.protocol, or "" if unset (e.g. on a client-authored
// request before the bridge has tagged it).
func (r *Request) Protocol() string {
	if r.BridgeMeta == nil {
		return ""
	}
	if p, ok := r.BridgeMeta["protocol"].(string); ok {
		return p
	}
	return ""
}

// SetProtocol tags bridge_meta.protocol, creating the map if needed.
// Clients must not set this field themselves (spec.md §3); only the
// bridge calls this (the HTTP and pub-sub adapters on arrival, and the
// bridge core before forwarding).
func (r *Request) SetProtocol(protocol string) {
	if r.BridgeMeta == nil {
		r.BridgeMeta = make(map[string]any, 1)
	}
	r.BridgeMeta["protocol"] = protocol
}

// ResponseMeta builds the bridge_meta block every response the agent
// emits for this request carries: the protocol tag and client_id
// copied through unchanged (spec.md §3, "bridge_meta ... copied
// through"), plus simulator so the internal-broker adapter's outbound
// delivery can address the result exchange.
func (r *Request) ResponseMeta() map[string]any {
	meta := make(map[string]any, len(r.BridgeMeta)+2)
	for k, v := range r.BridgeMeta {
		meta[k] = v
	}
	meta["client_id"] = r.Simulation.ClientID
	meta["simulator"] = r.Simulation.Simulator
	return meta
}
