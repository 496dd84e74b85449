// Package adapter defines the contract every inbound protocol
// listener implements (spec.md §4.2), generalizing the teacher's
// StreamAdapter/Connection interface (pkg/stream/adapter) down to the
// four operations the bridge actually needs: start, stop, normalize,
// deliver.
package adapter

import (
	"context"

	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// Signal is the normalized event an adapter hands to the bridge core
// after successfully parsing an inbound message. It carries the
// request, which adapter class produced it, and a per-signal ack/nack
// callback so the bridge core can confirm hand-off without the
// adapter knowing about delivery-mode details.
type Signal struct {
	Class    string // "internal", "pubsub", "http"
	Kind     string // "input", "result", "other" — only internal-broker emits "result"/"other"
	Request  *protocol.Request  // set for Kind == "input"
	Response *protocol.Response // set for Kind == "result"/"other"
	Ack      func()
	Nack     func()
}

// Adapter is the contract every inbound protocol listener satisfies.
type Adapter interface {
	// Start sets up consuming/serving and returns once that is in
	// place; background goroutines then emit Signals on the returned
	// channel until the context is canceled or Stop is called.
	Start(ctx context.Context) (<-chan Signal, error)

	// Stop gracefully shuts the adapter down, draining in-flight
	// messages where the transport allows.
	Stop(ctx context.Context) error

	// Deliver sends a result back to clientID on this adapter's
	// protocol. It returns whether a listener was still present.
	Deliver(clientID string, resp *protocol.Response) bool
}

// Normalize parses raw bytes into a Request, per spec.md §4.2: YAML
// preferred, JSON fallback, raw-text last; non-object payloads are
// rejected. It is a thin wrapper over protocol.Decode, which the
// adapters call directly on each raw message.
func Normalize(raw []byte) (*protocol.Request, error) {
	return protocol.Decode(raw)
}
