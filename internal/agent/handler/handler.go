// Package handler implements C7: the simulator-side message handler
// that consumes its own Q.sim.<simulator-id> queue, validates each
// request, and dispatches to the batch or streaming executor, per
// spec.md §4.7.
package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// BatchRunner matches agent/batch.Executor's Run method.
type BatchRunner interface {
	Run(ctx context.Context, req *protocol.Request)
}

// StreamRunner matches agent/streaming.Executor's Run method.
type StreamRunner interface {
	Run(ctx context.Context, req *protocol.Request)
}

// Publisher is the subset of agent/publish.Publisher the handler
// needs to report validation failures, kept as an interface so tests
// can substitute a fake instead of dialing a real broker.
type Publisher interface {
	Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error
}

// Handler owns the simulator's own queue consumer.
type Handler struct {
	simulatorID string
	fab         *fabric.Fabric
	batch       BatchRunner
	stream      StreamRunner
	templates   config.ResponseTemplatesConfig
	publisher   Publisher
	log         *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a handler for simulatorID.
func New(simulatorID string, fab *fabric.Fabric, batch BatchRunner, stream StreamRunner, templates config.ResponseTemplatesConfig, publisher Publisher, log *logger.Logger) *Handler {
	return &Handler{simulatorID: simulatorID, fab: fab, batch: batch, stream: stream, templates: templates, publisher: publisher, log: log}
}

// Run declares this simulator's queue, sets prefetch 1 (spec.md §4.7
// point "prefetch is 1"), and consumes until ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	if _, err := h.fab.DeclareSimulatorQueue(ctx, h.simulatorID); err != nil {
		return fmt.Errorf("agent handler: declare queue: %w", err)
	}

	conn, ch, err := h.fab.Dial(ctx)
	if err != nil {
		return fmt.Errorf("agent handler: dial: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("agent handler: qos: %w", err)
	}

	h.mu.Lock()
	h.conn, h.ch = conn, ch
	h.mu.Unlock()

	queueName := fabric.QueueForSimulator(h.simulatorID)
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("agent handler: consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			h.handle(ctx, d)
		}
	}
}

// handle implements spec.md §4.7's five-step flow for one message.
func (h *Handler) handle(ctx context.Context, d amqp.Delivery) {
	req, err := protocol.Decode(d.Body)
	if err != nil {
		h.rejectInvalid(ctx, d, clientIDFromRoutingKey(d.RoutingKey), err)
		return
	}

	if !req.Simulation.Type.Valid() {
		h.rejectInvalid(ctx, d, req.Simulation.ClientID, fmt.Errorf("unrecognized simulation type %q", req.Simulation.Type))
		return
	}
	if req.Simulation.ClientID == "" {
		req.Simulation.ClientID = clientIDFromRoutingKey(d.RoutingKey)
	}
	if req.Simulation.RequestID == "" || req.Simulation.File == "" {
		h.rejectInvalid(ctx, d, req.Simulation.ClientID, fmt.Errorf("request missing request_id or file"))
		return
	}

	switch req.Simulation.Type {
	case protocol.TypeBatch:
		// ACK only after synchronous completion (spec.md §4.7 point 4).
		h.batch.Run(ctx, req)
		d.Ack(false)
	case protocol.TypeStreaming:
		// ACK immediately; run asynchronously so a long-lived stream
		// never blocks consumption of the next message.
		d.Ack(false)
		go h.stream.Run(ctx, req)
	}
}

func (h *Handler) rejectInvalid(ctx context.Context, d amqp.Delivery, clientID string, cause error) {
	if h.log != nil {
		h.log.Warnf("agent handler: validation failure: %v", cause)
	}

	meta := map[string]any{"client_id": clientID, "simulator": h.simulatorID}
	resp := protocol.Build(protocol.TemplateError, "", "", "", meta,
		protocol.BuildConfig{ErrorCodes: h.templates.Error.ErrorCodes, IncludeStackTrace: h.templates.Error.IncludeStackTrace},
		protocol.Fields{ErrMessage: cause.Error(), ErrType: string(protocol.KindValidation)})

	if err := h.publisher.Publish(ctx, h.simulatorID, clientID, resp); err != nil && h.log != nil {
		h.log.Errorf("agent handler: publish validation error: %v", err)
	}
	d.Nack(false, false)
}

// clientIDFromRoutingKey reads the leading dot-separated segment of a
// <client_id>.<simulator_id> routing key (spec.md §4.7 point 2).
func clientIDFromRoutingKey(key string) string {
	if idx := strings.IndexByte(key, '.'); idx >= 0 {
		return key[:idx]
	}
	return key
}

// Stop closes the handler's consumer connection.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ch != nil {
		h.ch.Close()
	}
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
