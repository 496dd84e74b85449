// Package internalbroker implements the C3 internal-broker adapter:
// it consumes the bridge's own input and result queues and emits
// normalized signals, the way the teacher's StreamAdapter
// implementations wrap a platform-specific client behind the common
// Connection/ConsumerOperator shape (pkg/stream/adapter,
// services/stream/internal/adapter/mqtt/client_consumer.go).
package internalbroker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/intocps-association/simulation-bridge/internal/adapter"
	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// Adapter consumes Q.bridge.input (client requests) and
// Q.bridge.result (simulator results), emitting input_internal,
// result_internal, and other_internal signals per spec.md §4.3.
type Adapter struct {
	fabric *fabric.Fabric
	log    *logger.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	inputCh  *amqp.Channel
	resultCh *amqp.Channel
	// deliverCh is dedicated to Deliver's outbound publish, kept
	// separate from resultCh's consume loop per spec.md §5's "channel
	// not shared across scheduler units" rule.
	deliverCh *amqp.Channel
	stopped   bool
}

// New builds an internal-broker adapter bound to fab.
func New(fab *fabric.Fabric, log *logger.Logger) *Adapter {
	return &Adapter{fabric: fab, log: log}
}

// Start dials its own connection (never shares the fabric's
// declaring connection, per spec.md §5) and consumes both queues,
// prefetch 1 per consumer (spec.md §4.3).
func (a *Adapter) Start(ctx context.Context) (<-chan adapter.Signal, error) {
	conn, inputCh, err := a.fabric.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial input channel: %w", err)
	}
	_, resultCh, err := a.fabric.Dial(ctx)
	if err != nil {
		conn.Close()
		inputCh.Close()
		return nil, fmt.Errorf("dial result channel: %w", err)
	}
	_, deliverCh, err := a.fabric.Dial(ctx)
	if err != nil {
		conn.Close()
		inputCh.Close()
		resultCh.Close()
		return nil, fmt.Errorf("dial deliver channel: %w", err)
	}

	if err := inputCh.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set input qos: %w", err)
	}
	if err := resultCh.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set result qos: %w", err)
	}

	a.mu.Lock()
	a.conn, a.inputCh, a.resultCh, a.deliverCh = conn, inputCh, resultCh, deliverCh
	a.mu.Unlock()

	inputDeliveries, err := inputCh.Consume(fabric.QueueInput, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", fabric.QueueInput, err)
	}
	resultDeliveries, err := resultCh.Consume(fabric.QueueResult, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", fabric.QueueResult, err)
	}

	out := make(chan adapter.Signal, 16)

	go a.consumeInput(ctx, inputDeliveries, out)
	go a.consumeResult(ctx, resultDeliveries, out)

	return out, nil
}

func (a *Adapter) consumeInput(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- adapter.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			a.handleInput(d, out)
		}
	}
}

func (a *Adapter) handleInput(d amqp.Delivery, out chan<- adapter.Signal) {
	req, err := protocol.Decode(d.Body)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("internal-broker: failed to decode input message: %v", err)
		}
		d.Nack(false, false)
		return
	}

	out <- adapter.Signal{
		Class:   "internal",
		Kind:    "input",
		Request: req,
		Ack:     func() { d.Ack(false) },
		Nack:    func() { d.Nack(false, false) },
	}
}

func (a *Adapter) consumeResult(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- adapter.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			a.handleResult(d, out)
		}
	}
}

// handleResult decodes a Q.bridge.result body and emits a
// result_internal signal. A body that fails to decode has no usable
// routing information (no client_id, no protocol tag) to build an
// other_internal signal around, so it is NACKed without requeue and
// dropped, per spec.md §4.3 point 3 — the only other_internal case
// this topology's two fixed queues can produce.
func (a *Adapter) handleResult(d amqp.Delivery, out chan<- adapter.Signal) {
	resp, err := protocol.DecodeResponse(d.Body)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("internal-broker: failed to decode result message: %v", err)
		}
		d.Nack(false, false)
		return
	}

	out <- adapter.Signal{
		Class:    "internal",
		Kind:     "result",
		Response: resp,
		Ack:      func() { d.Ack(false) },
		Nack:     func() { d.Nack(false, false) },
	}
}

// Stop closes both consumer channels and the connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return nil
	}
	a.stopped = true

	if a.inputCh != nil {
		a.inputCh.Close()
	}
	if a.resultCh != nil {
		a.resultCh.Close()
	}
	if a.deliverCh != nil {
		a.deliverCh.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// Deliver republishes resp onto ex.bridge.result — a different
// exchange than the ex.sim.result the adapter's own resultCh consumes
// from — for the bridge core's "internal" result dispatch (spec.md
// §4.6). The internal broker adapter is both a consumer (input/result
// signals) and the sole writer back onto the result exchange for
// internal-origin requests; Deliver uses its own channel so the
// publish never shares a channel with the consume loop.
func (a *Adapter) Deliver(clientID string, resp *protocol.Response) bool {
	a.mu.Lock()
	ch := a.deliverCh
	a.mu.Unlock()
	if ch == nil {
		return false
	}

	body, err := protocol.EncodeYAML(resp)
	if err != nil {
		if a.log != nil {
			a.log.Errorf("internal-broker: encode result: %v", err)
		}
		return false
	}

	simulator, _ := resp.BridgeMeta["simulator"].(string)
	key := fabric.ResultRoutingKey(simulator, clientID)

	err = ch.PublishWithContext(context.Background(), fabric.ExchangeResult, key, false, false, amqp.Publishing{
		ContentType:  "application/x-yaml",
		DeliveryMode: amqp.Persistent,
		MessageId:    protocol.NewMessageID(),
		Body:         body,
	})
	return err == nil
}
