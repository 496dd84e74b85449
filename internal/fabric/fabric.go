// Package fabric declares and owns the internal broker's topology —
// the exchanges, queues, and bindings described in spec.md §4.1 — and
// exposes the two message-flow pipelines (client→simulator,
// simulator→bridge) every other component publishes and consumes
// through. It never shares a channel across goroutines; each caller
// gets its own (spec.md §5, "the broker channel is not shared across
// scheduler units").
//
// Exchange/queue naming resolves spec.md §9's Open Question on the two
// parallel result exchanges (ex.bridge.result and ex.sim.result) by
// keeping both, each with a distinct role: a simulator agent publishes
// its result onto ex.sim.result, which Q.bridge.result is bound to and
// the bridge consumes from; the bridge core then republishes that
// result onto the separate ex.bridge.result exchange for whichever
// client-facing adapter originated the request. Consumed and
// republished exchanges are kept distinct on purpose — collapsing them
// into one, as an earlier revision of this package did, turns the
// bridge's own "internal" result dispatch into a self-feeding republish
// loop, since Q.bridge.result's binding would then match the bridge's
// own outbound publish.
package fabric

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/logger"
)

const (
	ExchangeInput  = "ex.bridge.input"
	ExchangeOutput = "ex.bridge.output"
	// ExchangeSimResult is where a simulator agent publishes its
	// result; Q.bridge.result is bound here and the bridge core
	// consumes from it.
	ExchangeSimResult = "ex.sim.result"
	// ExchangeResult is where the bridge core republishes a result for
	// consumption by the client-facing side of whichever adapter
	// originated the request.
	ExchangeResult = "ex.bridge.result"

	QueueInput  = "Q.bridge.input"
	QueueResult = "Q.bridge.result"
)

// QueueForSimulator returns the per-simulator-instance queue name.
func QueueForSimulator(simulatorID string) string {
	return fmt.Sprintf("Q.sim.%s", simulatorID)
}

// InputRoutingKey is the routing key a client uses to publish onto
// ex.bridge.input.
func InputRoutingKey(clientID string) string { return clientID }

// OutputRoutingKey is the routing key the bridge core uses to publish
// onto ex.bridge.output for a specific simulator.
func OutputRoutingKey(clientID, simulatorID string) string {
	return fmt.Sprintf("%s.%s", clientID, simulatorID)
}

// ResultRoutingKey is the three-segment routing key used on both result
// hops: a simulator agent publishing onto ex.sim.result, and the
// bridge core republishing onto ex.bridge.result.
func ResultRoutingKey(simulatorID, clientID string) string {
	return fmt.Sprintf("%s.result.%s", simulatorID, clientID)
}

// Fabric owns the declarative broker topology and the connection used
// to declare it. Runtime publishers/consumers open their own channels
// via Dial using the same URL.
type Fabric struct {
	url     string
	backoff config.ReconnectBackoff
	log     *logger.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// New creates a fabric for the given RabbitMQ config.
func New(cfg config.RabbitMQConfig, backoff config.ReconnectBackoff, log *logger.Logger) *Fabric {
	url := fmt.Sprintf("amqp://%s:%d%s", cfg.Host, cfg.Port, cfg.VirtualHost)
	return &Fabric{url: url, backoff: backoff, log: log}
}

// Declare connects and declares every exchange, the fixed
// input/result queues, and their bindings. A declare failure caused
// by an incompatible existing entity is fatal at startup (spec.md
// §4.1): this is a configuration error, not a retriable one.
func (f *Fabric) Declare(ctx context.Context) error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	f.conn, f.ch = conn, ch

	for _, ex := range []string{ExchangeInput, ExchangeOutput, ExchangeSimResult, ExchangeResult} {
		if err := ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	if _, err := ch.QueueDeclare(QueueInput, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueInput, err)
	}
	if err := ch.QueueBind(QueueInput, "*", ExchangeInput, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueInput, err)
	}

	if _, err := ch.QueueDeclare(QueueResult, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueResult, err)
	}
	if err := ch.QueueBind(QueueResult, "*.result.*", ExchangeSimResult, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueResult, err)
	}

	return nil
}

// DeclareSimulatorQueue declares (idempotently) the per-simulator
// queue bound to ex.bridge.output, returning its name. It dials its
// own connection/channel via Dial rather than relying on the fabric's
// declaring channel, so an agent process — which never calls Declare —
// can still bring its own queue into existence (ex.bridge.output and
// the rest of the shared topology are assumed already declared by the
// bridge process).
func (f *Fabric) DeclareSimulatorQueue(ctx context.Context, simulatorID string) (string, error) {
	conn, ch, err := f.Dial(ctx)
	if err != nil {
		return "", fmt.Errorf("dial to declare simulator queue: %w", err)
	}
	defer conn.Close()

	name := QueueForSimulator(simulatorID)
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	key := fmt.Sprintf("*.%s", simulatorID)
	if err := ch.QueueBind(name, key, ExchangeOutput, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s: %w", name, err)
	}
	return name, nil
}

// Close tears down the declaring connection/channel.
func (f *Fabric) Close() error {
	if f.ch != nil {
		f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// Dial opens a fresh connection+channel against the same broker URL,
// for a component that needs its own (spec.md §5's "not shared across
// scheduler units" rule). It retries with the fabric's reconnect
// backoff, capped at MaxAttempts (spec.md §4.1). On exhaustion it
// returns a plain error wrapping the last dial failure; the error
// carries no protocol.ErrorKind and no retriable flag.
func (f *Fabric) Dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	var lastErr error
	for attempt := 1; attempt <= f.backoff.MaxAttempts; attempt++ {
		conn, err := amqp.Dial(f.url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				return conn, ch, nil
			}
			conn.Close()
			err = chErr
		}
		lastErr = err
		if f.log != nil {
			f.log.Warnf("broker dial attempt %d/%d failed: %v", attempt, f.backoff.MaxAttempts, err)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(f.backoff.Delay(attempt)):
		}
	}
	return nil, nil, fmt.Errorf("broker unreachable after %d attempts: %w", f.backoff.MaxAttempts, lastErr)
}
