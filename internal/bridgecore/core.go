// Package bridgecore implements C6: it receives normalized inbound
// signals from every adapter, tags each request with its origin
// protocol, forwards it to the simulator over the internal broker,
// and — on a result signal — dispatches the response back to whichever
// adapter originated the request. Per spec.md §9's design note, the
// "adapter emits signal, core receives" pattern is a typed channel per
// inbound class, and the core's main loop selects over all of them
// plus the shutdown signal.
package bridgecore

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/intocps-association/simulation-bridge/internal/adapter"
	"github.com/intocps-association/simulation-bridge/internal/adapter/internalbroker"
	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// OutboundAdapter is the subset of adapter.Adapter the core needs to
// dispatch a result back to its origin protocol.
type OutboundAdapter interface {
	Deliver(clientID string, resp *protocol.Response) bool
}

// Core is the bridge's routing brain.
type Core struct {
	fabric   *fabric.Fabric
	internal OutboundAdapter
	pubsub   OutboundAdapter
	http     OutboundAdapter
	log      *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a bridge core wired to the three outbound adapters. The
// core opens its own broker connection, distinct from the fabric's
// declaring connection and from each adapter's own (spec.md §4.6).
func New(fab *fabric.Fabric, internal, pubsub, http OutboundAdapter, log *logger.Logger) *Core {
	return &Core{fabric: fab, internal: internal, pubsub: pubsub, http: http, log: log}
}

// Run selects over every inbound signal channel until ctx is
// canceled, dispatching each to handleInput or handleResult.
func (c *Core) Run(ctx context.Context, channels ...<-chan adapter.Signal) error {
	if err := c.ensureConnection(ctx); err != nil {
		return fmt.Errorf("bridge core: initial connect: %w", err)
	}

	cases := fanIn(ctx, channels...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-cases:
			if !ok {
				return nil
			}
			c.dispatch(ctx, sig)
		}
	}
}

func fanIn(ctx context.Context, channels ...<-chan adapter.Signal) <-chan adapter.Signal {
	merged := make(chan adapter.Signal, 16)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch <-chan adapter.Signal) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sig, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- sig:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	return merged
}

func (c *Core) dispatch(ctx context.Context, sig adapter.Signal) {
	switch sig.Kind {
	case "input":
		c.handleInput(ctx, sig)
	case "result":
		c.handleResult(sig)
	default:
		// "other" signals carry nothing for the core to route. The
		// internal-broker adapter NACKs unparseable result-queue bodies
		// itself and emits no signal for them.
	}
}

// handleInput implements spec.md §4.6's input-signal path for all
// three inbound classes.
func (c *Core) handleInput(ctx context.Context, sig adapter.Signal) {
	req := sig.Request
	req.SetProtocol(sig.Class)

	key := fabric.OutputRoutingKey(req.Simulation.ClientID, req.Simulation.Simulator)
	body, err := protocol.EncodeRequestYAML(req)
	if err != nil {
		if c.log != nil {
			c.log.Errorf("bridge core: encode request: %v", err)
		}
		if sig.Nack != nil {
			sig.Nack()
		}
		return
	}

	if err := c.publish(ctx, fabric.ExchangeOutput, key, body); err != nil {
		if c.log != nil {
			c.log.Errorf("bridge core: publish to %s failed after retry: %v", fabric.ExchangeOutput, err)
		}
		if sig.Nack != nil {
			sig.Nack()
		}
		return
	}

	if sig.Ack != nil {
		sig.Ack()
	}
}

// handleResult implements spec.md §4.6's result-signal dispatch: read
// bridge_meta.protocol and route to the matching outbound adapter.
func (c *Core) handleResult(sig adapter.Signal) {
	resp := sig.Response
	protocolTag := resp.Protocol()
	clientID := resp.ClientID()

	var delivered bool
	switch protocolTag {
	case "internal":
		delivered = c.internal.Deliver(clientID, resp)
	case "pubsub":
		delivered = c.pubsub.Deliver(clientID, resp)
	case "http":
		delivered = c.http.Deliver(clientID, resp)
	default:
		if c.log != nil {
			c.log.Warnf("bridge core: result with unknown protocol tag %q dropped", protocolTag)
		}
	}

	if sig.Ack != nil {
		sig.Ack()
	}
	if !delivered && c.log != nil && protocolTag != "" {
		c.log.Warnf("bridge core: no %s listener for client %s, result dropped", protocolTag, clientID)
	}
}

// publish checks the connection (re-dialing a closed one) and sends
// body to exchange/key, retrying once after a reconnect on failure
// (spec.md §4.6). A second failure is returned for the caller to log
// and drop.
func (c *Core) publish(ctx context.Context, exchange, key string, body []byte) error {
	if err := c.ensureConnection(ctx); err == nil {
		if err := c.doPublish(ctx, exchange, key, body); err == nil {
			return nil
		}
	}

	if err := c.reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return c.doPublish(ctx, exchange, key, body)
}

func (c *Core) doPublish(ctx context.Context, exchange, key string, body []byte) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no broker channel")
	}

	return ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/x-yaml",
		DeliveryMode: amqp.Persistent,
		MessageId:    protocol.NewMessageID(),
		Body:         body,
	})
}

func (c *Core) ensureConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	conn, ch, err := c.fabric.Dial(ctx)
	if err != nil {
		return err
	}
	c.conn, c.ch = conn, ch
	return nil
}

// reconnect drops the current connection and dials a fresh one; publish
// calls it before its single retry.
func (c *Core) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.ch = nil, nil
	c.mu.Unlock()
	return c.ensureConnection(ctx)
}
