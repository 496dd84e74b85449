// Package publish gives the agent-side executors a single way to
// publish a response envelope onto ex.sim.result, the exchange
// Q.bridge.result is bound to and the bridge core's internal-broker
// adapter consumes from (spec.md §4.1, §4.6).
package publish

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// Publisher sends one result envelope per call; executors share one
// instance per agent process, each call serialized behind the
// channel's own mutex-free AMQP write (the library itself serializes
// writes on a channel).
type Publisher struct {
	fab *fabric.Fabric
	log *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a publisher bound to fab. It dials lazily on first use so
// construction never blocks.
func New(fab *fabric.Fabric, log *logger.Logger) *Publisher {
	return &Publisher{fab: fab, log: log}
}

// Publish tags resp with simulatorID/clientID's routing key and sends
// it on ex.sim.result, dialing (or redialing after a dropped
// connection) as needed.
func (p *Publisher) Publish(ctx context.Context, simulatorID, clientID string, resp *protocol.Response) error {
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	body, err := protocol.EncodeYAML(resp)
	if err != nil {
		return err
	}

	key := fabric.ResultRoutingKey(simulatorID, clientID)
	err = ch.PublishWithContext(ctx, fabric.ExchangeSimResult, key, false, false, amqp.Publishing{
		ContentType:  "application/x-yaml",
		DeliveryMode: amqp.Persistent,
		MessageId:    protocol.NewMessageID(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		if ch2, derr := p.channel(ctx); derr == nil {
			return ch2.PublishWithContext(ctx, fabric.ExchangeSimResult, key, false, false, amqp.Publishing{
				ContentType:  "application/x-yaml",
				DeliveryMode: amqp.Persistent,
				MessageId:    protocol.NewMessageID(),
				Body:         body,
			})
		}
	}
	return err
}

func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}
	conn, ch, err := p.fab.Dial(ctx)
	if err != nil {
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close releases the publisher's connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
