// Package pubsub implements the C4 pub-sub adapter: an MQTT client
// that subscribes to an input topic and publishes results to an
// output topic, adapted from the teacher's MQTT client-mode adapter
// (services/stream/internal/adapter/mqtt/client_adapter.go,
// client_consumer.go, client_producer.go) down to the bridge's
// narrower Adapter contract.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/intocps-association/simulation-bridge/internal/adapter"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

// Adapter is the MQTT-backed pub-sub adapter.
type Adapter struct {
	cfg config.MQTTConfig
	log *logger.Logger

	mu     sync.Mutex
	client pahomqtt.Client
}

// New builds a pub-sub adapter for cfg. Connect happens in Start.
func New(cfg config.MQTTConfig, log *logger.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

// Start connects to the configured broker, subscribes to the input
// topic at the configured QoS, and emits an input_pubsub Signal for
// every normalized message (spec.md §4.4). Disconnects are logged;
// reconnection is left to the paho client's own auto-reconnect.
func (a *Adapter) Start(ctx context.Context) (<-chan adapter.Signal, error) {
	out := make(chan adapter.Signal, 16)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", a.cfg.Host, a.cfg.Port))
	opts.SetClientID(fmt.Sprintf("simulation-bridge-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(time.Duration(a.cfg.KeepAlive) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if a.log != nil {
			a.log.Warnf("pubsub adapter: connection lost: %v", err)
		}
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("pubsub adapter: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("pubsub adapter: connect: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		a.handleMessage(msg.Payload(), out)
	}

	subToken := client.Subscribe(a.cfg.InputTopic, a.cfg.QoS, handler)
	subToken.Wait()
	if err := subToken.Error(); err != nil {
		return nil, fmt.Errorf("pubsub adapter: subscribe: %w", err)
	}

	return out, nil
}

func (a *Adapter) handleMessage(payload []byte, out chan<- adapter.Signal) {
	req, err := protocol.Decode(payload)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("pubsub adapter: parse error: %v", err)
		}
		errResp := errorResponse(err)
		a.Deliver("", errResp)
		return
	}

	req.SetProtocol("pubsub")
	out <- adapter.Signal{Class: "pubsub", Kind: "input", Request: req}
}

func errorResponse(err error) *protocol.Response {
	errType := string(protocol.KindYAMLParse)
	if err == protocol.ErrNotAnObject {
		errType = string(protocol.KindValidation)
	}
	return protocol.Build(protocol.TemplateError, "", "", "", nil, protocol.BuildConfig{}, protocol.Fields{
		ErrMessage: err.Error(),
		ErrType:    errType,
	})
}

// Stop disconnects the MQTT client, waiting up to 250ms as the
// teacher's ClientConnection.Close does.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Disconnect(250)
	}
	return nil
}

// Deliver publishes resp onto the configured output topic at the
// configured QoS (spec.md §4.4). MQTT has no concept of "listener
// present", so Deliver always reports true once the publish token
// resolves without error.
func (a *Adapter) Deliver(clientID string, resp *protocol.Response) bool {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return false
	}

	body, err := protocol.EncodeJSON(resp)
	if err != nil {
		if a.log != nil {
			a.log.Errorf("pubsub adapter: encode result: %v", err)
		}
		return false
	}

	token := client.Publish(a.cfg.OutputTopic, a.cfg.QoS, false, body)
	token.Wait()
	return token.Error() == nil
}
