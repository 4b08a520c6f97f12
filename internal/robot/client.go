package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"moxie_companion/internal/utils"
)

const qos byte = 1

// MessageHandler receives messages for a subscribed topic
type MessageHandler func(topic string, payload []byte)

// Client is the MQTT connection used by the Controller
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	IsConnected() bool
}

// PahoConfig configures a PahoClient
type PahoConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// PahoClient is a Client backed by the Eclipse Paho MQTT library. It
// reconnects automatically and restores its subscriptions on reconnect.
type PahoClient struct {
	client mqtt.Client
	mu     sync.Mutex
	subs   map[string]MessageHandler
	logger *utils.Logger
}

// NewPahoClient creates a client for cfg.BrokerURL without connecting
func NewPahoClient(cfg PahoConfig) *PahoClient {
	c := &PahoClient{
		subs:   make(map[string]MessageHandler),
		logger: utils.NewLogger("mqtt"),
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *PahoClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		token := client.Subscribe(topic, qos, wrap(h))
		go func(topic string) {
			if token.Wait() && token.Error() != nil {
				c.logger.Warn("Failed to restore subscription", "topic", topic, "error", token.Error())
			}
		}(topic)
	}
	c.logger.Info("MQTT connected", "subscriptions", len(subs))
}

func wrap(h MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *PahoClient) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (c *PahoClient) Disconnect() {
	c.client.Disconnect(250)
}

func (c *PahoClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (c *PahoClient) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if err := wait(ctx, c.client.Subscribe(topic, qos, wrap(handler))); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

func (c *PahoClient) IsConnected() bool {
	return c.client.IsConnected()
}
