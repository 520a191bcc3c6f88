//go:build !no_mqtt

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT connection settings.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string // bridge state and entity topics
	DiscoveryPrefix string // Home Assistant discovery, usually "homeassistant"
	GatewayPrefix   string // gateway device feed
}

// MessageHandler receives a message payload for a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// broker is the subset of a connection the gateway and bridge use.
type broker interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	PublishAsync(topic string, payload []byte, retained bool)
	Subscribe(topic string, handler MessageHandler) error
	OnConnect(fn func())
}

// Conn is a shared paho client. Handlers registered with OnConnect run on
// every (re)connect so subscriptions survive broker restarts.
type Conn struct {
	client pahomqtt.Client
	logger *slog.Logger

	mu        sync.Mutex
	onConnect []func()
}

var _ broker = (*Conn)(nil)

// Connect dials the broker. The bridge availability topic is used as the
// last will so Home Assistant marks entities unavailable when we drop.
func Connect(cfg Config, logger *slog.Logger) (*Conn, error) {
	c := &Conn{logger: logger.With("component", "mqtt")}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tuya-go-home"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availabilityTopic(cfg.TopicPrefix), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			c.logger.Info("MQTT connected", "broker", cfg.Broker)
			c.mu.Lock()
			handlers := append([]func(){}, c.onConnect...)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn()
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	c.client = client
	return c, nil
}

// OnConnect registers fn to run on every connect. If the client is already
// connected fn also runs immediately.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
	if c.client != nil && c.client.IsConnectionOpen() {
		fn()
	}
}

// Publish sends a QoS 1 message and waits for the broker to accept it.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// PublishAsync sends a QoS 1 message and logs delivery failures.
func (c *Conn) PublishAsync(topic string, payload []byte, retained bool) {
	token := c.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// Subscribe registers handler for a topic filter at QoS 1.
func (c *Conn) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing in-flight messages a second to drain.
func (c *Conn) Close() {
	c.client.Disconnect(1000)
	c.logger.Info("MQTT disconnected")
}

func availabilityTopic(prefix string) string {
	return prefix + "/bridge/state"
}
