// Package mqtt publishes messages to an MQTT broker.
package mqtt

import (
	"context"
	"time"
)

// Client publishes to an MQTT broker.
type Client interface {
	// Connect connects to the broker. The client reconnects on its own
	// after a lost connection.
	Connect(ctx context.Context) error
	// Publish sends payload to topic, or to the default topic when topic is empty.
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string // tcp://host:1883, ssl://host:8883, ws://host/mqtt
	ClientID string
	Username string
	Password string
	Topic    string // default topic for Publish
	Retain   bool

	ReconnectCooldown time.Duration // minimum time between Connect attempts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with the default timeouts.
func DefaultConfig() Config {
	return Config{
		ClientID:          "mitra",
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
