package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/mqtt"
)

// mqttMessage is the JSON payload published for a notification.
type mqttMessage struct {
	Type    Type      `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// MQTTProvider publishes notifications as JSON to an MQTT topic. It
// connects on first use.
type MQTTProvider struct {
	client mqtt.Client
	topic  string
	now    func() time.Time
}

// NewMQTTProvider creates a provider publishing to topic through client.
func NewMQTTProvider(client mqtt.Client, topic string) *MQTTProvider {
	return &MQTTProvider{client: client, topic: topic, now: time.Now}
}

func (p *MQTTProvider) GetName() string { return "mqtt" }

func (p *MQTTProvider) IsEnabled() bool { return p.client != nil }

func (p *MQTTProvider) SupportsType(Type) bool { return true }

func (p *MQTTProvider) ValidateConfig() error {
	if p.topic == "" {
		return errors.NewStd("mqtt topic is required")
	}
	return nil
}

func (p *MQTTProvider) Send(ctx context.Context, n *Notification) error {
	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(mqttMessage{Type: n.Type, Title: n.Title, Message: n.Message, Time: p.now().UTC()})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topic, payload)
}

// Close disconnects from the broker.
func (p *MQTTProvider) Close() {
	p.client.Disconnect()
}
