package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

// publisher is the subset of mqtt.Client used by the sink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTSink publishes events as JSON to <topic>/<category>.
type MQTTSink struct {
	client publisher
	topic  string
	close  func()
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTTSink{client: client, topic: cfg.Topic, close: func() { client.Disconnect(250) }}, nil
}

func (s *MQTTSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	topic := s.topic + "/" + ev.Category
	token := s.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
