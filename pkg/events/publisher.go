// Package events streams stage events to an MQTT broker so dashboards can
// follow a run as it happens.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edge-vision/camctl/pkg/stage"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 250
	defaultQoS               = 1
)

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// RunID is stamped on every message.
	RunID string
}

// Client is the part of pahomqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher is a stage.Observer that publishes every event as JSON to
// <prefix>/<device-name>/stages/<stage>.
type Publisher struct {
	client  Client
	prefix  string
	runID   string
	qos     byte
	timeout time.Duration
}

var _ stage.Observer = (*Publisher)(nil)

// Message is the JSON payload of a stage event.
type Message struct {
	Kind       stage.EventKind `json:"kind"`
	Stage      string          `json:"stage"`
	Position   int             `json:"position"`
	Total      int             `json:"total"`
	DeviceName string          `json:"device_name"`
	RunID      string          `json:"run_id,omitempty"`
	Time       time.Time       `json:"time"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Connect dials the broker and returns a publisher bound to it.
func Connect(cfg Config) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetAutoReconnect(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", cfg.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	slog.Info("mqtt_connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return NewPublisher(client, cfg.TopicPrefix, cfg.RunID), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client Client, prefix, runID string) *Publisher {
	return &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		runID:   runID,
		qos:     defaultQoS,
		timeout: defaultPublishTimeout,
	}
}

// Topic returns the topic a stage event is published on.
func Topic(prefix, deviceName, stageName string) string {
	return fmt.Sprintf("%s/%s/stages/%s", strings.TrimSuffix(prefix, "/"), topicSegment(deviceName), stageName)
}

// topicSegment keeps MQTT wildcards and separators out of a topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Observe publishes ev. Publishing problems are logged; they never fail
// the run.
func (p *Publisher) Observe(_ context.Context, ev stage.Event) {
	msg := Message{
		Kind:       ev.Kind,
		Stage:      ev.Stage,
		Position:   ev.Position,
		Total:      ev.Total,
		DeviceName: ev.DeviceName,
		RunID:      p.runID,
		Time:       ev.Time.UTC(),
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("mqtt_encode_failed", "stage", ev.Stage, "error", err)
		return
	}

	topic := Topic(p.prefix, ev.DeviceName, ev.Stage)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		slog.Warn("mqtt_publish_timeout", "topic", topic, "timeout", p.timeout)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("mqtt_publish_failed", "topic", topic, "error", err)
		return
	}
	slog.Debug("mqtt_published", "topic", topic, "kind", ev.Kind)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(defaultDisconnectQuiesce)
}
