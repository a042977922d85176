package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker   string // host:port
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTPublisher publishes events as JSON to a single topic.
type MQTTPublisher struct {
	cfg    MQTTConfig
	log    zerolog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// Stats contains publisher statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// NewMQTTPublisher creates a publisher; call Connect before Publish.
func NewMQTTPublisher(cfg MQTTConfig, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		cfg: cfg,
		log: log.With().Str("component", "mqtt").Logger(),
	}
}

// Connect establishes the broker connection. Reconnection after a loss is
// handled by the client.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.log.Info().Str("broker", p.cfg.Broker).Str("client_id", p.cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.log.Warn().Err(err).Str("broker", p.cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	p.client = mqtt.NewClient(opts)

	p.log.Info().Str("broker", p.cfg.Broker).Msg("connecting to mqtt broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends e to the configured topic.
func (p *MQTTPublisher) Publish(e Event) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := e.ToJSON()
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.log.Debug().Str("topic", p.cfg.Topic).Str("event_id", e.ID.String()).Int("size", len(payload)).Msg("event published")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats returns publisher statistics.
func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
