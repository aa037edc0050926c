// Package mqttingest feeds portal batches published over MQTT into the
// reconciliation engine. The portal API key travels in the topic, in place of
// the single + wildcard of the subscription pattern.
package mqttingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
	"asset-tracker-api/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrUnknownPortal is returned by HandleMessage when the topic key matches
// no registered portal
var ErrUnknownPortal = errors.New("unknown portal key")

// Authenticator resolves a portal API key
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (models.Portal, error)
}

// Ingester applies a decoded batch for a portal
type Ingester interface {
	Ingest(ctx context.Context, portal models.Portal, reads []tracking.RawRead) (*tracking.BatchResult, error)
}

type Config struct {
	BrokerURL string
	// Topic must contain exactly one + segment.
	Topic          string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
}

type Bridge struct {
	cfg     Config
	portals Authenticator
	engine  Ingester
	log     zerolog.Logger
	client  mqtt.Client

	// ctx outlives the Start context so batches already acknowledged to the
	// broker finish during shutdown. Stop cancels it after disconnecting.
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg and returns a bridge that is not yet connected
func New(cfg Config, portals Authenticator, engine Ingester, logger zerolog.Logger) (*Bridge, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	if strings.Count(cfg.Topic, "+") != 1 || strings.Contains(cfg.Topic, "#") {
		return nil, fmt.Errorf("mqtt topic %q must contain exactly one + segment and no #", cfg.Topic)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos %d out of range", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "asset-tracker"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:     cfg,
		portals: portals,
		engine:  engine,
		log:     logger.With().Str("component", "mqttingest").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start connects to the broker and subscribes. The subscription is renewed on
// every reconnect. ctx bounds the connect only: messages are handled until
// Stop is called, even after ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		b.deliver(msg.Topic(), msg.Payload())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(b.cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(b.cfg.Topic, b.cfg.QoS, handler)
		if !token.WaitTimeout(b.cfg.ConnectTimeout) || token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", b.cfg.Topic).Msg("mqtt subscribe failed")
			return
		}
		b.log.Info().Str("topic", b.cfg.Topic).Msg("mqtt subscribed")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("mqtt connection lost")
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	timer := time.NewTimer(b.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		b.client.Disconnect(0)
		return ctx.Err()
	case <-timer.C:
		b.client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s timed out", b.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", b.cfg.BrokerURL, err)
	}
	b.log.Info().Str("broker", b.cfg.BrokerURL).Str("client_id", b.cfg.ClientID).Msg("mqtt connected")
	return nil
}

// Stop unsubscribes and disconnects, waiting briefly for in-flight work, then
// cancels whatever is still running
func (b *Bridge) Stop() {
	defer b.cancel()
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	b.client.Unsubscribe(b.cfg.Topic).WaitTimeout(time.Second)
	b.client.Disconnect(250)
	b.log.Info().Msg("mqtt disconnected")
}

// deliver handles one broker message on the bridge context
func (b *Bridge) deliver(topic string, payload []byte) {
	if err := b.HandleMessage(b.ctx, topic, payload); err != nil {
		b.log.Warn().Err(err).Str("topic", redactTopic(b.cfg.Topic, topic)).Msg("dropping mqtt batch")
	}
}

// HandleMessage authenticates the key carried by topic and ingests payload
// for that portal. The payload has the same shape as an HTTP ingestion body.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	key, ok := keyFromTopic(b.cfg.Topic, topic)
	if !ok {
		return fmt.Errorf("topic does not match %s", b.cfg.Topic)
	}
	portal, err := b.portals.Authenticate(ctx, key)
	if err != nil {
		if errors.Is(err, tracking.ErrNotFound) || errors.Is(err, tracking.ErrInvalidInput) {
			return ErrUnknownPortal
		}
		return fmt.Errorf("portal lookup: %w", err)
	}

	reads, err := tracking.DecodeBatch(payload)
	if err != nil {
		return fmt.Errorf("portal %s: %w", portal.Name, err)
	}
	batch, err := b.engine.Ingest(ctx, portal, reads)
	if err != nil {
		return fmt.Errorf("portal %s: %w", portal.Name, err)
	}

	evt := b.log.Info()
	if batch.Err() != nil {
		evt = b.log.Warn()
	}
	evt.Str("portal", portal.Name).
		Int("reads", len(reads)).
		Int("processed", batch.Processed).
		Int("failed", batch.Failed).
		Int("pending", batch.Pending).
		Msg("mqtt batch ingested")
	return nil
}

// keyFromTopic returns the segment of topic sitting under the + of pattern
func keyFromTopic(pattern, topic string) (string, bool) {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", false
	}
	var key string
	for i := range want {
		switch {
		case want[i] == "+":
			key = got[i]
		case want[i] != got[i]:
			return "", false
		}
	}
	return key, key != ""
}

// redactTopic replaces the key segment so API keys stay out of logs
func redactTopic(pattern, topic string) string {
	if _, ok := keyFromTopic(pattern, topic); !ok {
		return topic
	}
	return strings.Replace(pattern, "+", "***", 1)
}
