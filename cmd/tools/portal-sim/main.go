package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type readPayload struct {
	UID       string         `json:"uid"`
	Timestamp string         `json:"timestamp"`
	RSSI      int            `json:"rssi"`
	Antenna   int            `json:"antenna"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type publisher interface {
	publish(ctx context.Context, body []byte) error
	close()
}

func main() {
	var (
		mode       = pflag.String("mode", "http", "Transport: http or mqtt")
		apiURL     = pflag.String("url", "http://localhost:8080", "API base URL (http mode)")
		broker     = pflag.String("broker", "tcp://localhost:1883", "MQTT broker address (mqtt mode)")
		topic      = pflag.String("topic", "portals/+/reads", "MQTT topic; + is replaced by the API key")
		apiKey     = pflag.String("key", os.Getenv("PORTAL_API_KEY"), "Portal API key")
		tags       = pflag.StringSlice("tags", []string{"E200-0001", "E200-0002"}, "Tag uids to report")
		antennas   = pflag.Int("antennas", 4, "Number of antennas to spread reads over")
		interval   = pflag.Duration("interval", 2*time.Second, "Interval between batches")
		count      = pflag.Int("count", 0, "Stop after this many batches (0 runs until interrupted)")
		baseRSSI   = pflag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
		rssiJitter = pflag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI readings")
		useGzip    = pflag.Bool("gzip", false, "Gzip request bodies (http mode)")
		verbose    = pflag.Bool("verbose", false, "Log every batch response")
	)
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	if *apiKey == "" {
		log.Fatal().Msg("--key or PORTAL_API_KEY is required")
	}
	if len(*tags) == 0 {
		log.Fatal().Msg("at least one tag is required")
	}

	var pub publisher
	switch *mode {
	case "http":
		pub = &httpPublisher{
			url:     strings.TrimRight(*apiURL, "/") + "/api/reads",
			key:     *apiKey,
			gzip:    *useGzip,
			client:  &http.Client{Timeout: 30 * time.Second},
			log:     log,
			verbose: *verbose,
		}
	case "mqtt":
		p, err := newMQTTPublisher(*broker, strings.Replace(*topic, "+", *apiKey, 1))
		if err != nil {
			log.Fatal().Err(err).Str("broker", *broker).Msg("failed to connect to broker")
		}
		log.Info().Str("broker", *broker).Msg("connected to MQTT broker")
		pub = p
	default:
		log.Fatal().Str("mode", *mode).Msg("mode must be http or mqtt")
	}
	defer pub.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		batch := make([]readPayload, 0, len(*tags))
		now := time.Now().UTC()
		for _, uid := range *tags {
			batch = append(batch, readPayload{
				UID:       uid,
				Timestamp: now.Format(time.RFC3339Nano),
				RSSI:      randomRSSI(rng, *baseRSSI, *rssiJitter),
				Antenna:   1 + rng.Intn(max(*antennas, 1)),
				Metadata:  map[string]any{"source": "simulator"},
			})
		}
		body, err := json.Marshal(batch)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to encode batch")
		}
		if err := pub.publish(ctx, body); err != nil {
			log.Error().Err(err).Msg("publish failed")
		} else {
			log.Info().Int("reads", len(batch)).Int("batch", sent+1).Msg("batch sent")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal")
			return
		case <-ticker.C:
		}
	}
}

func randomRSSI(rng *rand.Rand, base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	return base + rng.Intn(jitter*2+1) - jitter
}

type httpPublisher struct {
	url     string
	key     string
	gzip    bool
	client  *http.Client
	log     zerolog.Logger
	verbose bool
}

func (p *httpPublisher) publish(ctx context.Context, body []byte) error {
	if p.gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.key)
	if p.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusMultiStatus:
		p.log.Warn().RawJSON("response", respBody).Msg("some reads were not applied")
		return nil
	default:
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	if p.verbose {
		p.log.Debug().RawJSON("response", respBody).Msg("batch response")
	}
	return nil
}

func (p *httpPublisher) close() {}

type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, topic string) (*mqttPublisher, error) {
	clientID := fmt.Sprintf("portal-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) publish(_ context.Context, body []byte) error {
	token := p.client.Publish(p.topic, 1, false, body)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) close() {
	p.client.Disconnect(250)
}
