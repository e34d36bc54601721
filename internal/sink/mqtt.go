package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/connwatchhq/agent/internal/config"
	"github.com/connwatchhq/agent/internal/record"
)

const mqttOpTimeout = 5 * time.Second

// Publisher is the narrow slice of the MQTT client the sink needs; tests
// substitute a fake.
type Publisher interface {
	IsConnectionOpen() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each record to two topics under a configurable prefix:
// <prefix>/measurements carries the record verbatim, <prefix>/status a
// derived up/down summary. QoS 0, no retain, connect on demand; a broker
// outage surfaces as an error the fan-out logs and discards.
type MQTT struct {
	client      Publisher
	topicPrefix string
	opTimeout   time.Duration
}

// statusPayload mirrors the summary shape published by the original status
// feed: consumers key off internet_up without parsing the full record.
type statusPayload struct {
	Timestamp  string        `json:"timestamp"`
	Target     string        `json:"target"`
	LossPct    float64       `json:"loss_pct"`
	RTTAvgMs   record.Millis `json:"rtt_avg_ms"`
	InternetUp bool          `json:"internet_up"`
}

// NewMQTT builds the sink from broker settings.
func NewMQTT(cfg config.MQTTConfig) *MQTT {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)).
		SetClientID(fmt.Sprintf("connwatch-agent-%d", os.Getpid())).
		SetConnectTimeout(mqttOpTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return &MQTT{
		client:      mqtt.NewClient(opts),
		topicPrefix: cfg.TopicPrefix,
		opTimeout:   mqttOpTimeout,
	}
}

// NewMQTTWithClient wires an existing client; used by tests.
func NewMQTTWithClient(client Publisher, topicPrefix string) *MQTT {
	return &MQTT{client: client, topicPrefix: topicPrefix, opTimeout: mqttOpTimeout}
}

func (s *MQTT) Name() string { return "mqtt" }

func (s *MQTT) Deliver(ctx context.Context, m record.Measurement, payload []byte) error {
	if !s.client.IsConnectionOpen() {
		token := s.client.Connect()
		if !token.WaitTimeout(s.opTimeout) {
			return fmt.Errorf("mqtt connect timed out")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	}

	if err := s.publish(s.topicPrefix+"/measurements", payload); err != nil {
		return err
	}

	status := statusPayload{
		Timestamp:  m.Timestamp,
		Target:     m.Target,
		LossPct:    m.LossPct,
		RTTAvgMs:   m.RTTAvgMs,
		InternetUp: m.LossPct < 100,
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status summary: %w", err)
	}
	return s.publish(s.topicPrefix+"/status", data)
}

func (s *MQTT) publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(s.opTimeout) {
		return fmt.Errorf("mqtt publish to %q timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %q: %w", topic, err)
	}
	return nil
}
