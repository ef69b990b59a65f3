package mqttbridge

import (
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultTopic = "ems/telemetry"

// Publisher republishes every broadcast payload to an MQTT topic. It
// registers with the stream broker like any other subscriber but lives
// for the process lifetime; delivery is best effort at QoS 0.
type Publisher struct {
	client mqtt.Client
	topic  string
	logger *log.Logger
}

// Option configures the publisher.
type Option func(*Publisher)

// WithTopic overrides the default topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// NewPublisher connects to the broker at brokerURL.
func NewPublisher(brokerURL, clientID string, logger *log.Logger, opts ...Option) (*Publisher, error) {
	if brokerURL == "" {
		return nil, errors.New("mqtt bridge: empty broker url")
	}
	if clientID == "" {
		clientID = "ems-cloud"
	}
	if logger == nil {
		logger = log.Default()
	}

	p := &Publisher{topic: defaultTopic, logger: logger}
	for _, opt := range opts {
		opt(p)
	}

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(brokerURL)
	mqttOpts.SetClientID(clientID)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetConnectRetry(true)
	mqttOpts.SetConnectRetryInterval(5 * time.Second)
	mqttOpts.SetKeepAlive(60 * time.Second)
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("mqtt bridge: connection lost: %v", err)
	})
	mqttOpts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Printf("mqtt bridge: connected to %s", brokerURL)
	})

	p.client = mqtt.NewClient(mqttOpts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt bridge: connect: %w", token.Error())
	}
	return p, nil
}

// Send implements stream.Subscriber. Publishing is fire-and-forget;
// the paho client queues and retries internally while reconnecting.
func (p *Publisher) Send(payload []byte) error {
	p.client.Publish(p.topic, 0, false, payload)
	return nil
}

// Disconnect shuts the client down.
func (p *Publisher) Disconnect() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
