package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// TopicPrefix is the root of all run event topics.
const TopicPrefix = "indiasim/runs"

var mqttTimeout = 10 * time.Second

// Topic returns the topic events of runID are published on.
func Topic(runID string) string {
	return TopicPrefix + "/" + runID + "/events"
}

// Payload encodes e as the JSON message body.
func Payload(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return b, nil
}

// MQTTSink publishes events to a broker with QoS 1. Emit does not wait for
// the broker; delivery failures are logged when their token completes.
type MQTTSink struct {
	client  paho.Client
	mu      sync.Mutex
	pending sync.WaitGroup
}

// NewMQTTSink connects to brokerURL (e.g. tcp://localhost:1883).
func NewMQTTSink(brokerURL, clientID string) (*MQTTSink, error) {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetKeepAlive(30 * time.Second)
	client := paho.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", brokerURL, err)
	}
	return newMQTTSink(client), nil
}

func newMQTTSink(client paho.Client) *MQTTSink {
	return &MQTTSink{client: client}
}

// Emit implements Sink.
func (s *MQTTSink) Emit(e Event) error {
	payload, err := Payload(e)
	if err != nil {
		return err
	}
	topic := Topic(e.RunID)
	s.mu.Lock()
	token := s.client.Publish(topic, 1, false, payload)
	s.mu.Unlock()

	timeout := mqttTimeout
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if !token.WaitTimeout(timeout) {
			logrus.Warnf("MQTT publish to %s not acknowledged within %s", topic, timeout)
			return
		}
		if err := token.Error(); err != nil {
			logrus.Warnf("MQTT publish to %s: %v", topic, err)
		}
	}()
	return nil
}

// Close waits up to one publish timeout for outstanding acknowledgements,
// then disconnects.
func (s *MQTTSink) Close() error {
	drained := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(mqttTimeout):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.Disconnect(1000)
	return nil
}
