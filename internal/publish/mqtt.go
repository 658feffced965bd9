// Package publish forwards recognition events to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/recognition"
)

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "fingerspell"

const (
	publishTimeout = 2 * time.Second
	disconnectWait = 250 // milliseconds
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// Publisher is the part of mqtt.Client a Sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options configure Dial.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
}

// Sink publishes events as JSON under <topic>/<event type>.
type Sink struct {
	client  Publisher
	topic   string
	timeout time.Duration
	close   func()
}

// Dial connects to the broker and returns a Sink. The client reconnects on
// its own after the first successful connect.
func Dial(opts Options) (*Sink, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("fingerspell-%d", time.Now().Unix())
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.OnConnect = func(mqtt.Client) {
		lgr.Logger.Info("mqtt connected", slog.String("broker", opts.Broker))
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		lgr.Logger.Warn("mqtt connection lost", slog.Any("error", xerrors.New(err.Error())))
	}

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, token.Error())
	}

	s := NewSink(client, opts.Topic)
	s.close = func() { client.Disconnect(disconnectWait) }
	return s, nil
}

// NewSink wraps an already connected publisher.
func NewSink(client Publisher, topic string) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{
		client:  client,
		topic:   topic,
		timeout: publishTimeout,
	}
}

// Topic returns the topic an event is published on.
func (s *Sink) Topic(ev recognition.Event) string {
	return s.topic + "/" + string(ev.Type)
}

// Publish sends one event. Predictions use QoS 1; metrics are sent at most
// once since a newer sample follows shortly.
func (s *Sink) Publish(ev recognition.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var qos byte
	if ev.Type == recognition.EventPrediction {
		qos = 1
	}

	token := s.client.Publish(s.Topic(ev), qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Run publishes events until ctx is done or events is closed. Failures are
// logged and do not stop the loop.
func (s *Sink) Run(ctx context.Context, events <-chan recognition.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.Publish(ev); err != nil {
				lgr.Logger.Warn("mqtt publish failed",
					slog.String("topic", s.Topic(ev)),
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
		}
	}
}

// Close disconnects a Sink created by Dial.
func (s *Sink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
