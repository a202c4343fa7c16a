// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
}

// NewRealPublisher creates a publisher connected to the given broker. The
// status topic carries a retained "online" message and an "offline" will.
func NewRealPublisher(broker, prefix string) (*RealPublisher, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	clientID := "cistern-" + uuid.NewString()[:8]

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(statusTopic(prefix), "offline", 1, true)

	client := paho.NewClient(opts)
	if err := connect(client, connectTimeout); err != nil {
		return nil, err
	}

	p := &RealPublisher{client: client, prefix: prefix}
	if err := p.publish(statusTopic(prefix), 1, true, []byte("online")); err != nil {
		client.Disconnect(1000)
		return nil, err
	}
	return p, nil
}

// connectTimeout bounds the first broker connect
const connectTimeout = 10 * time.Second

// connect waits for the first connect. On timeout the client is
// disconnected so its background retries stop.
func connect(client paho.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// PublishState sends the state to the broker, retained.
func (p *RealPublisher) PublishState(state tankproto.State, ts time.Time) error {
	payload, err := FormatState(state, ts)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(stateTopic(p.prefix), 0, true, payload)
}

// PublishEvent sends a state change to the broker.
func (p *RealPublisher) PublishEvent(event history.Event) error {
	payload, err := FormatEvent(event)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(eventsTopic(p.prefix), 1, false, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close publishes "offline" and disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.publish(statusTopic(p.prefix), 1, true, []byte("offline"))
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
