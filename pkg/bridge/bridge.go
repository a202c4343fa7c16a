// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge republishes the device state to an MQTT broker.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// DefaultTopicPrefix is the root of every published topic
const DefaultTopicPrefix = "cistern/tank"

// Topics under a prefix
func stateTopic(prefix string) string  { return prefix + "/state" }
func eventsTopic(prefix string) string { return prefix + "/events" }
func statusTopic(prefix string) string { return prefix + "/status" }

// Publisher publishes tank state to MQTT.
type Publisher interface {
	// PublishState sends the full state, retained.
	PublishState(state tankproto.State, ts time.Time) error

	// PublishEvent sends one state change.
	PublishEvent(event history.Event) error

	// Close disconnects from the broker.
	Close() error
}

// StatePayload is the retained state message.
type StatePayload struct {
	Tank TankPayload `json:"tank"`
}

// TankPayload contains the state details.
type TankPayload struct {
	Timestamp string       `json:"timestamp"`
	Connected bool         `json:"connected"`
	Mode      string       `json:"mode"`
	Topology  string       `json:"topology"`
	Motor     string       `json:"motor"`
	Motor1    MotorPayload `json:"motor1"`
	Motor2    MotorPayload `json:"motor2"`
	TankA     LevelPayload `json:"tank_a"`
	TankB     LevelPayload `json:"tank_b"`
	Runtime   float64      `json:"runtime"`
	Error     string       `json:"error,omitempty"`
}

// MotorPayload represents a single motor.
type MotorPayload struct {
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// LevelPayload holds the fill percentages of a tank pair.
type LevelPayload struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// EventPayload is the message for one state change.
type EventPayload struct {
	Event EventPayloadInner `json:"event"`
}

// EventPayloadInner contains the change details.
type EventPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Point     string `json:"point"`
	Previous  string `json:"previous"`
	Value     string `json:"value"`
	Units     string `json:"units,omitempty"`
	Kind      string `json:"kind"`
}

// FormatState creates the JSON payload for a state.
func FormatState(s tankproto.State, ts time.Time) ([]byte, error) {
	st := s.SystemStatus
	payload := StatePayload{
		Tank: TankPayload{
			Timestamp: ts.UTC().Format(time.RFC3339),
			Connected: s.IsConnected,
			Mode:      string(st.Mode),
			Topology:  string(st.MotorConfig),
			Motor:     string(st.MotorStatus),
			Motor1:    MotorPayload{State: string(st.Motor1Status), Enabled: st.Motor1Enabled, Reason: st.AutoModeReasonMotor1},
			Motor2:    MotorPayload{State: string(st.Motor2Status), Enabled: st.Motor2Enabled, Reason: st.AutoModeReasonMotor2},
			TankA:     LevelPayload{Upper: s.TankData.TankA.Upper, Lower: s.TankData.TankA.Lower},
			TankB:     LevelPayload{Upper: s.TankData.TankB.Upper, Lower: s.TankData.TankB.Lower},
			Runtime:   st.Runtime,
			Error:     s.Error,
		},
	}
	return json.Marshal(payload)
}

// FormatEvent creates the JSON payload for a state change.
func FormatEvent(e history.Event) ([]byte, error) {
	payload := EventPayload{
		Event: EventPayloadInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Point:     e.Point,
			Previous:  e.PreviousValue,
			Value:     e.NewValue,
			Units:     e.Units,
			Kind:      e.Kind,
		},
	}
	return json.Marshal(payload)
}

// Run publishes every state change from snaps until it is closed or ctx
// ends. Publish failures are logged and never stop the bridge.
func Run(ctx context.Context, pub Publisher, snaps <-chan tanklink.Snapshot, log zerolog.Logger) {
	var prev *tankproto.State
	var tracker history.Tracker
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if prev != nil && *prev == snap.State {
				continue
			}

			now := time.Now()
			for _, e := range tracker.Next(snap.State, now) {
				if err := pub.PublishEvent(e); err != nil {
					log.Warn().Err(err).Str("point", e.Point).Msg("mqtt event publish failed")
				}
			}
			if err := pub.PublishState(snap.State, now); err != nil {
				log.Warn().Err(err).Msg("mqtt state publish failed")
			}

			state := snap.State
			prev = &state
		}
	}
}
