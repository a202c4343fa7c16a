// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured frame
type Direction uint8

const (
	Inbound Direction = iota + 1
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "RX"
	case Outbound:
		return "TX"
	}
	return "??"
}

// Record is one captured frame
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	Frame     []byte    `cbor:"3,keyasint"`
}

var captureEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano, TimeTag: cbor.EncTagRequired}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// CaptureWriter appends frames to a CBOR record sequence
type CaptureWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCaptureWriter creates a capture writer on w
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: captureEncMode.NewEncoder(w)}
}

// Write appends one frame. It is safe for concurrent use.
func (c *CaptureWriter) Write(dir Direction, ts time.Time, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := Record{Time: ts, Direction: dir, Frame: append([]byte(nil), frame...)}
	if err := c.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	return nil
}

// CaptureReader reads a CBOR record sequence
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a capture reader on r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (c *CaptureReader) Next() (Record, error) {
	var rec Record
	if err := c.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// Replay folds every inbound frame of a capture through Reconcile,
// starting from initial. fn is called after each step.
func Replay(r *CaptureReader, initial State, fn func(rec Record, msg Message, next State)) (State, error) {
	state := initial
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return state, nil
		}
		if err != nil {
			return state, err
		}
		if rec.Direction != Inbound {
			if fn != nil {
				fn(rec, nil, state)
			}
			continue
		}

		msg, decodeErr := Decode(rec.Frame)
		if decodeErr != nil {
			msg = DecodeFailed{Err: decodeErr}
		}
		state, _ = Reconcile(state, msg, rec.Time)
		if fn != nil {
			fn(rec, msg, state)
		}
	}
}
