// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// DefaultBaudRate of the controller's debug console
const DefaultBaudRate = 115200

// SerialDialer opens the controller's USB console, which carries the same
// frames one per line
type SerialDialer struct {
	BaudRate int
}

// Dial opens target.Device
func (d *SerialDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	if target.Device == "" {
		return nil, fmt.Errorf("%w: %s is not a serial device", ErrInvalidAddress, target.Address)
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(target.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", target.Device, err)
	}
	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}
	return newLineTransport(port), nil
}

// DetectSerialPorts lists serial ports present on the system
func DetectSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// lineTransport frames a byte stream by newlines
type lineTransport struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	wmu    sync.Mutex

	mu     sync.Mutex
	closed bool
}

func newLineTransport(rw io.ReadWriteCloser) *lineTransport {
	return &lineTransport{rw: rw, reader: bufio.NewReaderSize(rw, 4096)}
}

func (l *lineTransport) ReadFrame() ([]byte, error) {
	for {
		line, err := l.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if err != nil {
			if l.isClosed() || errors.Is(err, io.EOF) {
				return nil, &CloseError{Code: tankproto.CloseNormal}
			}
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (l *lineTransport) WriteFrame(frame []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(append(buf, frame...), '\n')
	_, err := l.rw.Write(buf)
	return err
}

func (l *lineTransport) Close(code int) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.rw.Close()
}

func (l *lineTransport) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// AutoDialer routes serial device targets to Serial and everything else
// to WebSocket
type AutoDialer struct {
	WebSocket *WebSocketDialer
	Serial    *SerialDialer
}

// Dial picks the transport for target
func (a *AutoDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	if target.Device != "" {
		s := a.Serial
		if s == nil {
			s = &SerialDialer{}
		}
		return s.Dial(ctx, target)
	}
	ws := a.WebSocket
	if ws == nil {
		ws = &WebSocketDialer{}
	}
	return ws.Dial(ctx, target)
}
