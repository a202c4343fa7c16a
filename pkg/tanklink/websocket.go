// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketDialer dials the controller's text websocket
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	SkipVerify       bool

	// Optional HTTP Basic auth
	Username string
	Password string
}

// Dial opens a websocket to target. Serial device targets are rejected.
func (d *WebSocketDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	if target.URL == "" {
		return nil, fmt.Errorf("%w: %s is not a network address", ErrInvalidAddress, target.Address)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if target.Secure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.SkipVerify}
	}

	headers := http.Header{}
	if d.Username != "" && d.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, target.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return newWSTransport(conn), nil
}

type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (w *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Text: ce.Text}
			}
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (w *wsTransport) WriteFrame(frame []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsTransport) Close(code int) error {
	var err error
	w.once.Do(func() {
		w.wmu.Lock()
		msg := websocket.FormatCloseMessage(code, "")
		w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.wmu.Unlock()
		err = w.conn.Close()
	})
	return err
}
