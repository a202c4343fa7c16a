// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// Exit codes shared by the tool commands
const (
	exitOK        = 0
	exitFailed    = 1
	exitConnError = 2
)

// defaultConnectTimeout bounds how long one-shot commands wait for a link
const defaultConnectTimeout = 30 * time.Second

// explicitAddress returns the address given on the command line, if any
func explicitAddress() string {
	if portName != "" {
		return portName
	}
	return hostName
}

// authPassword caches the Basic auth password so it is asked for once
var authPassword string

// sessionConfig builds the session configuration from the flags. The
// password is requested when --username is set.
func sessionConfig(capture *tankproto.CaptureWriter) (tanklink.Config, error) {
	if wsUsername != "" && authPassword == "" {
		password, err := GetPassword()
		if err != nil {
			return tanklink.Config{}, err
		}
		authPassword = password
	}

	return tanklink.Config{
		Dialer: &tanklink.AutoDialer{
			WebSocket: &tanklink.WebSocketDialer{
				HandshakeTimeout: tanklink.DefaultDialTimeout,
				SkipVerify:       wsNoSSLVerify,
				Username:         wsUsername,
				Password:         authPassword,
			},
			Serial: &tanklink.SerialDialer{BaudRate: baudRate},
		},
		Addresses: &prefs.AddressFile{Path: prefsPath},
		Options:   tanklink.Options{Secure: wsSecure, Port: wsPort},
		Capture:   capture,
		Logger:    logger,

		StaleTimeout: staleTimeout,
	}, nil
}

// OpenSession starts a session on the flag address, or on the stored
// address with discovery as the fallback. The session is closed when ctx
// ends.
func OpenSession(ctx context.Context, capture *tankproto.CaptureWriter) (*tanklink.Session, error) {
	cfg, err := sessionConfig(capture)
	if err != nil {
		return nil, err
	}
	s := tanklink.NewSession(cfg)

	if addr := explicitAddress(); addr != "" {
		go func() {
			<-ctx.Done()
			s.Close()
		}()
		if err := s.Connect(addr); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ConnectSession opens a session and waits for the link to come up
func ConnectSession(ctx context.Context, capture *tankproto.CaptureWriter, timeout time.Duration) (*tanklink.Session, error) {
	s, err := OpenSession(ctx, capture)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.WaitConnected(wctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

// connectionInfo describes the current link for command headers
func connectionInfo(s *tanklink.Session) string {
	st := s.Snapshot().Status
	if strings.HasPrefix(st.Target, "ws") {
		return fmt.Sprintf("WebSocket: %s", st.Target)
	}
	if st.Target != "" {
		return fmt.Sprintf("Serial: %s @ %d baud", st.Target, baudRate)
	}
	return "not connected"
}

// GetPassword reads the Basic auth password from CISTERN_PASSWORD, or
// prompts for it without echo.
func GetPassword() (string, error) {
	return readSecret("CISTERN_PASSWORD", "Password: ")
}

// GetWiFiPassword reads the WiFi password from CISTERN_WIFI_PASSWORD, or
// prompts for it without echo.
func GetWiFiPassword() (string, error) {
	return readSecret("CISTERN_WIFI_PASSWORD", "WiFi password: ")
}

func readSecret(envVar, prompt string) (string, error) {
	// First check environment variable
	if pw := os.Getenv(envVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, prompt)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}
