// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ErrInvalidAddress is returned for addresses that cannot be dialed
var ErrInvalidAddress = errors.New("invalid device address")

// Options select how addresses are dialed
type Options struct {
	// Secure selects wss:// instead of ws://. Private network addresses
	// are refused in a secure context.
	Secure bool

	// Port is the control port used when the address carries none
	Port int
}

// DefaultOptions returns insecure dialing on the controller port
func DefaultOptions() Options {
	return Options{Port: tankproto.DefaultPort}
}

// Target is a resolved device address
type Target struct {
	Address string // as given by the caller
	Host    string
	Port    int
	URL     string // ws:// or wss:// URL, empty for serial devices
	Device  string // serial device path, empty for network targets
	Secure  bool
}

func (t Target) String() string {
	if t.Device != "" {
		return t.Device
	}
	return t.URL
}

// ResolveTarget turns a user supplied address into a dial target.
//
// Accepted forms: "host", "host:port", "ws://host[:port][/path]" and
// serial device paths ("/dev/ttyUSB0", "COM3").
func ResolveTarget(address string, opts Options) (Target, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Target{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	if isDevicePath(address) {
		return Target{Address: address, Device: address}, nil
	}

	rest := address
	for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
		if strings.HasPrefix(strings.ToLower(rest), scheme) {
			rest = rest[len(scheme):]
			break
		}
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}

	port := opts.Port
	if port == 0 {
		port = tankproto.DefaultPort
	}
	host := rest
	if h, p, err := net.SplitHostPort(rest); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Target{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, p)
		}
		host, port = h, n
	}
	host = strings.Trim(host, "[]")
	if host == "" || strings.ContainsAny(host, " \t") {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	scheme := "ws"
	if opts.Secure {
		scheme = "wss"
	}
	return Target{
		Address: address,
		Host:    host,
		Port:    port,
		URL:     fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, strconv.Itoa(port))),
		Secure:  opts.Secure,
	}, nil
}

func isDevicePath(s string) bool {
	if strings.HasPrefix(s, "/") {
		return true
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "COM") {
		_, err := strconv.Atoi(upper[3:])
		return err == nil
	}
	return false
}

// IsPrivateHost reports whether host lives on a local network: RFC 1918
// and ULA ranges, loopback, link-local and mDNS names.
func IsPrivateHost(host string) bool {
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// AddressStore persists the last known good device address
type AddressStore interface {
	LoadAddress() (string, error)
	SaveAddress(address string) error
}

// MemoryAddressStore is an in-process AddressStore
type MemoryAddressStore struct {
	mu      sync.Mutex
	address string
}

// LoadAddress returns the stored address
func (m *MemoryAddressStore) LoadAddress() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address, nil
}

// SaveAddress stores address
func (m *MemoryAddressStore) SaveAddress(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address = address
	return nil
}
