// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package prefs handles cistern user preferences persistence.
// Preferences are stored in ~/.config/cistern/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences for cistern.
type Prefs struct {
	// Address is the last device address that connected
	Address string `toml:"address"`

	// RefreshSeconds is the periodic home data refresh, 0 disables it
	RefreshSeconds int `toml:"refresh_interval"`
}

const (
	defaultPrefsPath      = "~/.config/cistern/prefs.toml"
	defaultHistoryPath    = "~/.config/cistern/history.db"
	defaultRefreshSeconds = 5
)

// ValidIntervals are the refresh intervals offered to the user
var ValidIntervals = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// DefaultHistoryPath returns the default event history database path.
func DefaultHistoryPath() string {
	return defaultHistoryPath
}

// Defaults returns the preferences used when nothing is stored
func Defaults() Prefs {
	return Prefs{RefreshSeconds: defaultRefreshSeconds}
}

// RefreshInterval returns the refresh interval, falling back to the
// default when the stored value is not one of ValidIntervals.
func (p Prefs) RefreshInterval() time.Duration {
	d := time.Duration(p.RefreshSeconds) * time.Second
	if ValidInterval(d) {
		return d
	}
	return defaultRefreshSeconds * time.Second
}

// ValidInterval reports whether d is an offered refresh interval
func ValidInterval(d time.Duration) bool {
	for _, v := range ValidIntervals {
		if v == d {
			return true
		}
	}
	return false
}

// Load reads preferences from the given path, falling back to defaults if missing.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Defaults(), nil
	}

	prefs := Defaults()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return Defaults(), nil // Graceful degradation
	}

	prefs.Address = strings.TrimSpace(prefs.Address)
	if !ValidInterval(time.Duration(prefs.RefreshSeconds) * time.Second) {
		prefs.RefreshSeconds = defaultRefreshSeconds
	}

	return prefs, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

// AddressFile stores the last known good device address in the prefs
// file. It satisfies tanklink.AddressStore.
type AddressFile struct {
	Path string
	mu   sync.Mutex
}

// LoadAddress returns the stored address
func (a *AddressFile) LoadAddress() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := Load(a.Path)
	return p.Address, err
}

// SaveAddress updates the stored address, keeping other preferences
func (a *AddressFile) SaveAddress(address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := Load(a.Path)
	if err != nil {
		return err
	}
	if p.Address == address {
		return nil
	}
	p.Address = address
	return Save(a.Path, p)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return ExpandPath(defaultPrefsPath)
	}
	return ExpandPath(path)
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
