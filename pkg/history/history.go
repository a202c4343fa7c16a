// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package history records device state changes to a SQLite event log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// Event kinds
const (
	KindChange     = "change"
	KindConnection = "connection"
	KindError      = "error"
)

// LevelTolerance is the smallest tank level change worth recording
const LevelTolerance = 1.0

const timestampLayout = "2006-01-02 15:04:05.000"

// Event is a single recorded state change.
type Event struct {
	Timestamp     time.Time
	Point         string
	PreviousValue string
	NewValue      string
	Units         string
	Kind          string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    point_name TEXT NOT NULL,
    previous_value TEXT,
    new_value TEXT,
    units TEXT,
    event_type TEXT NOT NULL
);`

// Recorder writes events to a SQLite database
type Recorder struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create table in %s: %w", path, err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the database
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Write stores events in one transaction
func (r *Recorder) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO events(timestamp, point_name, previous_value, new_value, units, event_type) VALUES(?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		ts := e.Timestamp.UTC().Format(timestampLayout)
		if _, err := stmt.ExecContext(ctx, ts, e.Point, e.PreviousValue, e.NewValue, e.Units, e.Kind); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// List returns the most recent events, newest first. An empty point
// matches every point.
func (r *Recorder) List(ctx context.Context, point string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT timestamp, point_name, previous_value, new_value, units, event_type FROM events"
	args := []any{}
	if point != "" {
		query += " WHERE point_name = ?"
		args = append(args, point)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		var prev, next, units sql.NullString
		if err := rows.Scan(&ts, &e.Point, &prev, &next, &units, &e.Kind); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, _ = time.ParseInLocation(timestampLayout, ts, time.UTC)
		e.PreviousValue, e.NewValue, e.Units = prev.String, next.String, units.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Diff returns the events that turn prev into next
func Diff(prev, next tankproto.State, ts time.Time) []Event {
	var events []Event
	add := func(point, before, after, units, kind string) {
		if before != after {
			events = append(events, Event{
				Timestamp:     ts,
				Point:         point,
				PreviousValue: before,
				NewValue:      after,
				Units:         units,
				Kind:          kind,
			})
		}
	}

	add("connected", onOff(prev.IsConnected), onOff(next.IsConnected), "", KindConnection)
	add("error", prev.Error, next.Error, "", KindError)

	ps, ns := prev.SystemStatus, next.SystemStatus
	add("mode", string(ps.Mode), string(ns.Mode), "", KindChange)
	add("motor1", string(ps.Motor1Status), string(ns.Motor1Status), "", KindChange)
	add("motor2", string(ps.Motor2Status), string(ns.Motor2Status), "", KindChange)
	add("topology", string(ps.MotorConfig), string(ns.MotorConfig), "", KindChange)

	levels := []struct {
		point        string
		before, after float64
	}{
		{"tankA.upper", prev.TankData.TankA.Upper, next.TankData.TankA.Upper},
		{"tankA.lower", prev.TankData.TankA.Lower, next.TankData.TankA.Lower},
		{"tankB.upper", prev.TankData.TankB.Upper, next.TankData.TankB.Upper},
		{"tankB.lower", prev.TankData.TankB.Lower, next.TankData.TankB.Lower},
	}
	for _, l := range levels {
		if math.Abs(l.after-l.before) >= LevelTolerance {
			add(l.point, formatLevel(l.before), formatLevel(l.after), "%", KindChange)
		}
	}

	if prev.SystemSettings != next.SystemSettings {
		add("settings", "", "updated", "", KindChange)
	}
	return events
}

// Tracker diffs a stream of states. Tank levels are compared against the
// last value that produced an event, so slow drift is recorded once it
// adds up to LevelTolerance.
type Tracker struct {
	base   tankproto.State
	primed bool
}

// Next returns the events between the tracked state and next. The first
// call only primes the tracker.
func (t *Tracker) Next(next tankproto.State, ts time.Time) []Event {
	if !t.primed {
		t.base, t.primed = next, true
		return nil
	}

	events := Diff(t.base, next, ts)
	held := t.base.TankData
	t.base = next
	t.base.TankData = tankproto.TankData{
		TankA: tankproto.TankLevel{
			Upper: keepLevel(held.TankA.Upper, next.TankData.TankA.Upper),
			Lower: keepLevel(held.TankA.Lower, next.TankData.TankA.Lower),
		},
		TankB: tankproto.TankLevel{
			Upper: keepLevel(held.TankB.Upper, next.TankData.TankB.Upper),
			Lower: keepLevel(held.TankB.Lower, next.TankData.TankB.Lower),
		},
	}
	return events
}

func keepLevel(recorded, next float64) float64 {
	if math.Abs(next-recorded) >= LevelTolerance {
		return next
	}
	return recorded
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func formatLevel(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// Run records the changes in successive snapshots until snaps is closed or
// ctx ends.
func Run(ctx context.Context, r *Recorder, snaps <-chan tanklink.Snapshot, log zerolog.Logger) {
	var tracker Tracker
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			events := tracker.Next(snap.State, time.Now())
			if err := r.Write(ctx, events); err != nil {
				log.Error().Err(err).Msg("failed to record history")
			}
		}
	}
}
