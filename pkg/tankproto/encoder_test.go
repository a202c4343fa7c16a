// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// ============================================================
// Command Encoding Tests
// ============================================================

func TestEncodeIntent_Tokens(t *testing.T) {
	tokens := []string{
		CmdMotor1On, CmdMotor1Off, CmdMotor2On, CmdMotor2Off, CmdSystemReset,
		CmdGetHomeData, CmdGetSettingData, CmdGetSensorData, CmdGetAllData, CmdGetWiFiConfig,
	}

	for _, token := range tokens {
		t.Run(token, func(t *testing.T) {
			enc, err := EncodeIntent(Command(token))
			if err != nil {
				t.Fatalf("EncodeIntent() error = %v", err)
			}
			if len(enc.Frames) != 1 || string(enc.Frames[0]) != token {
				t.Errorf("EncodeIntent(%s) = %q, want single bare token", token, enc.Frames)
			}
			if enc.Fallback {
				t.Error("known token should not use the fallback")
			}
		})
	}
}

func TestEncodeIntent_Fallback(t *testing.T) {
	for _, typ := range []string{"refreshEverything", "", "pong"} {
		enc, err := EncodeIntent(Intent{Type: typ})
		if err != nil {
			t.Fatalf("EncodeIntent(%q) error = %v", typ, err)
		}
		if !enc.Fallback {
			t.Errorf("EncodeIntent(%q) should report fallback", typ)
		}
		if len(enc.Frames) != 2 ||
			string(enc.Frames[0]) != CmdGetHomeData ||
			string(enc.Frames[1]) != CmdGetSettingData {
			t.Errorf("EncodeIntent(%q) = %q, want getHomeData + getSettingData", typ, enc.Frames)
		}
	}
}

func TestMotorCommand(t *testing.T) {
	tests := []struct {
		motor   int
		on      bool
		want    string
		wantErr bool
	}{
		{1, true, CmdMotor1On, false},
		{1, false, CmdMotor1Off, false},
		{2, true, CmdMotor2On, false},
		{2, false, CmdMotor2Off, false},
		{3, true, "", true},
		{0, false, "", true},
	}

	for _, tt := range tests {
		in, err := MotorCommand(tt.motor, tt.on)
		if (err != nil) != tt.wantErr {
			t.Errorf("MotorCommand(%d, %v) error = %v, wantErr %v", tt.motor, tt.on, err, tt.wantErr)
			continue
		}
		if in.Type != tt.want {
			t.Errorf("MotorCommand(%d, %v) = %q, want %q", tt.motor, tt.on, in.Type, tt.want)
		}
	}
}

func TestEncodeIntent_UpdateSettings(t *testing.T) {
	enc, err := EncodeIntent(UpdateSettings(DefaultSettings()))
	if err != nil {
		t.Fatalf("EncodeIntent() error = %v", err)
	}
	if len(enc.Frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(enc.Frames))
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(enc.Frames[0], &obj); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if obj["type"] != CmdUpdateSettings {
		t.Errorf("type = %v, want %s", obj["type"], CmdUpdateSettings)
	}
	for _, key := range SettingsKeys() {
		if _, ok := obj[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if _, ok := obj[KeyMAC]; ok {
		t.Error("MAC should not be written")
	}
	if obj[KeyMode] != "Manual Mode" {
		t.Errorf("SM = %v, want Manual Mode", obj[KeyMode])
	}
	if obj[KeyAlternateInterval] != float64(3600000) {
		t.Errorf("MAI = %v, want 3600000", obj[KeyAlternateInterval])
	}
	if len(SettingsKeys()) < 40 {
		t.Errorf("expected at least 40 settings keys, got %d", len(SettingsKeys()))
	}
}

func TestEncodeIntent_MissingPayload(t *testing.T) {
	if _, err := EncodeIntent(Intent{Type: CmdUpdateSettings}); err == nil {
		t.Error("updateSettings without settings should fail")
	}
	if _, err := EncodeIntent(Intent{Type: CmdUpdateWiFiConfig}); err == nil {
		t.Error("updateWiFiConfig without config should fail")
	}
}

func TestEncodeWiFiConfig(t *testing.T) {
	frame, err := EncodeWiFiConfig(WiFiConfig{
		Mode:     WiFiStatic,
		SSID:     "tank",
		Password: "secret",
		StaticIP: [4]byte{192, 168, 1, 8},
		Gateway:  [4]byte{192, 168, 1, 1},
		Subnet:   [4]byte{255, 255, 255, 0},
		DNS:      [4]byte{8, 8, 8, 8},
	})
	if err != nil {
		t.Fatalf("EncodeWiFiConfig() error = %v", err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(frame, &obj); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}

	want := map[string]interface{}{
		"type": CmdUpdateWiFiConfig,
		"MODE": "static",
		"SSID": "tank",
		"PASS": "secret",
		"SIP0": 192.0, "SIP3": 8.0,
		"SG3":  1.0,
		"SS0":  255.0, "SS3": 0.0,
		"SPD0": 8.0,
	}
	for k, v := range want {
		if obj[k] != v {
			t.Errorf("%s = %v, want %v", k, obj[k], v)
		}
	}
	if len(obj) != 4+16 {
		t.Errorf("expected 20 keys, got %d", len(obj))
	}
}

// ============================================================
// Capture Tests
// ============================================================

func TestCapture_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewCaptureWriter(&buf)

	base := time.Date(2025, 6, 1, 8, 30, 0, 123456789, time.UTC)
	records := []Record{
		{Time: base, Direction: Outbound, Frame: []byte(CmdGetAllData)},
		{Time: base.Add(time.Millisecond), Direction: Inbound, Frame: []byte(`{"type":"homeData","UTWLA":40}`)},
		{Time: base.Add(2 * time.Millisecond), Direction: Inbound, Frame: []byte(`{"MSV":"ON"}`)},
	}
	for _, r := range records {
		if err := w.Write(r.Direction, r.Time, r.Frame); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	r := NewCaptureReader(bytes.NewReader(buf.Bytes()))
	for i, want := range records {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if !got.Time.Equal(want.Time) || got.Direction != want.Direction || !bytes.Equal(got.Frame, want.Frame) {
			t.Errorf("record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	w := NewCaptureWriter(&buf)
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	w.Write(Outbound, now, []byte(CmdGetAllData))
	w.Write(Inbound, now, []byte(`{"type":"homeData","UTWLA":40,"M2S":"ON"}`))
	w.Write(Inbound, now, []byte(`{bad`))

	steps := 0
	final, err := Replay(NewCaptureReader(&buf), DefaultState(), func(rec Record, msg Message, next State) {
		steps++
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if steps != 3 {
		t.Errorf("steps = %d, want 3", steps)
	}
	if final.TankData.TankA.Upper != 40 {
		t.Errorf("TankA.Upper = %v, want 40", final.TankData.TankA.Upper)
	}
	if final.SystemStatus.MotorStatus != MotorOn {
		t.Errorf("MotorStatus = %s, want ON", final.SystemStatus.MotorStatus)
	}
	if final.Error != ErrTextParseFailed {
		t.Errorf("Error = %q, want %q", final.Error, ErrTextParseFailed)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateSettings_Defaults(t *testing.T) {
	if errs := ValidateSettings(DefaultSettings()); len(errs) != 0 {
		t.Errorf("default settings should be valid, got %v", errs)
	}
	if errs := ValidateSettings(customSettings()); len(errs) != 0 {
		t.Errorf("custom settings should be valid, got %v", errs)
	}
}

func TestValidateSettings_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SystemSettings)
		want   ProblemType
	}{
		{"threshold above 100", func(s *SystemSettings) { s.TankAAutomation.MaxAutoValue = 120 }, ProblemOutOfRange},
		{"negative threshold", func(s *SystemSettings) { s.AutoMode.MinWaterLevel = -1 }, ProblemOutOfRange},
		{"min above max", func(s *SystemSettings) { s.TankBAutomation.MinAutoValue = 90 }, ProblemOrdering},
		{"full above height", func(s *SystemSettings) { s.TankDimensions.LowerTankA.WaterFullHeight = 150 }, ProblemOutOfRange},
		{"sensor limits", func(s *SystemSettings) { s.SensorLimits.MaxReading = 10 }, ProblemOrdering},
		{"bad mode", func(s *SystemSettings) { s.Mode = "eco" }, ProblemInvalidValue},
		{"bad interval", func(s *SystemSettings) { s.MotorSettings.AlternateInterval = 0 }, ProblemInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			errs := ValidateSettings(s)
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range errs {
				if e.Type == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("no error of type %d in %v", tt.want, errs)
			}
		})
	}
}

func TestClampPercent(t *testing.T) {
	tests := []struct{ in, want float64 }{{-5, 0}, {0, 0}, {55.5, 55.5}, {100, 100}, {140, 100}}
	for _, tt := range tests {
		if got := ClampPercent(tt.in); got != tt.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
