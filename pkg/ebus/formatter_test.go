// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"strings"
	"testing"
	"time"
)

func receive(data ...byte) Telegram {
	var got Telegram
	e := NewEngine(DefaultConfig)
	e.SetTelegramFunc(func(t Telegram) { got = t })
	for _, b := range data {
		e.ProcessReceivedByte(b)
	}
	return got
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatTelegram(t *testing.T) {
	tg := receive(SYN, 0x10, 0x35, 0x07, 0x04, 0x00, 0xA2, ACK, 0x01, 0x55, 0xCE, ACK)
	ts := time.Date(2025, 1, 1, 12, 30, 45, 123000000, time.UTC)

	out := FormatTelegram(tg, ts)
	for _, want := range []string{
		"[12:30:45.123]",
		"PRIMARY_SECONDARY",
		"OK",
		"10 -> 35",
		"0704 (IDENTIFICATION)",
		"response nn=1 data=[55]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "CRC!") {
		t.Errorf("valid telegram should not be flagged, got:\n%s", out)
	}
}

func TestFormatTelegram_BadCRC(t *testing.T) {
	tg := receive(SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x12, ACK)
	if out := FormatTelegram(tg, time.Now()); !strings.Contains(out, "CRC!") {
		t.Errorf("bad CRC should be flagged, got:\n%s", out)
	}
}

func TestFormatTelegram_ClampedNN(t *testing.T) {
	tg := receive(SYN, 0x10, 0xFE, 0x07, 0x00, 0x20, CRC8Slice([]byte{0x10, 0xFE, 0x07, 0x00, 0x20}))
	if out := FormatTelegram(tg, time.Now()); !strings.Contains(out, "nn=0 (declared 20)") {
		t.Errorf("clamped NN should show the declared value, got:\n%s", out)
	}
}

func TestFormatCommand(t *testing.T) {
	tests := []struct {
		command  uint16
		expected string
	}{
		{CmdIdentification, "0704 (IDENTIFICATION)"},
		{CmdDateTime, "0700 (DATE_TIME)"},
		{0x1234, "1234"},
	}

	for _, tt := range tests {
		if got := FormatCommand(tt.command); got != tt.expected {
			t.Errorf("FormatCommand(%04X): expected %q, got %q", tt.command, tt.expected, got)
		}
	}
}

func TestFormatState(t *testing.T) {
	if got := FormatState(StateEndErrorRequestNoAck); got != "REQUEST_NO_ACK" {
		t.Errorf("expected REQUEST_NO_ACK, got %s", got)
	}
	if got := FormatState(StateWaitForSyn); got != "WAITFORSYN" {
		t.Errorf("expected WAITFORSYN, got %s", got)
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0x01, 0xAB, 0x00}); got != "01 AB 00" {
		t.Errorf("expected \"01 AB 00\", got %q", got)
	}
	if got := FormatHex(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func anomalyTypes(errs []ValidationError) []AnomalyType {
	types := make([]AnomalyType, len(errs))
	for i, e := range errs {
		types[i] = e.Type
	}
	return types
}

func TestValidateTelegram(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected []AnomalyType
	}{
		{
			name:     "clean",
			data:     []byte{SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x47, ACK},
			expected: []AnomalyType{},
		},
		{
			name:     "request CRC",
			data:     []byte{SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x12, ACK},
			expected: []AnomalyType{AnomalyRequestCRC},
		},
		{
			name:     "response CRC",
			data:     []byte{SYN, 0x10, 0x35, 0x07, 0x04, 0x00, 0xA2, ACK, 0x01, 0x55, 0x00, ACK},
			expected: []AnomalyType{AnomalyResponseCRC},
		},
		{
			name:     "clamped NN",
			data:     []byte{SYN, 0x10, 0xFE, 0x07, 0x00, 0x20, CRC8Slice([]byte{0x10, 0xFE, 0x07, 0x00, 0x20})},
			expected: []AnomalyType{AnomalyLengthClamped},
		},
		{
			name:     "clamped response NN",
			data:     []byte{SYN, 0x10, 0x35, 0x07, 0x04, 0x00, 0xA2, ACK, 0x10, 0x10, ACK},
			expected: []AnomalyType{AnomalyResponseLengthClamped},
		},
		{
			name:     "source not primary",
			data:     []byte{SYN, 0x15, 0x30, 0x03, 0x04, 0x00, CRC8Slice([]byte{0x15, 0x30, 0x03, 0x04, 0x00}), ACK},
			expected: []AnomalyType{AnomalySourceNotPrimary},
		},
		{
			name:     "arbitration",
			data:     []byte{SYN, 0x10, SYN},
			expected: []AnomalyType{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateTelegram(receive(tt.data...))
			got := anomalyTypes(errs)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v (%v)", tt.expected, got, errs)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("anomaly %d: expected %v, got %v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	errs := ValidateTelegram(receive(SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x12, ACK))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if !strings.Contains(errs[0].Error(), "Request CRC mismatch") {
		t.Errorf("unexpected message %q", errs[0].Error())
	}
	if errs[0].Details["received"] != byte(0x12) {
		t.Errorf("expected received CRC in details, got %v", errs[0].Details)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	for _, data := range [][]byte{
		{SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x47, ACK},
		{SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x12, NACK},
		{SYN, 0x10, 0x30, 0x07, SYN},
		{SYN, 0x10, SYN},
	} {
		tg := receive(data...)
		s.Update(tg, ValidateTelegram(tg))
	}

	if s.TotalTelegrams != 3 {
		t.Errorf("expected 3 telegrams, got %d", s.TotalTelegrams)
	}
	if s.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", s.Completed)
	}
	if s.Arbitrations != 1 {
		t.Errorf("expected 1 arbitration, got %d", s.Arbitrations)
	}
	if s.RequestNack != 1 || s.UnexpectedSyn != 1 {
		t.Errorf("expected 1 NACK and 1 unexpected SYN, got %d and %d", s.RequestNack, s.UnexpectedSyn)
	}
	if s.RequestCRCErrors != 1 {
		t.Errorf("expected 1 request CRC error, got %d", s.RequestCRCErrors)
	}
	if s.Errors() != 2 {
		t.Errorf("expected 2 errors, got %d", s.Errors())
	}

	out := s.String()
	for _, want := range []string{"Total Telegrams:", "Request NACK:", "Request CRC:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary should contain %q, got:\n%s", want, out)
		}
	}
}

func TestStatistics_UpdateCommand(t *testing.T) {
	s := NewStatistics()
	done := MustCommand(0x10, 0x30, 0x0704, nil)
	done.setState(StateEndCompleted)
	failed := MustCommand(0x10, 0x30, 0x0704, nil)
	failed.setState(StateEndSendFailed)

	s.UpdateCommand(done)
	s.UpdateCommand(failed)
	if s.CommandsSent != 1 || s.CommandsFailed != 1 {
		t.Errorf("expected 1 sent and 1 failed, got %d and %d", s.CommandsSent, s.CommandsFailed)
	}
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.TotalTelegrams = 10
	s.Completed = 5
	s.Reset()
	if s.TotalTelegrams != 0 || s.Completed != 0 {
		t.Error("Reset should clear counters")
	}
	if s.StartTime.IsZero() {
		t.Error("Reset should restart the clock")
	}
}
