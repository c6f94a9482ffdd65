// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"fmt"
	"time"
)

// Statistics tracks telegram outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Telegram outcomes
	TotalTelegrams uint64
	Completed      uint64
	Arbitrations   uint64
	UnexpectedSyn  uint64
	RequestNack    uint64
	ResponseNack   uint64
	RequestNoAck   uint64
	ResponseNoAck  uint64

	// Validation anomalies
	RequestCRCErrors  uint64
	ResponseCRCErrors uint64
	ClampedLengths    uint64
	InvalidSources    uint64

	// Own commands
	CommandsSent   uint64
	CommandsFailed uint64

	// Rates (calculated)
	TelegramRate float64 // telegrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts a finished telegram and its validation errors.
// Telegrams that ended in arbitration are counted separately and not as
// telegrams.
func (s *Statistics) Update(t Telegram, validationErrors []ValidationError) {
	s.LastUpdateTime = time.Now()

	if t.State() == StateEndArbitration {
		s.Arbitrations++
		return
	}

	s.TotalTelegrams++
	switch t.State() {
	case StateEndCompleted:
		s.Completed++
	case StateEndErrorUnexpectedSyn:
		s.UnexpectedSyn++
	case StateEndErrorRequestNackReceived:
		s.RequestNack++
	case StateEndErrorResponseNackReceived:
		s.ResponseNack++
	case StateEndErrorRequestNoAck:
		s.RequestNoAck++
	case StateEndErrorResponseNoAck:
		s.ResponseNoAck++
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyRequestCRC:
			s.RequestCRCErrors++
		case AnomalyResponseCRC:
			s.ResponseCRCErrors++
		case AnomalyLengthClamped, AnomalyResponseLengthClamped:
			s.ClampedLengths++
		case AnomalySourceNotPrimary:
			s.InvalidSources++
		}
	}
}

// UpdateCommand counts a finished command of this node
func (s *Statistics) UpdateCommand(c Command) {
	switch c.State() {
	case StateEndCompleted:
		s.CommandsSent++
	case StateEndSendFailed:
		s.CommandsFailed++
	}
}

// Errors returns the number of telegrams that did not complete
func (s *Statistics) Errors() uint64 {
	return s.TotalTelegrams - s.Completed
}

// CalculateRates calculates telegram and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TelegramRate = float64(s.TotalTelegrams) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Telegrams: %8d\n", s.TotalTelegrams)
	result += fmt.Sprintf("Completed:       %8d (%.1f%%)\n", s.Completed, percent(s.Completed, s.TotalTelegrams))
	result += fmt.Sprintf("Arbitrations:    %8d\n", s.Arbitrations)

	if s.Errors() > 0 {
		result += fmt.Sprintf("Errors:          %8d (%.1f%%)\n", s.Errors(), percent(s.Errors(), s.TotalTelegrams))
		if s.UnexpectedSyn > 0 {
			result += fmt.Sprintf("  Unexpected SYN:   %5d\n", s.UnexpectedSyn)
		}
		if s.RequestNack > 0 {
			result += fmt.Sprintf("  Request NACK:     %5d\n", s.RequestNack)
		}
		if s.ResponseNack > 0 {
			result += fmt.Sprintf("  Response NACK:    %5d\n", s.ResponseNack)
		}
		if s.RequestNoAck > 0 {
			result += fmt.Sprintf("  Request no ACK:   %5d\n", s.RequestNoAck)
		}
		if s.ResponseNoAck > 0 {
			result += fmt.Sprintf("  Response no ACK:  %5d\n", s.ResponseNoAck)
		}
	}
	if s.RequestCRCErrors > 0 {
		result += fmt.Sprintf("Request CRC:     %8d\n", s.RequestCRCErrors)
	}
	if s.ResponseCRCErrors > 0 {
		result += fmt.Sprintf("Response CRC:    %8d\n", s.ResponseCRCErrors)
	}
	if s.ClampedLengths > 0 {
		result += fmt.Sprintf("Clamped NN:      %8d\n", s.ClampedLengths)
	}
	if s.InvalidSources > 0 {
		result += fmt.Sprintf("Invalid Source:  %8d\n", s.InvalidSources)
	}
	if s.CommandsSent > 0 || s.CommandsFailed > 0 {
		result += fmt.Sprintf("Commands:        %8d sent, %d failed\n", s.CommandsSent, s.CommandsFailed)
	}

	result += fmt.Sprintf("Telegram Rate:   %8.1f tel/sec\n", s.TelegramRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
