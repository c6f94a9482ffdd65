// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import "fmt"

// AnomalyType represents different types of telegram anomalies
type AnomalyType int

const (
	AnomalyRequestCRC AnomalyType = iota
	AnomalyResponseCRC
	AnomalyLengthClamped
	AnomalyResponseLengthClamped
	AnomalySourceNotPrimary
)

// ValidationError represents a telegram validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateTelegram inspects a finished telegram for anomalies.
// Returns a slice of validation errors (empty if the telegram is clean).
//
// Telegrams that ended in arbitration carry no frame and are never reported.
func ValidateTelegram(t Telegram) []ValidationError {
	errors := []ValidationError{}

	if t.State() == StateEndArbitration || t.requestPos == 0 {
		return errors
	}

	if !IsPrimary(t.QQ()) {
		errors = append(errors, ValidationError{
			Type:    AnomalySourceNotPrimary,
			Message: fmt.Sprintf("Source address 0x%02X is not a primary address", t.QQ()),
			Details: map[string]interface{}{"qq": t.QQ()},
		})
	}

	if t.requestPos > OffsetNN && t.DeclaredNN() >= MaxDataLength {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthClamped,
			Message: fmt.Sprintf("Request NN=0x%02X read as 0 (max %d)", t.DeclaredNN(), MaxDataLength-1),
			Details: map[string]interface{}{"declared": t.DeclaredNN(), "max": MaxDataLength - 1},
		})
	}

	if t.IsRequestComplete() && !t.IsRequestValid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyRequestCRC,
			Message: fmt.Sprintf("Request CRC mismatch (got 0x%02X, calculated 0x%02X)", t.RequestCRC(), t.requestCRC),
			Details: map[string]interface{}{"received": t.RequestCRC(), "calculated": t.requestCRC},
		})
	}

	if t.responsePos > OffsetResponseNN && t.DeclaredResponseNN() >= MaxDataLength {
		errors = append(errors, ValidationError{
			Type:    AnomalyResponseLengthClamped,
			Message: fmt.Sprintf("Response NN=0x%02X read as 0 (max %d)", t.DeclaredResponseNN(), MaxDataLength-1),
			Details: map[string]interface{}{"declared": t.DeclaredResponseNN(), "max": MaxDataLength - 1},
		})
	}

	if t.IsResponseComplete() && !t.IsResponseValid() {
		errors = append(errors, ValidationError{
			Type:    AnomalyResponseCRC,
			Message: fmt.Sprintf("Response CRC mismatch (got 0x%02X, calculated 0x%02X)", t.ResponseCRC(), t.responseCRC),
			Details: map[string]interface{}{"received": t.ResponseCRC(), "calculated": t.responseCRC},
		})
	}

	return errors
}
