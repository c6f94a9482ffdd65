// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import "fmt"

// State is the progress of a telegram or command.
//
// Positive values are in progress, StateUnknown is a placeholder and negative
// values are terminal. IsFinished relies on this ordering: a state is
// finished exactly when it is below StateUnknown.
type State int8

// In-progress states
const (
	StateUnknown               State = 0
	StateWaitForSyn            State = 1
	StateWaitForSend           State = 2
	StateWaitForRequestData    State = 3
	StateWaitForRequestAck     State = 4
	StateWaitForResponseData   State = 5
	StateWaitForResponseAck    State = 6
	StateWaitForArbitration    State = 7
	StateWaitForArbitration2nd State = 8
	StateWaitForCommandAck     State = 9
)

// Terminal states
const (
	StateEndErrorUnexpectedSyn        State = -1
	StateEndErrorRequestNackReceived  State = -2
	StateEndErrorResponseNackReceived State = -3
	StateEndErrorResponseNoAck        State = -4
	StateEndErrorRequestNoAck         State = -5
	StateEndArbitration               State = -6
	StateEndCompleted                 State = -16
	StateEndSendFailed                State = -17
)

// IsFinished reports whether s is terminal
func (s State) IsFinished() bool {
	return s < StateUnknown
}

// IsError reports whether s is terminal but not a successful completion
func (s State) IsError() bool {
	return s.IsFinished() && s != StateEndCompleted
}

var stateNames = map[State]string{
	StateUnknown:                      "unknown",
	StateWaitForSyn:                   "waitForSyn",
	StateWaitForSend:                  "waitForSend",
	StateWaitForRequestData:           "waitForRequestData",
	StateWaitForRequestAck:            "waitForRequestAck",
	StateWaitForResponseData:          "waitForResponseData",
	StateWaitForResponseAck:           "waitForResponseAck",
	StateWaitForArbitration:           "waitForArbitration",
	StateWaitForArbitration2nd:        "waitForArbitration2nd",
	StateWaitForCommandAck:            "waitForCommandAck",
	StateEndErrorUnexpectedSyn:        "endErrorUnexpectedSyn",
	StateEndErrorRequestNackReceived:  "endErrorRequestNackReceived",
	StateEndErrorResponseNackReceived: "endErrorResponseNackReceived",
	StateEndErrorResponseNoAck:        "endErrorResponseNoAck",
	StateEndErrorRequestNoAck:         "endErrorRequestNoAck",
	StateEndArbitration:               "endArbitration",
	StateEndCompleted:                 "endCompleted",
	StateEndSendFailed:                "endSendFailed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int8(s))
}

// TelegramType classifies a telegram by its destination address
type TelegramType int

const (
	TypeUnknown TelegramType = iota
	TypeBroadcast
	TypePrimaryPrimary
	TypePrimarySecondary
)

func (t TelegramType) String() string {
	switch t {
	case TypeBroadcast:
		return "BROADCAST"
	case TypePrimaryPrimary:
		return "PRIMARY_PRIMARY"
	case TypePrimarySecondary:
		return "PRIMARY_SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// classify returns the telegram type implied by destination address zz
func classify(zz byte) TelegramType {
	switch {
	case zz == ESC:
		return TypeUnknown
	case zz == BroadcastAddress:
		return TypeBroadcast
	case IsPrimary(zz):
		return TypePrimaryPrimary
	default:
		return TypePrimarySecondary
	}
}
