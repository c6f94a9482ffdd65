// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ebus implements the eBus protocol engine: bus arbitration, byte
// stuffing, rolling CRC validation, ACK/NACK handshaking and the retry policy
// for telegrams sent and received on the two-wire eBus used by heating
// controllers.
//
// The Engine is fed one received byte at a time and drives two state machines
// from it: one for the telegram currently observed on the bus and one for the
// command this node wants to transmit.
package ebus

// Bus symbols
const (
	SYN  = 0xAA // synchronisation / frame boundary
	ESC  = 0xA9 // escape sequence introducer
	ACK  = 0x00
	NACK = 0xFF

	// Second byte of an escape sequence
	EscapedESC = 0x00
	EscapedSYN = 0x01
)

// BroadcastAddress is the destination address of telegrams sent to every
// participant. Broadcasts are neither acknowledged nor answered.
const BroadcastAddress = 0xFE

// Request frame layout: QQ ZZ PB SB NN DATA... CRC
const (
	OffsetQQ   = 0
	OffsetZZ   = 1
	OffsetPB   = 2
	OffsetSB   = 3
	OffsetNN   = 4
	OffsetData = 5
)

// Response frame layout: NN DATA... CRC
const (
	OffsetResponseNN   = 0
	OffsetResponseData = 1
)

// Buffer limits
const (
	// MaxDataLength bounds NN. A declared length at or above it is read as 0.
	MaxDataLength = 16

	RequestBufferSize  = OffsetData + MaxDataLength + 1
	ResponseBufferSize = MaxDataLength + 2
)

// Engine defaults
const (
	DefaultMaxTries       = 2
	DefaultMaxLockCounter = 4
)
