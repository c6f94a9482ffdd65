// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"errors"
	"fmt"
)

var (
	ErrDataTooLong      = errors.New("command data too long")
	ErrSourceNotPrimary = errors.New("source address is not a primary address")
)

// Command is a request this node transmits on the bus
type Command struct {
	telegramBase
	triesUsed int
	// echoPending counts the wire symbols of our own request still to be
	// read back before the handshake slot; -1 once the slot has passed
	echoPending int
}

// IdleCommand returns the placeholder command meaning nothing is pending
func IdleCommand() Command {
	return Command{telegramBase: newTelegramBase(StateEndCompleted)}
}

// NewCommand builds a command from source qq to destination zz. The request
// bytes and CRC are computed up front; data must be shorter than
// MaxDataLength so that NN is not read back as 0.
func NewCommand(qq, zz byte, command uint16, data []byte) (Command, error) {
	if len(data) >= MaxDataLength {
		return Command{}, fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLong, len(data), MaxDataLength-1)
	}
	if !IsPrimary(qq) {
		return Command{}, fmt.Errorf("%w: 0x%02X", ErrSourceNotPrimary, qq)
	}

	c := Command{telegramBase: newTelegramBase(StateWaitForSend)}
	c.appendRequest(qq)
	c.appendRequest(zz)
	c.appendRequest(byte(command >> 8))
	c.appendRequest(byte(command))
	c.appendRequest(byte(len(data)))
	for _, b := range data {
		c.appendRequest(b)
	}
	c.request[c.requestPos] = c.requestCRC
	c.requestPos++

	// The first arbitration attempt counts as a try
	c.triesUsed = 1
	return c, nil
}

// MustCommand is like NewCommand but panics on error
func MustCommand(qq, zz byte, command uint16, data []byte) Command {
	c, err := NewCommand(qq, zz, command, data)
	if err != nil {
		panic(fmt.Sprintf("ebus: %v", err))
	}
	return c
}

// appendRequest stores an unescaped byte and folds its wire form into the CRC
func (c *Command) appendRequest(b byte) {
	c.request[c.requestPos] = b
	c.requestPos++
	c.requestCRC = crc8Escaped(b, c.requestCRC)
}

// echoLength returns the number of wire symbols sent after QQ, CRC included
func (c Command) echoLength() int {
	n := 0
	for _, b := range c.request[1:c.requestPos] {
		n += len(Escape(b))
	}
	return n
}

// CanRetry consumes a try and reports whether the tries used before this
// call were below maxTries
func (c *Command) CanRetry(maxTries int) bool {
	used := c.triesUsed
	c.triesUsed++
	return used < maxTries
}

// TriesUsed returns the number of tries consumed so far
func (c Command) TriesUsed() int {
	return c.triesUsed
}
