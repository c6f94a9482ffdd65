// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
)

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidCommand  = errors.New("invalid command")
	ErrInvalidResponse = errors.New("invalid response spec")
)

// parseHexByte parses "10", "0x10" or "0X10"
func parseHexByte(s string) (byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return byte(v), nil
}

// parseCommand parses a PBSB pair such as "0704" or "B5 09"
func parseCommand(s string) (uint16, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: %q (expected 4 hex digits)", ErrInvalidCommand, s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	return uint16(v), nil
}

// parseHexData parses bytes written as "01020A" or "01 02 0A"
func parseHexData(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return data, nil
}

// parsePrimaryAddress parses the --address flag
func parsePrimaryAddress() (byte, error) {
	address, err := parseHexByte(primaryAddress)
	if err != nil {
		return 0, err
	}
	if !ebus.IsPrimary(address) {
		return 0, fmt.Errorf("%w: 0x%02X is not a primary address", ErrInvalidAddress, address)
	}
	return address, nil
}

// staticResponse answers one command with fixed data
type staticResponse struct {
	command uint16
	source  byte
	anySrc  bool
	data    []byte
}

// parseResponse parses PBSB[@QQ]=HEXDATA
func parseResponse(spec string) (staticResponse, error) {
	key, value, ok := strings.Cut(spec, "=")
	if !ok {
		return staticResponse{}, fmt.Errorf("%w: %q (expected PBSB[@QQ]=HEXDATA)", ErrInvalidResponse, spec)
	}

	r := staticResponse{anySrc: true}
	cmdPart, srcPart, hasSrc := strings.Cut(key, "@")

	var err error
	if r.command, err = parseCommand(cmdPart); err != nil {
		return staticResponse{}, err
	}
	if hasSrc {
		if r.source, err = parseHexByte(srcPart); err != nil {
			return staticResponse{}, err
		}
		r.anySrc = false
	}
	if r.data, err = parseHexData(value); err != nil {
		return staticResponse{}, err
	}
	if len(r.data) == 0 || len(r.data) >= ebus.MaxDataLength {
		return staticResponse{}, fmt.Errorf("%w: %d data bytes (1-%d allowed)", ErrInvalidResponse, len(r.data), ebus.MaxDataLength-1)
	}
	return r, nil
}

// handler returns a response handler serving r
func (r staticResponse) handler() ebus.ResponseHandler {
	return func(t *ebus.Telegram, out []byte) int {
		if t.Command() != r.command {
			return 0
		}
		if !r.anySrc && t.QQ() != r.source {
			return 0
		}
		return copy(out, r.data)
	}
}

func parseResponses(specs []string) ([]staticResponse, error) {
	responses := make([]staticResponse, 0, len(specs))
	for _, spec := range specs {
		r, err := parseResponse(spec)
		if err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, nil
}

// newEngineConfig builds the engine configuration from the root flags
func newEngineConfig() (ebus.Config, error) {
	address, err := parsePrimaryAddress()
	if err != nil {
		return ebus.Config{}, err
	}
	if maxTries < 1 {
		return ebus.Config{}, fmt.Errorf("--max-tries must be at least 1, got %d", maxTries)
	}
	if maxLock < 0 {
		return ebus.Config{}, fmt.Errorf("--max-lock must not be negative, got %d", maxLock)
	}
	return ebus.Config{
		PrimaryAddress: address,
		MaxTries:       maxTries,
		MaxLockCounter: maxLock,
		Logger:         slog.Default(),
	}, nil
}

// newEngine creates an engine with the configured static responses
func newEngine() (*ebus.Engine, error) {
	cfg, err := newEngineConfig()
	if err != nil {
		return nil, err
	}
	responses, err := parseResponses(respondSpecs)
	if err != nil {
		return nil, err
	}

	engine := newResponderEngine(cfg, responses)
	if len(responses) > 0 {
		slog.Info("answering requests",
			"secondary", fmt.Sprintf("%02X", engine.SecondaryAddress()),
			"responses", len(responses))
	}
	return engine, nil
}

// newResponderEngine creates an engine answering with responses in order
func newResponderEngine(cfg ebus.Config, responses []staticResponse) *ebus.Engine {
	engine := ebus.NewEngine(cfg)
	for _, r := range responses {
		engine.AddResponseHandler(r.handler())
	}
	return engine
}

// parseCommandLine parses "ZZ PBSB [DATA]" as typed in the monitor
func parseCommandLine(line string) (zz byte, command uint16, data []byte, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, 0, nil, fmt.Errorf("%w: %q (expected ZZ PBSB [DATA])", ErrInvalidCommand, line)
	}
	if zz, err = parseHexByte(fields[0]); err != nil {
		return 0, 0, nil, err
	}
	if command, err = parseCommand(fields[1]); err != nil {
		return 0, 0, nil, err
	}
	if data, err = parseHexData(strings.Join(fields[2:], "")); err != nil {
		return 0, 0, nil, err
	}
	return zz, command, data, nil
}
