// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/capture"
	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSecondary(t *testing.T) {
	assert.True(t, isSecondary(0x15))
	assert.True(t, isSecondary(0x08))
	assert.False(t, isSecondary(0x10))
	assert.False(t, isSecondary(0xFF))
	assert.False(t, isSecondary(ebus.SYN))
	assert.False(t, isSecondary(ebus.ESC))
	assert.False(t, isSecondary(ebus.BroadcastAddress))
}

func TestParseScanTargets_All(t *testing.T) {
	targets, err := parseScanTargets("", 0x35)
	require.NoError(t, err)

	// 256 addresses minus 25 primaries, SYN, ESC, broadcast and our own
	assert.Len(t, targets, 256-25-3-1)
	assert.NotContains(t, targets, byte(0x35))
	for _, a := range targets {
		assert.True(t, isSecondary(a), "0x%02X", a)
	}
}

func TestParseScanTargets_List(t *testing.T) {
	targets, err := parseScanTargets("08, 15,35", 0x35)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x15}, targets)

	_, err = parseScanTargets("08,10", 0x35)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = parseScanTargets("08,zz", 0x35)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestFormatIdentification(t *testing.T) {
	data := []byte{0xB5, 'B', 'A', 'I', '0', '0', 0x01, 0x02, 0x74, 0x03}
	assert.Equal(t, `manufacturer=0xB5 id="BAI00" sw=01.02 hw=74.03`, formatIdentification(data))

	padded := []byte{0x19, 'V', 'R', 0x00, 0x00, 0x00, 0x10, 0x00, 0x20, 0x01}
	assert.Contains(t, formatIdentification(padded), `id="VR"`)

	assert.Contains(t, formatIdentification([]byte{0x01}), "too short")
}

func TestMatchesCommand(t *testing.T) {
	telegrams := receiveTelegrams(identificationRequest...)
	require.Len(t, telegrams, 1)

	c := ebus.MustCommand(0x10, 0x35, ebus.CmdIdentification, nil)
	assert.True(t, matchesCommand(telegrams[0], c))

	other := ebus.MustCommand(0x10, 0x35, ebus.CmdRegisterRead, nil)
	assert.False(t, matchesCommand(telegrams[0], other))

	fromElsewhere := ebus.MustCommand(0x30, 0x35, ebus.CmdIdentification, nil)
	assert.False(t, matchesCommand(telegrams[0], fromElsewhere))
}

func TestExchange_Answered(t *testing.T) {
	responses, err := parseResponses([]string{"0704=55"})
	require.NoError(t, err)
	exchanges, err := simulateResponses(simulationConfig(), 0x10, responses)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)

	sim := exchanges[0]
	x := exchange{command: sim.command, response: sim.telegram}
	assert.True(t, x.answered())

	// A completed request without its response is not an answer
	x.response = nil
	assert.False(t, x.answered())

	pending := exchange{command: ebus.MustCommand(0x10, 0x35, ebus.CmdIdentification, nil)}
	assert.False(t, pending.answered())
}

func TestReplayCapture(t *testing.T) {
	var buf bytes.Buffer
	started := time.UnixMicro(1735732800000000)

	w, err := capture.NewWriter(&buf, capture.Header{Source: "test", Started: started})
	require.NoError(t, err)
	require.NoError(t, w.Write(capture.Chunk{
		Time: started.Add(5 * time.Millisecond),
		Data: []byte{ebus.SYN, 0x10, 0xFE, 0xB5, 0x05},
	}))
	require.NoError(t, w.Write(capture.Chunk{
		Time: started.Add(15 * time.Millisecond),
		Data: []byte{0x04, 0x27, 0x00, 0x2D, 0x00, 0xB4, ebus.SYN},
	}))

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)

	var telegrams []ebus.Telegram
	var times []time.Time
	err = replayCapture(r, ebus.NewEngine(ebus.DefaultConfig), func(tg ebus.Telegram, chunk capture.Chunk) {
		telegrams = append(telegrams, tg)
		times = append(times, chunk.Time)
	})
	require.NoError(t, err)

	require.Len(t, telegrams, 1)
	assert.Equal(t, ebus.StateEndCompleted, telegrams[0].State())
	assert.Equal(t, ebus.TypeBroadcast, telegrams[0].Type())
	assert.Equal(t, []byte{0x27, 0x00, 0x2D, 0x00}, telegrams[0].RequestData())
	assert.True(t, times[0].Equal(started.Add(15*time.Millisecond)))
}
