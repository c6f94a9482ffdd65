// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus is a transport whose writes are optionally echoed back, like an
// adapter on a real bus
type fakeBus struct {
	rx   chan []byte
	echo bool

	mu      sync.Mutex
	written []byte
}

func newFakeBus(echo bool) *fakeBus {
	return &fakeBus{rx: make(chan []byte, 256), echo: echo}
}

func (b *fakeBus) Read(p []byte) (int, error) {
	data, ok := <-b.rx
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (b *fakeBus) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.written = append(b.written, p...)
	b.mu.Unlock()
	if b.echo {
		b.rx <- append([]byte(nil), p...)
	}
	return len(p), nil
}

func (b *fakeBus) Written() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.written...)
}

func TestRunner_DeliversTelegrams(t *testing.T) {
	bus := newFakeBus(false)
	r := NewRunner(NewEngine(DefaultConfig), bus)

	var tapped []byte
	r.SetTap(func(data []byte) { tapped = append(tapped, data...) })

	input := []byte{SYN, 0x10, 0x30, 0x03, 0x04, 0x00, 0x47, ACK, SYN}
	bus.rx <- input[:3]
	bus.rx <- input[3:]
	close(bus.rx)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, input, tapped)

	require.Len(t, r.Telegrams(), 1)
	tg := <-r.Telegrams()
	assert.Equal(t, StateEndCompleted, tg.State())
	assert.Equal(t, byte(0x10), tg.QQ())
	assert.Equal(t, byte(0x30), tg.ZZ())
	assert.Empty(t, bus.Written())
}

func TestRunner_SendsCommand(t *testing.T) {
	bus := newFakeBus(true)
	cfg := DefaultConfig
	cfg.PrimaryAddress = 0x10
	r := NewRunner(NewEngine(cfg), bus)

	cmd := MustCommand(0x10, BroadcastAddress, CmdDateTime, nil)
	require.NoError(t, r.Enqueue(cmd))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	bus.rx <- []byte{SYN}

	select {
	case result := <-r.Results():
		assert.Equal(t, StateEndCompleted, result.State())
		assert.Equal(t, CmdDateTime, result.Command())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the command result")
	}

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))
	close(bus.rx)

	expected := []byte{0x10, 0xFE, 0x07, 0x00, 0x00, wireCRC(0x10, 0xFE, 0x07, 0x00, 0x00)}
	assert.Equal(t, expected, bus.Written())
}

func TestRunner_EnqueueFull(t *testing.T) {
	cfg := DefaultRunnerConfig
	cfg.QueueSize = 1
	r := NewRunnerWithConfig(NewEngine(DefaultConfig), newFakeBus(false), cfg)

	cmd := MustCommand(0xFF, BroadcastAddress, CmdDateTime, nil)
	require.NoError(t, r.Enqueue(cmd))
	assert.ErrorIs(t, r.Enqueue(cmd), ErrQueueFull)
}

func TestRunner_EnqueueNotReady(t *testing.T) {
	r := NewRunner(NewEngine(DefaultConfig), newFakeBus(false))

	assert.ErrorIs(t, r.Enqueue(Command{}), ErrCommandNotReady)
	assert.ErrorIs(t, r.Enqueue(IdleCommand()), ErrCommandNotReady)
}

func TestRunner_DropsTelegramsWhenFull(t *testing.T) {
	bus := newFakeBus(false)
	cfg := DefaultRunnerConfig
	cfg.TelegramBuffer = 1
	r := NewRunnerWithConfig(NewEngine(DefaultConfig), bus, cfg)

	bus.rx <- []byte{SYN, 0x10, SYN, SYN, 0x10, SYN}
	close(bus.rx)

	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, r.Telegrams(), 1)
	assert.Equal(t, uint64(1), r.Dropped())
}

type failingBus struct{}

func (failingBus) Read(p []byte) (int, error)  { return 0, errors.New("device unplugged") }
func (failingBus) Write(p []byte) (int, error) { return len(p), nil }

func TestRunner_ReadError(t *testing.T) {
	r := NewRunner(NewEngine(DefaultConfig), failingBus{})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}
