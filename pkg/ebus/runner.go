// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned by Enqueue when the command queue has no room
	ErrQueueFull = errors.New("command queue full")
	// ErrCommandNotReady is returned by Enqueue for a command that was not
	// built with NewCommand or has already been sent
	ErrCommandNotReady = errors.New("command not ready to send")
)

// RunnerConfig sizes the runner's channels
type RunnerConfig struct {
	QueueSize      int
	TelegramBuffer int
	ResultBuffer   int
	Logger         *slog.Logger
}

// DefaultRunnerConfig is used by NewRunner
var DefaultRunnerConfig = RunnerConfig{
	QueueSize:      16,
	TelegramBuffer: 256,
	ResultBuffer:   16,
}

// Runner binds an Engine to a byte transport. All engine calls happen on
// the goroutine executing Run; other goroutines talk to it through Enqueue,
// Telegrams and Results.
type Runner struct {
	engine *Engine
	rw     io.ReadWriter
	log    *slog.Logger

	queue     chan Command
	telegrams chan Telegram
	results   chan Command

	tap     func([]byte)
	pending []byte
	dropped atomic.Uint64
}

// NewRunner creates a runner with DefaultRunnerConfig
func NewRunner(engine *Engine, rw io.ReadWriter) *Runner {
	return NewRunnerWithConfig(engine, rw, DefaultRunnerConfig)
}

// NewRunnerWithConfig creates a runner and installs its collaborators on the engine
func NewRunnerWithConfig(engine *Engine, rw io.ReadWriter, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		engine:    engine,
		rw:        rw,
		log:       logger.With("component", "runner"),
		queue:     make(chan Command, cfg.QueueSize),
		telegrams: make(chan Telegram, cfg.TelegramBuffer),
		results:   make(chan Command, cfg.ResultBuffer),
	}
	engine.SetSendFunc(r.send)
	engine.SetTelegramFunc(r.publishTelegram)
	engine.SetDequeueFunc(r.nextCommand)
	engine.SetCommandDoneFunc(r.publishResult)
	return r
}

// Engine returns the engine driven by this runner
func (r *Runner) Engine() *Engine {
	return r.engine
}

// SetTap installs a function that sees every chunk read from the transport.
// Must be called before Run.
func (r *Runner) SetTap(tap func([]byte)) {
	r.tap = tap
}

// Enqueue queues a command for transmission without blocking
func (r *Runner) Enqueue(c Command) error {
	if c.State() != StateWaitForSend {
		return ErrCommandNotReady
	}
	select {
	case r.queue <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// Telegrams delivers every finished telegram. Telegrams are dropped when
// the channel is full.
func (r *Runner) Telegrams() <-chan Telegram {
	return r.telegrams
}

// Results delivers every command that completed or failed
func (r *Runner) Results() <-chan Command {
	return r.results
}

// Dropped returns the number of telegrams dropped because nobody was reading
func (r *Runner) Dropped() uint64 {
	return r.dropped.Load()
}

// Run feeds the transport to the engine until ctx is done or the transport
// fails. It returns nil when the transport reaches EOF.
func (r *Runner) Run(ctx context.Context) error {
	chunks := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go r.readLoop(ctx, chunks, errCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				err := <-errCh
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if r.tap != nil {
				r.tap(chunk)
			}
			for _, b := range chunk {
				r.engine.ProcessReceivedByte(b)
				if err := r.flush(); err != nil {
					return err
				}
			}
		}
	}
}

// readLoop reads from the transport until it fails. The error is delivered
// on errCh before chunks is closed.
func (r *Runner) readLoop(ctx context.Context, chunks chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 128)
	for {
		n, err := r.rw.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case chunks <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			close(chunks)
			return
		}
	}
}

// send collects the bytes the engine emits while handling one byte
func (r *Runner) send(data []byte) {
	r.pending = append(r.pending, data...)
}

func (r *Runner) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	_, err := r.rw.Write(r.pending)
	r.pending = r.pending[:0]
	if err != nil {
		r.log.Warn("write failed", "error", err)
		return err
	}
	return nil
}

func (r *Runner) publishTelegram(t Telegram) {
	select {
	case r.telegrams <- t:
	default:
		r.dropped.Add(1)
	}
}

func (r *Runner) nextCommand(c *Command) bool {
	select {
	case next := <-r.queue:
		*c = next
		return true
	default:
		return false
	}
}

func (r *Runner) publishResult(c Command) {
	select {
	case r.results <- c:
	default:
		r.log.Warn("result dropped", "zz", hexByte(c.ZZ()), "command", hexCommand(c.Command()))
	}
}
