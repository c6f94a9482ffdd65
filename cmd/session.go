// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/capture"
	"github.com/Thermoquad/ebusstat/pkg/ebus"
)

// session is an engine running on an open connection
type session struct {
	conn   Connection
	info   string
	engine *ebus.Engine
	runner *ebus.Runner
	done   chan error
}

// openSession connects and prepares an engine from the root flags. The
// engine does not see any bytes until start is called.
func openSession() (*session, error) {
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	engine, err := newEngine()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &session{
		conn:   conn,
		info:   info,
		engine: engine,
		runner: ebus.NewRunner(engine, conn),
		done:   make(chan error, 1),
	}, nil
}

// record writes every chunk read from the bus to path
func (s *session) record(path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	w, err := capture.NewWriter(f, capture.Header{Source: s.info, Started: time.Now()})
	if err != nil {
		f.Close()
		return nil, err
	}

	s.runner.SetTap(func(data []byte) {
		if err := w.WriteBytes(data); err != nil {
			slog.Warn("capture write failed", "error", err)
		}
	})
	slog.Info("recording capture", "file", path)
	return f.Close, nil
}

// start runs the engine in the background
func (s *session) start(ctx context.Context) {
	go func() {
		s.done <- s.runner.Run(ctx)
	}()
}

// Done delivers the result of Run
func (s *session) Done() <-chan error {
	return s.done
}

func (s *session) Close() error {
	if dropped := s.runner.Dropped(); dropped > 0 {
		slog.Warn("telegrams dropped", "count", dropped)
	}
	return s.conn.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// sessionEnded reports a finished Run. Interrupts and closed connections
// are normal ways for a monitor to end.
func sessionEnded(err error) error {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, ErrConnectionClosed):
		slog.Info("connection closed")
		return nil
	default:
		return fmt.Errorf("bus read failed: %w", err)
	}
}
