// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
)

var (
	ErrExchangeTimeout = errors.New("timeout")
	ErrBusClosed       = errors.New("bus closed")
)

// exchange is the outcome of one command sent by this node
type exchange struct {
	command  ebus.Command
	response *ebus.Telegram
	elapsed  time.Duration
}

// answered reports whether the command went through and, for
// primary-secondary commands, the response was received intact
func (x exchange) answered() bool {
	if x.command.State() != ebus.StateEndCompleted {
		return false
	}
	if !x.command.IsResponseExpected() {
		return true
	}
	return x.response != nil && x.response.State() == ebus.StateEndCompleted
}

// matchesCommand reports whether t carries the request of c
func matchesCommand(t ebus.Telegram, c ebus.Command) bool {
	return t.State() != ebus.StateEndArbitration &&
		t.QQ() == c.QQ() &&
		t.ZZ() == c.ZZ() &&
		t.Command() == c.Command()
}

// sendCommand queues c and waits for its result and, when one is expected,
// for the telegram holding the response
func sendCommand(ctx context.Context, s *session, c ebus.Command, timeout time.Duration) (exchange, error) {
	start := time.Now()
	if err := s.runner.Enqueue(c); err != nil {
		return exchange{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	x := exchange{}
	done := false

	// onResult records the result of c and reports whether the exchange is over
	onResult := func(result ebus.Command) bool {
		if result.ZZ() != c.ZZ() || result.Command() != c.Command() {
			return false
		}
		x.command = result
		x.elapsed = time.Since(start)
		done = true
		return result.State() != ebus.StateEndCompleted || !result.IsResponseExpected()
	}

	for {
		select {
		case result := <-s.runner.Results():
			if onResult(result) {
				return x, nil
			}

		case t := <-s.runner.Telegrams():
			if !matchesCommand(t, c) {
				continue
			}
			// The result is published before the telegram that carries
			// the response, but may still be waiting in its channel
			if !done {
				select {
				case result := <-s.runner.Results():
					if onResult(result) {
						return x, nil
					}
				default:
				}
			}
			if !done {
				continue
			}
			x.response = &t
			x.elapsed = time.Since(start)
			return x, nil

		case err := <-s.Done():
			if err == nil {
				return x, ErrBusClosed
			}
			return x, fmt.Errorf("%w: %v", ErrBusClosed, err)

		case <-timer.C:
			return x, ErrExchangeTimeout

		case <-ctx.Done():
			return x, ctx.Err()
		}
	}
}
