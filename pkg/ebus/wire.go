// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

// Wire is an in-memory eBus. Symbols sent in the same step collide as a
// wired AND, and an idle bus carries SYN like an auto-SYN generator.
//
// Wire is not safe for concurrent use.
type Wire struct {
	nodes    []*wireNode
	injected []byte
	history  []byte
	tap      func(byte)
}

type wireNode struct {
	engine *Engine
	outbox []byte
}

// NewWire creates an empty bus
func NewWire() *Wire {
	return &Wire{}
}

// Attach connects an engine. Its send function is replaced by the wire.
func (w *Wire) Attach(e *Engine) {
	n := &wireNode{engine: e}
	e.SetSendFunc(func(data []byte) {
		n.outbox = append(n.outbox, data...)
	})
	w.nodes = append(w.nodes, n)
}

// Inject queues raw symbols from a device that is not an engine
func (w *Wire) Inject(data ...byte) {
	w.injected = append(w.injected, data...)
}

// SetTap installs a function that sees every symbol on the bus
func (w *Wire) SetTap(tap func(byte)) {
	w.tap = tap
}

// Idle reports whether no node has symbols waiting
func (w *Wire) Idle() bool {
	if len(w.injected) > 0 {
		return false
	}
	for _, n := range w.nodes {
		if len(n.outbox) > 0 {
			return false
		}
	}
	return true
}

// Step puts one symbol on the bus and delivers it to every engine
func (w *Wire) Step() byte {
	symbol := byte(0xFF)
	driven := false

	for _, n := range w.nodes {
		if len(n.outbox) > 0 {
			symbol &= n.outbox[0]
			n.outbox = n.outbox[1:]
			driven = true
		}
	}
	if len(w.injected) > 0 {
		symbol &= w.injected[0]
		w.injected = w.injected[1:]
		driven = true
	}
	if !driven {
		symbol = SYN
	}

	w.history = append(w.history, symbol)
	if w.tap != nil {
		w.tap(symbol)
	}
	for _, n := range w.nodes {
		n.engine.ProcessReceivedByte(symbol)
	}
	return symbol
}

// Run performs n steps and returns the symbols
func (w *Wire) Run(n int) []byte {
	symbols := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		symbols = append(symbols, w.Step())
	}
	return symbols
}

// RunUntil steps until done returns true or max steps were taken. It
// reports whether done was satisfied.
func (w *Wire) RunUntil(done func() bool, max int) bool {
	for i := 0; i < max; i++ {
		if done() {
			return true
		}
		w.Step()
	}
	return done()
}

// History returns every symbol put on the bus so far
func (w *Wire) History() []byte {
	return append([]byte(nil), w.history...)
}
