// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import "log/slog"

// Phase is the bus phase derived from the spacing of SYN symbols
type Phase int

const (
	// PhaseNormal follows a SYN that ended a telegram or an idle period
	PhaseNormal Phase = iota
	// PhaseArbitration follows a SYN with exactly one symbol since the previous SYN
	PhaseArbitration
)

func (p Phase) String() string {
	if p == PhaseArbitration {
		return "arbitration"
	}
	return "normal"
}

// SendFunc places raw bytes on the bus. It must not block.
type SendFunc func(data []byte)

// TelegramFunc receives every telegram that reached a terminal state
type TelegramFunc func(t Telegram)

// DequeueFunc fills c with the next command to send and reports whether
// there was one
type DequeueFunc func(c *Command) bool

// CommandDoneFunc receives every command that completed or failed
type CommandDoneFunc func(c Command)

// ResponseHandler answers a request addressed to this node. It writes the
// response data into out (len(out) == ResponseBufferSize) and returns its
// length, or 0 (or less) if it does not handle the request. Handlers run inside
// ProcessReceivedByte and must not block.
type ResponseHandler func(t *Telegram, out []byte) int

// Config holds the engine settings
type Config struct {
	// PrimaryAddress is the source address of commands sent by this node.
	// Requests to ToSecondary(PrimaryAddress) are answered by the response
	// handlers.
	PrimaryAddress byte
	// MaxTries bounds arbitration and acknowledge attempts per command
	MaxTries int
	// MaxLockCounter is the number of normal SYN intervals the node waits
	// after a successful send before bidding again
	MaxLockCounter int
	Logger         *slog.Logger
}

// DefaultConfig uses primary address 0xFF, whose secondary address is 0x05
var DefaultConfig = Config{
	PrimaryAddress: 0xFF,
	MaxTries:       DefaultMaxTries,
	MaxLockCounter: DefaultMaxLockCounter,
}

// Engine is the byte-driven eBus protocol state machine.
//
// ProcessReceivedByte must be called from a single goroutine for every byte
// read from the bus, including the bytes this node transmitted itself.
type Engine struct {
	primaryAddress byte
	maxTries       int
	maxLockCounter int
	log            *slog.Logger

	lockCounter           int
	charCountSinceLastSyn int
	phase                 Phase

	receiving Telegram
	active    Command

	send          SendFunc
	onTelegram    TelegramFunc
	dequeue       DequeueFunc
	onCommandDone CommandDoneFunc
	handlers      []ResponseHandler

	responseBuf [ResponseBufferSize]byte
}

// NewEngine creates an engine with nothing to send
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		primaryAddress: cfg.PrimaryAddress,
		maxTries:       cfg.MaxTries,
		maxLockCounter: cfg.MaxLockCounter,
		log:            logger.With("component", "engine"),
		receiving:      NewTelegram(),
		active:         IdleCommand(),
	}
}

// SetSendFunc sets the transport used to place bytes on the bus
func (e *Engine) SetSendFunc(f SendFunc) {
	e.send = f
}

// SetTelegramFunc sets the sink for finished telegrams
func (e *Engine) SetTelegramFunc(f TelegramFunc) {
	e.onTelegram = f
}

// SetDequeueFunc sets the source of commands to send
func (e *Engine) SetDequeueFunc(f DequeueFunc) {
	e.dequeue = f
}

// SetCommandDoneFunc sets the sink for finished commands
func (e *Engine) SetCommandDoneFunc(f CommandDoneFunc) {
	e.onCommandDone = f
}

// AddResponseHandler appends a handler. Handlers are asked in the order
// they were added; the first to return a positive length answers.
func (e *Engine) AddResponseHandler(h ResponseHandler) {
	e.handlers = append(e.handlers, h)
}

// PrimaryAddress returns the configured source address
func (e *Engine) PrimaryAddress() byte {
	return e.primaryAddress
}

// SecondaryAddress returns the address this node answers requests on
func (e *Engine) SecondaryAddress() byte {
	return ToSecondary(e.primaryAddress)
}

// ReceivingTelegram returns a copy of the telegram being received
func (e *Engine) ReceivingTelegram() Telegram {
	return e.receiving
}

// ActiveCommand returns a copy of the command being sent
func (e *Engine) ActiveCommand() Command {
	return e.active
}

// LockCounter returns the remaining SYN intervals before the next bid
func (e *Engine) LockCounter() int {
	return e.lockCounter
}

// Phase returns the bus phase determined at the last SYN
func (e *Engine) Phase() Phase {
	return e.phase
}

// ProcessReceivedByte advances both state machines by one bus byte.
//
// The order is fixed: receive path, send path, acknowledging a response to
// our own request, answering a request addressed to us. The later steps
// read the state the receive path set for this byte.
func (e *Engine) ProcessReceivedByte(b byte) {
	if e.active.IsFinished() {
		e.dequeueCommand()
	}

	e.trackSyn(b)

	e.advanceReceiving(b)
	e.advanceCommand(b)
	e.acknowledgeResponse()
	e.handleResponse()

	if e.receiving.IsFinished() {
		if e.onTelegram != nil {
			e.onTelegram(e.receiving)
		}
		e.receiving = NewTelegram()
	}
	if e.active.IsFinished() {
		e.dequeueCommand()
	}
}

func (e *Engine) dequeueCommand() {
	if e.dequeue == nil {
		return
	}
	var c Command
	if !e.dequeue(&c) {
		return
	}
	if c.State() != StateWaitForSend {
		e.log.Warn("dropping command that is not ready to send", "state", c.State())
		return
	}
	e.active = c
}

// trackSyn updates the bus phase and the lock counter
func (e *Engine) trackSyn(b byte) {
	if b != SYN {
		e.charCountSinceLastSyn++
		return
	}

	if e.charCountSinceLastSyn == 1 {
		e.phase = PhaseArbitration
	} else {
		e.phase = PhaseNormal
	}
	e.charCountSinceLastSyn = 0

	if e.lockCounter > 0 && e.phase == PhaseNormal {
		e.lockCounter--
	}
}

func (e *Engine) advanceReceiving(b byte) {
	t := &e.receiving

	switch t.State() {
	case StateWaitForSyn:
		if b == SYN {
			t.setState(StateWaitForArbitration)
		}

	case StateWaitForArbitration:
		if b != SYN {
			t.PushRequestData(b)
			t.setState(StateWaitForRequestData)
		}

	case StateWaitForRequestData:
		if b == SYN {
			if t.ZZ() == ESC {
				t.setState(StateEndArbitration)
			} else {
				t.setState(StateEndErrorUnexpectedSyn)
			}
			return
		}
		t.PushRequestData(b)
		if t.IsRequestComplete() {
			if t.IsAckExpected() {
				t.setState(StateWaitForRequestAck)
			} else {
				t.setState(StateEndCompleted)
			}
		}

	case StateWaitForRequestAck:
		switch b {
		case ACK:
			if t.IsResponseExpected() {
				t.setState(StateWaitForResponseData)
			} else {
				t.setState(StateEndCompleted)
			}
		case NACK:
			t.setState(StateEndErrorRequestNackReceived)
		default:
			t.setState(StateEndErrorRequestNoAck)
		}

	case StateWaitForResponseData:
		if b == SYN {
			t.setState(StateEndErrorUnexpectedSyn)
			return
		}
		t.PushResponseData(b)
		if t.IsResponseComplete() {
			t.setState(StateWaitForResponseAck)
		}

	case StateWaitForResponseAck:
		switch b {
		case ACK:
			t.setState(StateEndCompleted)
		case NACK:
			t.setState(StateEndErrorResponseNackReceived)
		default:
			t.setState(StateEndErrorResponseNoAck)
		}
	}
}

// advanceCommand drives arbitration, transmission and the acknowledge wait
func (e *Engine) advanceCommand(b byte) {
	c := &e.active
	qq := c.QQ()

	switch c.State() {
	case StateWaitForSend:
		if b == SYN && e.phase == PhaseNormal && e.lockCounter == 0 {
			c.setState(StateWaitForArbitration)
			e.sendChar(qq, true, 0)
		}

	case StateWaitForArbitration:
		switch {
		case b == qq:
			e.wonArbitration()
		case PriorityClass(b) == PriorityClass(qq):
			c.setState(StateWaitForArbitration2nd)
		default:
			e.retryOrFail()
		}

	case StateWaitForArbitration2nd:
		switch {
		case b == SYN:
			e.sendChar(qq, true, 0)
		case b == qq:
			e.wonArbitration()
		default:
			e.retryOrFail()
		}

	case StateWaitForCommandAck:
		switch {
		case b == SYN:
			// AUTO-SYN: no acknowledge arrived in time
			e.retryOrFail()
		case c.echoPending > 0:
			c.echoPending--
		case c.echoPending == 0:
			c.echoPending = -1
			if b == ACK {
				e.completeCommand()
			}
		}
	}
}

func (e *Engine) wonArbitration() {
	e.sendRemainingRequest()
	if e.active.IsAckExpected() {
		e.active.echoPending = e.active.echoLength()
		e.active.setState(StateWaitForCommandAck)
		return
	}
	e.completeCommand()
}

func (e *Engine) completeCommand() {
	e.active.setState(StateEndCompleted)
	e.lockCounter = e.maxLockCounter
	if e.onCommandDone != nil {
		e.onCommandDone(e.active)
	}
}

func (e *Engine) retryOrFail() {
	if e.active.CanRetry(e.maxTries) {
		e.active.setState(StateWaitForSend)
		return
	}
	e.active.setState(StateEndSendFailed)
	e.log.Warn("send failed",
		"zz", hexByte(e.active.ZZ()),
		"command", hexCommand(e.active.Command()),
		"tries", e.active.TriesUsed()-1)
	if e.onCommandDone != nil {
		e.onCommandDone(e.active)
	}
}

// sendRemainingRequest transmits everything after QQ, computing the request
// CRC from the bytes as they are placed on the wire
func (e *Engine) sendRemainingRequest() {
	c := &e.active
	crc := crc8Escaped(c.QQ(), 0)
	crc = e.sendChar(c.ZZ(), true, crc)
	crc = e.sendChar(c.PB(), true, crc)
	crc = e.sendChar(c.SB(), true, crc)
	crc = e.sendChar(c.DeclaredNN(), true, crc)
	for i := 0; i < c.NN(); i++ {
		crc = e.sendChar(c.RequestByte(i), true, crc)
	}
	e.sendChar(crc, true, 0)
}

// acknowledgeResponse answers the response to a request we sent
func (e *Engine) acknowledgeResponse() {
	t := &e.receiving
	if t.State() != StateWaitForResponseAck || t.QQ() != e.primaryAddress {
		return
	}
	if t.IsResponseValid() {
		e.sendChar(ACK, true, 0)
		e.sendChar(SYN, false, 0)
		return
	}
	e.sendChar(NACK, true, 0)
}

// handleResponse answers a complete request addressed to our secondary address
func (e *Engine) handleResponse() {
	if e.receiving.State() != StateWaitForRequestAck || e.receiving.ZZ() != e.SecondaryAddress() {
		return
	}
	if !e.receiving.IsRequestValid() {
		e.log.Debug("request CRC mismatch", "qq", hexByte(e.receiving.QQ()))
		e.sendChar(NACK, true, 0)
		return
	}

	out := e.responseBuf[:]
	n := 0
	for _, handler := range e.handlers {
		clear(out)
		t := e.receiving
		n = handler(&t, out)
		if n > 0 {
			break
		}
	}

	if n <= 0 {
		e.sendChar(NACK, true, 0)
		return
	}
	if n >= MaxDataLength {
		e.log.Warn("response too long",
			"command", hexCommand(e.receiving.Command()),
			"length", n,
			"max", MaxDataLength-1)
		e.sendChar(NACK, true, 0)
		return
	}

	e.sendChar(ACK, true, 0)
	crc := e.sendChar(byte(n), true, 0)
	for _, b := range out[:n] {
		crc = e.sendChar(b, true, crc)
	}
	e.sendChar(crc, true, 0)
}

// sendChar transmits b, escaped when esc is set, and returns crc folded with
// the bytes placed on the wire
func (e *Engine) sendChar(b byte, esc bool, crc byte) byte {
	wire := []byte{b}
	if esc {
		wire = Escape(b)
	}
	if e.send != nil {
		e.send(wire)
	}
	for _, w := range wire {
		crc = CRC8(w, crc)
	}
	return crc
}
