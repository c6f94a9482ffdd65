// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

// telegramBase holds the request half shared by received telegrams and
// outgoing commands. Buffers store unescaped bytes; the rolling CRC is
// accumulated over the bytes as they appear on the wire.
type telegramBase struct {
	state          State
	request        [RequestBufferSize]byte
	requestPos     int
	requestCRC     byte
	waitForEscaped bool
}

func newTelegramBase(state State) telegramBase {
	t := telegramBase{state: state}
	fill(t.request[:], ESC)
	return t
}

func fill(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

// pushBuffer appends one raw bus byte to buf, resolving escape sequences.
// Bytes at or beyond maxPos (the CRC byte) are excluded from the rolling CRC.
func (t *telegramBase) pushBuffer(b byte, buf []byte, pos *int, crc *byte, maxPos int) {
	if t.waitForEscaped {
		// Second half of an escape sequence, the slot was taken by the ESC
		if *pos-1 < maxPos {
			*crc = CRC8(b, *crc)
		}
		if b == EscapedESC {
			buf[*pos-1] = ESC
		} else {
			buf[*pos-1] = SYN
		}
		t.waitForEscaped = false
		return
	}

	if *pos >= len(buf) {
		return
	}
	if *pos < maxPos {
		*crc = CRC8(b, *crc)
	}
	buf[*pos] = b
	*pos++
	t.waitForEscaped = b == ESC
}

// PushRequestData appends a raw bus byte to the request
func (t *telegramBase) PushRequestData(b byte) {
	t.pushBuffer(b, t.request[:], &t.requestPos, &t.requestCRC, OffsetData+t.NN())
}

// State returns the current state
func (t telegramBase) State() State {
	return t.state
}

func (t *telegramBase) setState(s State) {
	t.state = s
}

// IsFinished reports whether the state is terminal
func (t telegramBase) IsFinished() bool {
	return t.state.IsFinished()
}

// QQ returns the source address
func (t telegramBase) QQ() byte {
	return t.request[OffsetQQ]
}

// ZZ returns the destination address, ESC when none was received
func (t telegramBase) ZZ() byte {
	return t.request[OffsetZZ]
}

// PB returns the primary command byte
func (t telegramBase) PB() byte {
	return t.request[OffsetPB]
}

// SB returns the secondary command byte
func (t telegramBase) SB() byte {
	return t.request[OffsetSB]
}

// Command returns PB and SB as a 16-bit command
func (t telegramBase) Command() uint16 {
	return uint16(t.PB())<<8 | uint16(t.SB())
}

// DeclaredNN returns the NN byte as received
func (t telegramBase) DeclaredNN() byte {
	return t.request[OffsetNN]
}

// NN returns the request data length. Declared lengths of MaxDataLength or
// more are read as 0.
func (t telegramBase) NN() int {
	return clampLength(t.DeclaredNN())
}

func clampLength(nn byte) int {
	if nn >= MaxDataLength {
		return 0
	}
	return int(nn)
}

// RequestByte returns data byte i of the request
func (t telegramBase) RequestByte(i int) byte {
	return t.request[OffsetData+i]
}

// RequestData returns the request data received so far
func (t telegramBase) RequestData() []byte {
	end := OffsetData + t.NN()
	if t.requestPos < end {
		end = t.requestPos
	}
	if end <= OffsetData {
		return []byte{}
	}
	data := make([]byte, end-OffsetData)
	copy(data, t.request[OffsetData:end])
	return data
}

// RequestCRC returns the CRC byte carried by the request
func (t telegramBase) RequestCRC() byte {
	return t.request[OffsetData+t.NN()]
}

// RequestBytes returns the unescaped request bytes received so far
func (t telegramBase) RequestBytes() []byte {
	data := make([]byte, t.requestPos)
	copy(data, t.request[:t.requestPos])
	return data
}

// Type classifies the telegram by its destination address
func (t telegramBase) Type() TelegramType {
	return classify(t.ZZ())
}

// IsAckExpected reports whether the destination acknowledges the request
func (t telegramBase) IsAckExpected() bool {
	switch t.Type() {
	case TypePrimaryPrimary, TypePrimarySecondary:
		return true
	default:
		return false
	}
}

// IsResponseExpected reports whether the destination answers with data
func (t telegramBase) IsResponseExpected() bool {
	return t.Type() == TypePrimarySecondary
}

// IsRequestComplete reports whether NN data bytes and the CRC byte have been
// received with no escape sequence pending
func (t telegramBase) IsRequestComplete() bool {
	return t.requestPos > OffsetNN &&
		t.requestPos == OffsetData+t.NN()+1 &&
		!t.waitForEscaped
}

// IsRequestValid reports whether the request is complete and its CRC matches
func (t telegramBase) IsRequestValid() bool {
	return t.IsRequestComplete() && t.RequestCRC() == t.requestCRC
}

// Telegram is one request/response exchange observed on the bus
type Telegram struct {
	telegramBase
	response    [ResponseBufferSize]byte
	responsePos int
	responseCRC byte
}

// NewTelegram returns an empty telegram waiting for SYN
func NewTelegram() Telegram {
	t := Telegram{telegramBase: newTelegramBase(StateWaitForSyn)}
	fill(t.response[:], ESC)
	return t
}

// PushResponseData appends a raw bus byte to the response
func (t *Telegram) PushResponseData(b byte) {
	t.pushBuffer(b, t.response[:], &t.responsePos, &t.responseCRC, OffsetResponseData+t.ResponseNN())
}

// DeclaredResponseNN returns the response NN byte as received
func (t Telegram) DeclaredResponseNN() byte {
	return t.response[OffsetResponseNN]
}

// ResponseNN returns the response data length, clamped like NN
func (t Telegram) ResponseNN() int {
	return clampLength(t.DeclaredResponseNN())
}

// ResponseByte returns data byte i of the response
func (t Telegram) ResponseByte(i int) byte {
	return t.response[OffsetResponseData+i]
}

// ResponseData returns the response data received so far
func (t Telegram) ResponseData() []byte {
	end := OffsetResponseData + t.ResponseNN()
	if t.responsePos < end {
		end = t.responsePos
	}
	if end <= OffsetResponseData {
		return []byte{}
	}
	data := make([]byte, end-OffsetResponseData)
	copy(data, t.response[OffsetResponseData:end])
	return data
}

// ResponseCRC returns the CRC byte carried by the response
func (t Telegram) ResponseCRC() byte {
	return t.response[OffsetResponseData+t.ResponseNN()]
}

// ResponseBytes returns the unescaped response bytes received so far
func (t Telegram) ResponseBytes() []byte {
	data := make([]byte, t.responsePos)
	copy(data, t.response[:t.responsePos])
	return data
}

// IsResponseComplete reports whether the response NN, data and CRC bytes
// have been received with no escape sequence pending
func (t Telegram) IsResponseComplete() bool {
	return t.responsePos > OffsetResponseNN &&
		t.responsePos == OffsetResponseData+t.ResponseNN()+1 &&
		!t.waitForEscaped
}

// IsResponseValid reports whether the response is complete and its CRC matches
func (t Telegram) IsResponseValid() bool {
	return t.IsResponseComplete() && t.ResponseCRC() == t.responseCRC
}
