// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

import (
	"fmt"
	"strings"
	"time"
)

// Well-known commands (PB<<8 | SB)
const (
	CmdDateTime       uint16 = 0x0700
	CmdIdentification uint16 = 0x0704
	CmdErrorMessage   uint16 = 0xFE01
	CmdRegisterRead   uint16 = 0xB509
)

// FormatTelegram formats a finished telegram into a human-readable string
func FormatTelegram(t Telegram, ts time.Time) string {
	timestamp := ts.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s %s %02X -> %02X cmd=%s nn=%d",
		timestamp, FormatType(t.Type()), FormatState(t.State()),
		t.QQ(), t.ZZ(), FormatCommand(t.Command()), t.NN())
	if t.DeclaredNN() != byte(t.NN()) {
		result += fmt.Sprintf(" (declared %02X)", t.DeclaredNN())
	}
	if t.NN() > 0 {
		result += fmt.Sprintf(" data=[%s]", FormatHex(t.RequestData()))
	}
	if t.IsRequestComplete() && !t.IsRequestValid() {
		result += " CRC!"
	}
	result += "\n"

	if t.responsePos > 0 {
		result += fmt.Sprintf("  response nn=%d data=[%s]", t.ResponseNN(), FormatHex(t.ResponseData()))
		if t.IsResponseComplete() && !t.IsResponseValid() {
			result += " CRC!"
		}
		result += "\n"
	}

	return result
}

// FormatState returns the upper-case name used in telegram lines
func FormatState(s State) string {
	switch s {
	case StateEndCompleted:
		return "OK"
	case StateEndSendFailed:
		return "SEND_FAILED"
	case StateEndArbitration:
		return "ARBITRATION"
	case StateEndErrorUnexpectedSyn:
		return "UNEXPECTED_SYN"
	case StateEndErrorRequestNackReceived:
		return "REQUEST_NACK"
	case StateEndErrorResponseNackReceived:
		return "RESPONSE_NACK"
	case StateEndErrorResponseNoAck:
		return "RESPONSE_NO_ACK"
	case StateEndErrorRequestNoAck:
		return "REQUEST_NO_ACK"
	default:
		return strings.ToUpper(s.String())
	}
}

// FormatType returns the name of a telegram type
func FormatType(t TelegramType) string {
	return t.String()
}

// FormatCommand renders a command as PBSB hex, followed by its name when known
func FormatCommand(command uint16) string {
	name := CommandName(command)
	if name == "" {
		return hexCommand(command)
	}
	return fmt.Sprintf("%s (%s)", hexCommand(command), name)
}

// CommandName returns the name of a well-known command, or "" if unknown
func CommandName(command uint16) string {
	switch command {
	case CmdDateTime:
		return "DATE_TIME"
	case CmdIdentification:
		return "IDENTIFICATION"
	case CmdErrorMessage:
		return "ERROR_MESSAGE"
	case CmdRegisterRead:
		return "REGISTER_READ"
	default:
		return ""
	}
}

// FormatHex renders bytes as space-separated upper-case hex
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func hexByte(b byte) string {
	return fmt.Sprintf("%02X", b)
}

func hexCommand(command uint16) string {
	return fmt.Sprintf("%04X", command)
}
