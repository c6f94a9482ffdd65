// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

const crcPolynomial = 0x9B

// CRC8 folds one byte into the running eBus CRC and returns the new value
func CRC8(data byte, crc byte) byte {
	for i := 0; i < 8; i++ {
		var polynomial byte
		if crc&0x80 != 0 {
			polynomial = crcPolynomial
		}
		crc = (crc &^ 0x80) << 1
		if data&0x80 != 0 {
			crc |= 1
		}
		crc ^= polynomial
		data <<= 1
	}
	return crc
}

// CRC8Slice computes the eBus CRC of data starting from 0
func CRC8Slice(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = CRC8(b, crc)
	}
	return crc
}

// crc8Escaped folds b into crc the way it appears on the wire, i.e. as the
// two byte escape sequence when b is SYN or ESC.
func crc8Escaped(b byte, crc byte) byte {
	for _, w := range Escape(b) {
		crc = CRC8(w, crc)
	}
	return crc
}

// Escape returns the wire representation of a single data byte
func Escape(b byte) []byte {
	switch b {
	case ESC:
		return []byte{ESC, EscapedESC}
	case SYN:
		return []byte{ESC, EscapedSYN}
	default:
		return []byte{b}
	}
}

// EscapeBytes applies byte stuffing to every byte of data
func EscapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		result = append(result, Escape(b)...)
	}
	return result
}
