// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebus

// IsPrimary reports whether address may be used as the source of a telegram.
// Both nibbles of a primary address are one of 0x0, 0x1, 0x3, 0x7 or 0xF.
func IsPrimary(address byte) bool {
	return isPrimaryNibble(PriorityClass(address)) && isPrimaryNibble(SubAddress(address))
}

func isPrimaryNibble(nibble byte) bool {
	switch nibble {
	case 0x0, 0x1, 0x3, 0x7, 0xF:
		return true
	default:
		return false
	}
}

// PriorityClass returns the low nibble, compared during arbitration
func PriorityClass(address byte) byte {
	return address & 0x0F
}

// SubAddress returns the high nibble
func SubAddress(address byte) byte {
	return address >> 4
}

// ToSecondary maps a primary address to its default secondary address.
// Any other address is returned unchanged.
func ToSecondary(address byte) byte {
	if IsPrimary(address) {
		return byte((int(address) + 5) % 0xFF)
	}
	return address
}
