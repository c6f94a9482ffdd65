// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ebusstat - eBus Protocol Analyzer
//
// A CLI tool for monitoring eBus traffic, decoding telegrams and sending
// commands as a bus participant.

package main

import (
	"os"

	"github.com/Thermoquad/ebusstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
