// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cistern - Water Tank Controller Client
//
// A CLI tool for monitoring and controlling the ESP32 water tank
// controller over its WebSocket control port.

package main

import (
	"os"

	"github.com/Thermoquad/cistern/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
