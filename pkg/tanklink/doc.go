// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tanklink connects to a water tank controller and keeps a single
// reconciled tankproto.State up to date.
//
// A Session owns one event loop goroutine. The Link (socket owner), the
// Supervisor (retry policy) and the discovery scan all report into that
// loop; it is the only writer of the state and publishes versioned
// snapshots through a Store to any number of readers.
package tanklink
