// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trc holds functions to read and write PCAN TRC traces of CAN frames.
package trc // import "github.com/go-lpc/cellbal/trc"

import (
	"errors"
	"fmt"
	"time"
)

// Resolution is the time resolution of TRC timestamps.
const Resolution = 100 * time.Microsecond

// ErrNoRecords is returned when a trace does not hold any valid CAN frame.
var ErrNoRecords = errors.New("trc: no CAN frames detected")

// Record is a single CAN frame read from a trace.
type Record struct {
	Seq  int       // message number, as written in the trace
	Line int       // 1-based line number in the trace
	Time time.Time // absolute timestamp
	Dir  string    // direction/type marker (Rx, Tx, ...)
	ID   uint32    // CAN identifier
	Data []byte    // payload, DLC bytes
}

// File is a decoded trace.
type File struct {
	Start   time.Time // start time from the trace header, if any
	Records []Record
}

// Stamp formats t the way TRC files display absolute timestamps,
// with a 100µs resolution.
func Stamp(t time.Time) string {
	frac := t.Nanosecond() / int(Resolution)
	return fmt.Sprintf("%s.%04d", t.Format("02-01-2006 15:04:05"), frac)
}
