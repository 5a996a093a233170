// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trc

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// oleEpoch is the origin of the OLE automation dates used by $STARTTIME.
var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Encoder writes CAN frames as TRC lines with absolute timestamps.
// Frames are numbered sequentially, starting at 1.
type Encoder struct {
	w   *bufio.Writer
	n   int
	err error
}

// NewEncoder returns a new Encoder that writes to w.
// Flush must be called once all frames have been encoded.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WriteHeader writes a TRC 1.1 header declaring the provided start time.
func (enc *Encoder) WriteHeader(start time.Time, comment string) error {
	days := start.Sub(oleEpoch).Hours() / 24
	enc.printf(";$FILEVERSION=1.1\n")
	enc.printf(";$STARTTIME=%.10f\n", days)
	enc.printf(";\n")
	enc.printf(";   Start time: %s\n", Stamp(start))
	if comment != "" {
		for _, line := range strings.Split(comment, "\n") {
			enc.printf(";   %s\n", line)
		}
	}
	enc.printf(";\n")
	enc.printf(";   Message Number\n")
	enc.printf(";   |         Timestamp\n")
	enc.printf(";   |         |                         Type\n")
	enc.printf(";   |         |                         |       ID (hex)\n")
	enc.printf(";   |         |                         |       |     Data Length\n")
	enc.printf(";---+--   ----+-------------------   --+--  ----+---  +  -+ -- -- -- -- -- -- --\n")
	if enc.err != nil {
		return fmt.Errorf("trc: could not write header: %w", enc.err)
	}
	return nil
}

// Encode writes the CAN frame rec.
func (enc *Encoder) Encode(rec *Record) error {
	if rec == nil {
		return nil
	}
	enc.n++

	dir := rec.Dir
	if dir == "" {
		dir = "Rx"
	}
	id := fmt.Sprintf("%04X", rec.ID)
	if rec.ID > 0x7ff {
		id = fmt.Sprintf("%08X", rec.ID)
	}
	data := make([]string, len(rec.Data))
	for i, v := range rec.Data {
		data[i] = fmt.Sprintf("%02X", v)
	}

	enc.printf("%6d)  %s  %-7s %4s  %d  %s\n",
		enc.n, Stamp(rec.Time), dir, id, len(rec.Data), strings.Join(data, " "),
	)
	if enc.err != nil {
		return fmt.Errorf("trc: could not write frame %d: %w", enc.n, enc.err)
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (enc *Encoder) Flush() error {
	if enc.err != nil {
		return enc.err
	}
	return enc.w.Flush()
}

func (enc *Encoder) printf(format string, args ...interface{}) {
	if enc.err != nil {
		return
	}
	_, enc.err = fmt.Fprintf(enc.w, format, args...)
}

// Merge merges the frames of several traces into a single time-ordered
// sequence. Traces sharing the same start time are considered to be
// duplicate captures and only the first one is kept.
// Frames are renumbered from 1.
func Merge(files ...File) []Record {
	type capture struct {
		key  time.Time
		recs []Record
	}

	caps := make([]capture, 0, len(files))
	for _, f := range files {
		key := f.Start
		if key.IsZero() && len(f.Records) > 0 {
			key = f.Records[0].Time
		}
		caps = append(caps, capture{key: key, recs: f.Records})
	}
	sort.SliceStable(caps, func(i, j int) bool {
		return caps[i].key.Before(caps[j].key)
	})

	var (
		seen = make(map[time.Time]bool, len(caps))
		out  []Record
	)
	for _, c := range caps {
		if seen[c.key] {
			continue
		}
		seen[c.key] = true
		out = append(out, c.recs...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	for i := range out {
		out[i].Seq = i + 1
	}
	return out
}
