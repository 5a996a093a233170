// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trc

import (
	"bufio"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

var (
	// N)  DD-MM-YYYY HH:MM:SS.ffff[.x]  Dir  ID  DLC  b0 b1 ...
	absFrame = regexp.MustCompile(
		`^(\d+)\)\s+(\d{2}-\d{2}-\d{4})\s+(\d{2}:\d{2}:\d{2})\.(\d{3,4})(?:\.\d+)?\s+(\w+)\s+([0-9A-Fa-f]+)\s+(\d+)(?:\s+(.*))?$`,
	)

	// N)  OFFSET_MS  Dir  ID  DLC  b0 b1 ...
	relFrame = regexp.MustCompile(
		`^(\d+)\)?\s+(\d+(?:\.\d+)?)\s+([A-Za-z]+)\s+([0-9A-Fa-f]+)\s+(\d+)(?:\s+(.*))?$`,
	)

	startTime = regexp.MustCompile(
		`Start time:\s*(\d{2}-\d{2}-\d{4})\s+(\d{2}:\d{2}:\d{2})(?:\.(\d+))?`,
	)
)

// Decoder reads CAN frames from a TRC trace.
//
// Lines that do not look like a CAN frame are silently dropped and
// accounted for in Skipped. Comment lines (starting with ';') are
// scanned for the trace start time.
type Decoder struct {
	r    *bufio.Reader
	line int
	skip int

	start    time.Time
	hasStart bool

	off0   float64 // offset of the first relative frame, in ms
	hasOff bool
}

// maxLine is the longest line considered as a CAN frame.
// Longer lines are dropped.
const maxLine = 64 * 1024

// NewDecoder creates a decoder that reads TRC lines from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, maxLine)}
}

// Skipped returns the number of malformed lines dropped so far.
func (dec *Decoder) Skipped() int { return dec.skip }

// Start returns the start time declared in the trace header, if any
// has been read so far.
func (dec *Decoder) Start() (time.Time, bool) { return dec.start, dec.hasStart }

// Decode reads the next valid CAN frame into rec.
// Decode returns io.EOF when the trace is exhausted.
func (dec *Decoder) Decode(rec *Record) error {
	for {
		raw, long, err := dec.readLine()
		if len(raw) > 0 || long {
			dec.line++
			if dec.parse(raw, long, rec) {
				return nil
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return io.EOF
		default:
			return xerrors.Errorf("trc: could not read line %d: %w", dec.line+1, err)
		}
	}
}

// parse handles a line, reporting whether it filled rec.
func (dec *Decoder) parse(raw []byte, long bool, rec *Record) bool {
	if long {
		dec.skip++
		return false
	}
	line := strings.TrimSpace(string(raw))
	switch {
	case line == "":
		return false
	case line[0] == ';':
		dec.header(line)
		return false
	}

	if dec.frame(line, rec) {
		return true
	}
	dec.skip++
	return false
}

// readLine returns the next line of the trace.
// The content of lines longer than maxLine is discarded and long is set.
func (dec *Decoder) readLine() (line []byte, long bool, err error) {
	for {
		frag, err := dec.r.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			long = true
		case long:
			return nil, true, err
		default:
			return frag, false, err
		}
	}
}

func (dec *Decoder) header(line string) {
	if dec.hasStart {
		return
	}
	m := startTime.FindStringSubmatch(line)
	if m == nil {
		return
	}
	t, err := parseStamp(m[1], m[2], m[3])
	if err != nil {
		return
	}
	dec.start = t
	dec.hasStart = true
}

func (dec *Decoder) frame(line string, rec *Record) bool {
	if m := absFrame.FindStringSubmatch(line); m != nil {
		t, err := parseStamp(m[2], m[3], m[4])
		if err != nil {
			return false
		}
		return dec.fill(rec, t, m[1], m[5], m[6], m[7], m[8])
	}

	if m := relFrame.FindStringSubmatch(line); m != nil {
		off, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return false
		}
		if !dec.hasOff {
			dec.off0 = off
			dec.hasOff = true
		}
		delta := time.Duration(math.Round((off-dec.off0)*1e3)) * time.Microsecond
		return dec.fill(rec, dec.start.Add(delta), m[1], m[3], m[4], m[5], m[6])
	}

	return false
}

func (dec *Decoder) fill(rec *Record, t time.Time, seq, dir, id, dlc, payload string) bool {
	n, err := strconv.Atoi(seq)
	if err != nil {
		return false
	}
	cid, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return false
	}
	size, err := strconv.Atoi(dlc)
	if err != nil {
		return false
	}

	toks := strings.Fields(payload)
	if size > len(toks) {
		return false
	}

	data := make([]byte, size)
	for i, tok := range toks[:size] {
		if len(tok) > 2 {
			return false
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return false
		}
		data[i] = byte(v)
	}

	*rec = Record{
		Seq:  n,
		Line: dec.line,
		Time: t,
		Dir:  dir,
		ID:   uint32(cid),
		Data: data,
	}
	return true
}

// parseStamp parses a DD-MM-YYYY date, a HH:MM:SS clock and a decimal
// fraction of a second. The fraction is normalized to the TRC resolution:
// "502" and "5020" both read as 502.0ms.
func parseStamp(date, clock, frac string) (time.Time, error) {
	t, err := time.Parse("02-01-2006 15:04:05", date+" "+clock)
	if err != nil {
		return t, xerrors.Errorf("trc: invalid timestamp %q: %w", date+" "+clock, err)
	}

	const digits = 4
	switch {
	case len(frac) > digits:
		frac = frac[:digits]
	case len(frac) < digits:
		frac += strings.Repeat("0", digits-len(frac))
	}
	n, err := strconv.Atoi(frac)
	if err != nil {
		return t, xerrors.Errorf("trc: invalid sub-second fraction %q: %w", frac, err)
	}

	return t.Add(time.Duration(n) * Resolution), nil
}

// ReadAll reads all the CAN frames from r.
// ReadAll returns ErrNoRecords if r does not hold any valid frame.
func ReadAll(r io.Reader) (File, error) {
	var (
		f   File
		dec = NewDecoder(r)
	)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err != nil {
			if xerrors.Is(err, io.EOF) {
				break
			}
			return f, err
		}
		f.Records = append(f.Records, rec)
	}
	f.Start, _ = dec.Start()

	if len(f.Records) == 0 {
		return f, ErrNoRecords
	}
	return f, nil
}
