// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trc

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func stamp(t *testing.T, v string) time.Time {
	t.Helper()
	o, err := time.Parse("02-01-2006 15:04:05.0000", v)
	if err != nil {
		t.Fatalf("could not parse %q: %+v", v, err)
	}
	return o
}

func TestDecoder(t *testing.T) {
	for _, tc := range []struct {
		name  string
		raw   string
		want  []Record
		skip  int
		start string
	}{
		{
			name: "absolute",
			raw: `;$FILEVERSION=2.0
;   Start time: 11-11-2025 05:03:30.502.0
;---+--   ----+----  --+--  ----+---  +  -+ -- -- -- -- -- -- --
     1)  11-11-2025 05:03:30.5026  Rx      0123  8  01 02 03 04 05 06 07 08
     2)  11-11-2025 05:03:30.503  Rx      0124  2  0A ff

     3)  garbage line
     4)  11-11-2025 05:03:30.6000  Rx      0125  8  01 02
     5)  11-11-2025 05:03:30.7000  Rx      0126  2  0G 01
     6)  11-11-2025 05:03:30.8000.3  Tx      18FF50E5  1  7F
     7)  31-02-2025 05:03:30.9000  Rx      0127  1  01
     8)  11-11-2025 05:03:31.0000  Rx      0100  0
`,
			want: []Record{
				{Seq: 1, Line: 4, Time: stamp(t, "11-11-2025 05:03:30.5026"), Dir: "Rx", ID: 0x123, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
				{Seq: 2, Line: 5, Time: stamp(t, "11-11-2025 05:03:30.5030"), Dir: "Rx", ID: 0x124, Data: []byte{0x0a, 0xff}},
				{Seq: 6, Line: 10, Time: stamp(t, "11-11-2025 05:03:30.8000"), Dir: "Tx", ID: 0x18ff50e5, Data: []byte{0x7f}},
				{Seq: 8, Line: 12, Time: stamp(t, "11-11-2025 05:03:31.0000"), Dir: "Rx", ID: 0x100, Data: []byte{}},
			},
			skip:  4,
			start: "11-11-2025 05:03:30.5020",
		},
		{
			name: "relative",
			raw: `;$FILEVERSION=1.1
;$STARTTIME=45972.2107
;   Start time: 11-11-2025 05:03:30.502.0
     1)      1000.5  Rx         0123  8  01 02 03 04 05 06 07 08
     2)      1010.6  Rx         0124  1  AA
     3)      1010.7  Rx         0124  3  AA
`,
			want: []Record{
				{Seq: 1, Line: 4, Time: stamp(t, "11-11-2025 05:03:30.5020"), Dir: "Rx", ID: 0x123, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
				{Seq: 2, Line: 5, Time: stamp(t, "11-11-2025 05:03:30.5121"), Dir: "Rx", ID: 0x124, Data: []byte{0xaa}},
			},
			skip:  1,
			start: "11-11-2025 05:03:30.5020",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				dec = NewDecoder(strings.NewReader(tc.raw))
				got []Record
			)
			for {
				var rec Record
				err := dec.Decode(&rec)
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					t.Fatalf("could not decode record: %+v", err)
				}
				got = append(got, rec)
			}

			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid records:\ngot= %+v\nwant=%+v", got, tc.want)
			}

			if got, want := dec.Skipped(), tc.skip; got != want {
				t.Fatalf("invalid number of skipped lines: got=%d, want=%d", got, want)
			}

			start, ok := dec.Start()
			if !ok {
				t.Fatalf("could not find start time")
			}
			if got, want := start, stamp(t, tc.start); !got.Equal(want) {
				t.Fatalf("invalid start time: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestReadAll(t *testing.T) {
	t.Run("no-frames", func(t *testing.T) {
		_, err := ReadAll(strings.NewReader(";$FILEVERSION=1.1\nnot a frame\n"))
		if !errors.Is(err, ErrNoRecords) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoRecords)
		}
	})

	t.Run("frames", func(t *testing.T) {
		f, err := ReadAll(strings.NewReader(
			"1)  11-11-2025 05:03:30.5026  Rx  0123  1  01\n" +
				"2)  11-11-2025 05:03:30.5027  Rx  0123  1  02\n",
		))
		if err != nil {
			t.Fatalf("could not read trace: %+v", err)
		}
		if got, want := len(f.Records), 2; got != want {
			t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
		}
		if !f.Start.IsZero() {
			t.Fatalf("invalid start time: got=%v, want=zero", f.Start)
		}
	})
}

func TestDecoderLongLines(t *testing.T) {
	const (
		frame1 = "1)  11-11-2025 05:03:30.5026  Rx  0123  1  01\n"
		frame2 = "2)  11-11-2025 05:03:30.5027  Rx  0123  1  02\n"
	)
	junk := strings.Repeat("x", 2<<20)

	for _, tc := range []struct {
		name  string
		raw   string
		lines []int
		skip  int
	}{
		{
			name:  "middle",
			raw:   frame1 + junk + "\n" + frame2,
			lines: []int{1, 3},
			skip:  1,
		},
		{
			name:  "last-line",
			raw:   frame1 + frame2 + junk,
			lines: []int{1, 2},
			skip:  1,
		},
		{
			name:  "consecutive",
			raw:   junk + "\n" + junk + "\r\n" + frame1 + frame2,
			lines: []int{3, 4},
			skip:  2,
		},
		{
			name:  "at-limit",
			raw:   frame1 + strings.Repeat("y", maxLine-1) + "\n" + frame2,
			lines: []int{1, 3},
			skip:  1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tc.raw))
			var lines []int
			for {
				var rec Record
				err := dec.Decode(&rec)
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					t.Fatalf("could not decode record: %+v", err)
				}
				lines = append(lines, rec.Line)
			}
			if !reflect.DeepEqual(lines, tc.lines) {
				t.Fatalf("invalid record lines: got=%v, want=%v", lines, tc.lines)
			}
			if got, want := dec.Skipped(), tc.skip; got != want {
				t.Fatalf("invalid number of skipped lines: got=%d, want=%d", got, want)
			}
		})
	}

	t.Run("read-error", func(t *testing.T) {
		boom := errors.New("boom")
		dec := NewDecoder(io.MultiReader(strings.NewReader(frame1), iotest.ErrReader(boom)))
		var rec Record
		err := dec.Decode(&rec)
		if err != nil {
			t.Fatalf("could not decode first record: %+v", err)
		}
		err = dec.Decode(&rec)
		if !errors.Is(err, boom) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, boom)
		}
	})
}

func TestParseStamp(t *testing.T) {
	for _, tc := range []struct {
		frac string
		want time.Duration
	}{
		{"", 0},
		{"5", 500 * time.Millisecond},
		{"502", 502 * time.Millisecond},
		{"5020", 502 * time.Millisecond},
		{"5026", 502*time.Millisecond + 600*time.Microsecond},
		{"502678", 502*time.Millisecond + 600*time.Microsecond},
	} {
		t.Run(tc.frac, func(t *testing.T) {
			got, err := parseStamp("11-11-2025", "05:03:30", tc.frac)
			if err != nil {
				t.Fatalf("could not parse stamp: %+v", err)
			}
			base := stamp(t, "11-11-2025 05:03:30.0000")
			if got, want := got.Sub(base), tc.want; got != want {
				t.Fatalf("invalid fraction: got=%v, want=%v", got, want)
			}
		})
	}

	_, err := parseStamp("11-13-2025", "05:03:30", "0000")
	if err == nil {
		t.Fatalf("expected an error for an invalid month")
	}
}
