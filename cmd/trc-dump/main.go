// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// trc-dump decodes and displays CAN frames from TRC trace files.
//
// Usage: trc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> trc-dump -dbc ./balancing.dbc ./run-001.trc
//	=== ./run-001.trc ===
//	start: 11-11-2025 05:03:30.0000
//	     1 11-11-2025 05:03:30.0000 Rx 0101 [8] E4 0C EE 0C 19 1E 00 00
//	       Voltage_Min = 3300
//	       Voltage_Max = 3310
//	[...]
//	frames: 8, skipped lines: 0
package main // import "github.com/go-lpc/cellbal/cmd/trc-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/cellbal/internal/mmap"
	"github.com/go-lpc/cellbal/sigdb"
	"github.com/go-lpc/cellbal/trc"
)

func main() {
	log.SetPrefix("trc-dump: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("could not dump traces: %+v", err)
	}
}

func xmain(w io.Writer, args []string) error {
	var (
		fset = flag.NewFlagSet("trc-dump", flag.ContinueOnError)
		dbc  = fset.String("dbc", "", "path to a DBC file to decode signals")
	)
	fset.SetOutput(w)

	fset.Usage = func() {
		fmt.Fprintf(w, `trc-dump decodes and displays CAN frames from TRC trace files.

Usage: trc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> trc-dump -dbc ./balancing.dbc ./run-001.trc

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return fmt.Errorf("could not parse input arguments: %w", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing path to input TRC file")
	}

	var schema *sigdb.Schema
	if *dbc != "" {
		schema, err = sigdb.Open(*dbc)
		if err != nil {
			return fmt.Errorf("could not load DBC file: %w", err)
		}
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, schema)
		if err != nil {
			return fmt.Errorf("could not dump file %q: %w", fname, err)
		}
	}
	return nil
}

func process(w io.Writer, fname string, schema *sigdb.Schema) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	fmt.Fprintf(wbuf, "=== %s ===\n", fname)

	var (
		dec = trc.NewDecoder(f.Reader())
		n   = 0
	)
loop:
	for {
		var rec trc.Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		if n == 0 {
			if start, ok := dec.Start(); ok {
				fmt.Fprintf(wbuf, "start: %s\n", trc.Stamp(start))
			}
		}
		n++

		fmt.Fprintf(wbuf, "% 6d %s %s %04X [%d] % X\n",
			rec.Seq, trc.Stamp(rec.Time), rec.Dir, rec.ID, len(rec.Data), rec.Data,
		)
		if schema == nil {
			continue
		}

		upd, err := schema.Decode(rec.ID, rec.Data)
		if err != nil {
			fmt.Fprintf(wbuf, "       error: %v\n", err)
			continue
		}
		for _, field := range upd {
			fmt.Fprintf(wbuf, "       %s = %s\n", field.Name, field.Value)
		}
	}

	fmt.Fprintf(wbuf, "frames: %d, skipped lines: %d\n", n, dec.Skipped())
	return nil
}
