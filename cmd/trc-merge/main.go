// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trc-merge merges several TRC captures into a single
// time-ordered TRC file with absolute timestamps.
//
// Captures sharing the same start time are considered duplicates:
// only the first one is kept.
//
// Usage: trc-merge [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> trc-merge -o merged.trc ./run-001-a.trc ./run-001-b.trc
//	trc-merge: read 2048 frames from "./run-001-a.trc"
//	trc-merge: read 1024 frames from "./run-001-b.trc"
//	trc-merge: wrote 3072 frames to "merged.trc"
package main // import "github.com/go-lpc/cellbal/cmd/trc-merge"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/cellbal/internal/mmap"
	"github.com/go-lpc/cellbal/trc"
)

func main() {
	log.SetPrefix("trc-merge: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("could not merge traces: %+v", err)
	}
}

func xmain(w io.Writer, args []string) error {
	var (
		fset  = flag.NewFlagSet("trc-merge", flag.ContinueOnError)
		oname = fset.String("o", "merged.trc", "path to output TRC file")
	)
	fset.SetOutput(w)

	fset.Usage = func() {
		fmt.Fprintf(w, `Usage: trc-merge [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

ex:
 $> trc-merge -o merged.trc ./run-001-a.trc ./run-001-b.trc

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return fmt.Errorf("could not parse input arguments: %w", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing input TRC file")
	}

	if *oname == "" {
		fset.Usage()
		return fmt.Errorf("invalid output TRC file")
	}

	msg := log.New(w, "trc-merge: ", 0)
	return process(msg, *oname, fset.Args())
}

func process(msg *log.Logger, oname string, fnames []string) error {
	files := make([]trc.File, 0, len(fnames))
	for _, fname := range fnames {
		f, err := read(fname)
		if err != nil {
			return fmt.Errorf("could not read %q: %w", fname, err)
		}
		msg.Printf("read %d frames from %q", len(f.Records), fname)
		files = append(files, f)
	}

	recs := trc.Merge(files...)
	start := recs[0].Time
	for _, f := range files {
		if !f.Start.IsZero() && f.Start.Before(start) {
			start = f.Start
		}
	}

	o, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer o.Close()

	names := make([]string, len(fnames))
	for i, fname := range fnames {
		names[i] = filepath.Base(fname)
	}

	enc := trc.NewEncoder(o)
	err = enc.WriteHeader(start, "merged from: "+strings.Join(names, ", "))
	if err != nil {
		return fmt.Errorf("could not write header: %w", err)
	}
	for i := range recs {
		err = enc.Encode(&recs[i])
		if err != nil {
			return fmt.Errorf("could not encode frame: %w", err)
		}
	}
	err = enc.Flush()
	if err != nil {
		return fmt.Errorf("could not flush output file: %w", err)
	}

	err = o.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}

	msg.Printf("wrote %d frames to %q", len(recs), oname)
	return nil
}

func read(fname string) (trc.File, error) {
	f, err := mmap.Open(fname)
	if err != nil {
		return trc.File{}, err
	}
	defer f.Close()

	return trc.ReadAll(f.Reader())
}
