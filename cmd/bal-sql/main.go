// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bal-sql inspects and stores the balancing limits sets held
// in the condition database.
//
// Usage: bal-sql [OPTIONS]
//
// Example:
//
//	$> bal-sql -db-driver sqlite -db ./cond.db -init -store ./limits.json -name v2 -comment "new firmware"
//	$> bal-sql -db-driver sqlite -db ./cond.db
//	limits sets:
//	 - v1       2025-11-10 10:00:00.000000000  factory
//	 - v2       2025-11-11 10:00:00.000000000  new firmware
//	=== v2 ===
//	charging codes:     [1 17 33]
//	[...]
package main // import "github.com/go-lpc/cellbal/cmd/bal-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/go-lpc/cellbal/balance"
	"github.com/go-lpc/cellbal/conddb"
)

func main() {
	log.SetPrefix("bal-sql: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("could not run bal-sql: %+v", err)
	}
}

func xmain(w io.Writer, args []string) error {
	var (
		fset = flag.NewFlagSet("bal-sql", flag.ContinueOnError)

		drv     = fset.String("db-driver", "mysql", "condition DB driver (mysql, sqlite)")
		dsn     = fset.String("db", "", "condition DB data source name")
		name    = fset.String("name", "", "name of the limits set to display or store (default: latest)")
		doInit  = fset.Bool("init", false, "create the limits tables")
		store   = fset.String("store", "", "path to a JSON limits file to store under -name")
		comment = fset.String("comment", "", "comment of the stored limits set")
	)
	fset.SetOutput(w)

	fset.Usage = func() {
		fmt.Fprintf(w, `Usage: bal-sql [OPTIONS]

ex:
 $> bal-sql -db-driver sqlite -db ./cond.db -init -store ./limits.json -name v2
 $> bal-sql -db-driver sqlite -db ./cond.db

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return fmt.Errorf("could not parse input arguments: %w", err)
	}

	if *dsn == "" {
		fset.Usage()
		return fmt.Errorf("missing condition DB data source name")
	}

	if *store != "" && *name == "" {
		fset.Usage()
		return fmt.Errorf("missing name of the limits set to store")
	}

	db, err := conddb.Open(*drv, *dsn)
	if err != nil {
		return fmt.Errorf("could not open condition db: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if *doInit {
		err = db.Init(ctx)
		if err != nil {
			return fmt.Errorf("could not initialize condition db: %w", err)
		}
	}

	if *store != "" {
		err = storeLimits(ctx, db, *store, *name, *comment)
		if err != nil {
			return fmt.Errorf("could not store limits %q: %w", *name, err)
		}
		fmt.Fprintf(w, "stored limits %q from %q\n", *name, *store)
		return db.Close()
	}

	err = display(ctx, w, db, *name)
	if err != nil {
		return err
	}

	return db.Close()
}

func storeLimits(ctx context.Context, db *conddb.DB, fname, name, comment string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open limits file: %w", err)
	}
	defer f.Close()

	lim, err := balance.LoadLimits(f)
	if err != nil {
		return fmt.Errorf("could not load limits file: %w", err)
	}

	return db.Store(ctx, name, comment, lim)
}

func display(ctx context.Context, w io.Writer, db *conddb.DB, name string) error {
	sets, err := db.LimitSets(ctx)
	if err != nil {
		return fmt.Errorf("could not list limits sets: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "limits sets:\n")
	for _, set := range sets {
		fmt.Fprintf(tw, " - %s\t%s\t%s\n", set.Name, set.Created, set.Comment)
	}
	err = tw.Flush()
	if err != nil {
		return fmt.Errorf("could not display limits sets: %w", err)
	}

	if name == "" {
		if len(sets) == 0 {
			return nil
		}
		name, err = db.LastLimitsName(ctx)
		if err != nil {
			return fmt.Errorf("could not find last limits set: %w", err)
		}
	}

	lim, err := db.Limits(ctx, name)
	if err != nil {
		return fmt.Errorf("could not retrieve limits %q: %w", name, err)
	}

	fmt.Fprintf(w, "=== %s ===\n", name)
	printLimits(w, lim)
	return nil
}

func printLimits(w io.Writer, lim balance.Limits) {
	fmt.Fprintf(w, "charging codes:     %v\n", lim.ChargingCodes)
	fmt.Fprintf(w, "charging threshold: %v\n", lim.ChargingThreshold)
	fmt.Fprintf(w, "discharge bands:\n")
	for _, b := range lim.Bands {
		fmt.Fprintf(w, "  SoC [%v, %v): %v\n", b.Low, b.High, b.Threshold)
	}
	fmt.Fprintf(w, "temperature limit:  %v\n", lim.TempLimit)
	fmt.Fprintf(w, "dead cell floor:    %v\n", lim.DeadCellFloor)
	fmt.Fprintf(w, "dead sensor floor:  %v\n", lim.DeadSensorFloor)
	fmt.Fprintf(w, "activation grace:   %v\n", lim.ActivationGrace)
	fmt.Fprintf(w, "mismatch grace:     %v\n", lim.MismatchGrace)
	fmt.Fprintf(w, "alternating grace:  %v\n", lim.AlternatingGrace)
	fmt.Fprintf(w, "segment max:        %v\n", lim.SegmentMax)
	fmt.Fprintf(w, "rest combined max:  %v\n", lim.RestCombinedMax)
	fmt.Fprintf(w, "rest normal max:    %v\n", lim.RestNormalMax)
	fmt.Fprintf(w, "gap reset:          %v\n", lim.GapReset)
}
