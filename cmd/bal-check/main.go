// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bal-check checks the cell balancing behavior recorded
// in CAN traces.
//
// For each trace FILE.trc, bal-check writes:
//   - FILE-balancing.txt: the row by row table,
//   - FILE-balancing_results.json: the overall verdict,
//   - FILE-balancing_summary.json: counts, failures and segment durations.
//
// bal-check exits with status 1 when any trace fails.
//
// Usage: bal-check [OPTIONS] FILE.trc [FILE.trc ...]
//
// Example:
//
//	$> bal-check -dbc ./balancing.dbc -o ./out ./run-001.trc ./run-002.trc
//	bal-check: limits: defaults
//	bal-check: run-001.trc: PASS (0/2048 rows failed)
//	bal-check: run-002.trc: FAIL (3/1873 rows failed)
//	bal-check: 1/2 traces failed
package main // import "github.com/go-lpc/cellbal/cmd/bal-check"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-lpc/cellbal"
	"github.com/go-lpc/cellbal/balance"
	"github.com/go-lpc/cellbal/conddb"
	"github.com/go-lpc/cellbal/internal/mmap"
	"github.com/go-lpc/cellbal/internal/report"
	"github.com/go-lpc/cellbal/sigdb"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var errFail = errors.New("balancing check failed")

func main() {
	log.SetPrefix("bal-check: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, errFail):
		log.Printf("%v", err)
		os.Exit(1)
	default:
		log.Fatalf("could not check traces: %+v", err)
	}
}

type config struct {
	dbc    string
	limits string
	driver string
	dsn    string
	name   string
	odir   string
	njobs  int
	table  bool
	pmon   bool
	freq   time.Duration
	mail   string
}

func xmain(w io.Writer, args []string) error {
	var (
		cfg  config
		fset = flag.NewFlagSet("bal-check", flag.ContinueOnError)
	)
	fset.SetOutput(w)

	fset.StringVar(&cfg.dbc, "dbc", "balancing.dbc", "path to the DBC file describing the BMS messages")
	fset.StringVar(&cfg.limits, "limits", "", "path to a JSON file holding the balancing limits")
	fset.StringVar(&cfg.driver, "db-driver", "mysql", "condition DB driver (mysql, sqlite)")
	fset.StringVar(&cfg.dsn, "db", "", "condition DB data source name holding the balancing limits")
	fset.StringVar(&cfg.name, "limits-name", "", "name of the limits set in the condition DB (default: latest)")
	fset.StringVar(&cfg.odir, "o", "", "output directory (default: directory of each trace)")
	fset.IntVar(&cfg.njobs, "j", runtime.NumCPU(), "number of traces checked concurrently")
	fset.BoolVar(&cfg.table, "table", false, "display the row table of each trace")
	fset.BoolVar(&cfg.pmon, "pmon", false, "enable process monitoring")
	fset.DurationVar(&cfg.freq, "pmon-freq", 1*time.Second, "process monitoring frequency")
	fset.StringVar(&cfg.mail, "mail", "", "path to a JSON mail configuration to notify failures")
	version := fset.Bool("version", false, "display version and exit")

	fset.Usage = func() {
		fmt.Fprintf(w, `bal-check checks the cell balancing behavior recorded in CAN traces.

Usage: bal-check [OPTIONS] FILE.trc [FILE.trc ...]

Example:

 $> bal-check -dbc ./balancing.dbc -o ./out ./run-001.trc ./run-002.trc

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return fmt.Errorf("could not parse input arguments: %w", err)
	}

	if *version {
		v, sum := cellbal.Version()
		fmt.Fprintf(w, "bal-check %s %s\n", v, sum)
		return nil
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing input trace file")
	}

	if cfg.njobs <= 0 {
		return fmt.Errorf("invalid number of concurrent jobs (%d)", cfg.njobs)
	}

	return process(w, cfg, fset.Args())
}

func process(w io.Writer, cfg config, fnames []string) error {
	msg := log.New(w, "bal-check: ", 0)

	if cfg.pmon {
		stop, err := monitor(cfg, msg)
		if err != nil {
			return fmt.Errorf("could not start process monitoring: %w", err)
		}
		defer stop()
	}

	schema, err := sigdb.Open(cfg.dbc)
	if err != nil {
		return fmt.Errorf("could not load DBC file: %w", err)
	}

	lim, err := loadLimits(cfg, msg)
	if err != nil {
		return fmt.Errorf("could not load balancing limits: %w", err)
	}

	var mailer *report.Mailer
	if cfg.mail != "" {
		mailer, err = loadMailer(cfg.mail)
		if err != nil {
			return fmt.Errorf("could not load mail configuration: %w", err)
		}
	}

	var (
		grp  errgroup.Group
		reps = make([]*balance.Report, len(fnames))
		sig  = balance.DefaultSignals()
	)
	grp.SetLimit(cfg.njobs)

	for i := range fnames {
		i := i
		fname := fnames[i]
		grp.Go(func() error {
			rep, err := check(fname, cfg.odir, schema, lim, sig, msg)
			if err != nil {
				return fmt.Errorf("could not check %q: %w", fname, err)
			}
			reps[i] = rep

			msg.Printf("%s: %s (%d/%d rows failed)",
				filepath.Base(fname), rep.Result(), rep.Failures(), len(rep.Rows),
			)

			if mailer != nil && !rep.Pass() {
				err := mailer.Send(filepath.Base(fname), rep)
				if err != nil {
					msg.Printf("could not send mail alert: %+v", err)
				}
			}
			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		return err
	}

	nfail := 0
	for i, rep := range reps {
		if cfg.table {
			fmt.Fprintf(w, "=== %s ===\n", fnames[i])
			err = report.WriteTable(w, rep)
			if err != nil {
				return fmt.Errorf("could not display table of %q: %w", fnames[i], err)
			}
		}
		if !rep.Pass() {
			nfail++
		}
	}

	if nfail > 0 {
		return fmt.Errorf("%d/%d traces failed: %w", nfail, len(reps), errFail)
	}
	return nil
}

func check(fname, odir string, schema *sigdb.Schema, lim balance.Limits, sig balance.Signals, msg *log.Logger) (*balance.Report, error) {
	f, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open trace: %w", err)
	}
	defer f.Close()

	rep, err := balance.Check(f.Reader(), schema, lim, sig, msg)
	if err != nil {
		return nil, fmt.Errorf("could not check trace: %w", err)
	}

	if odir == "" {
		odir = filepath.Dir(fname)
	}
	stem := filepath.Join(odir, strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname)))

	for _, out := range []struct {
		name  string
		write func(io.Writer, *balance.Report) error
	}{
		{stem + "-balancing.txt", report.WriteTable},
		{stem + "-balancing_results.json", report.WriteResults},
		{stem + "-balancing_summary.json", report.WriteSummary},
	} {
		err = write(out.name, rep, out.write)
		if err != nil {
			return nil, err
		}
	}

	return rep, nil
}

func write(fname string, rep *balance.Report, fct func(io.Writer, *balance.Report) error) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	err = fct(f, rep)
	if err != nil {
		return fmt.Errorf("could not write %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", fname, err)
	}
	return nil
}

func loadLimits(cfg config, msg *log.Logger) (balance.Limits, error) {
	switch {
	case cfg.limits != "":
		f, err := os.Open(cfg.limits)
		if err != nil {
			return balance.Limits{}, fmt.Errorf("could not open limits file: %w", err)
		}
		defer f.Close()

		msg.Printf("limits: %s", cfg.limits)
		return balance.LoadLimits(f)

	case cfg.dsn != "":
		db, err := conddb.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return balance.Limits{}, fmt.Errorf("could not open condition db: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		name := cfg.name
		if name == "" {
			name, err = db.LastLimitsName(ctx)
			if err != nil {
				return balance.Limits{}, fmt.Errorf("could not find last limits set: %w", err)
			}
		}
		msg.Printf("limits: %s (%s)", name, cfg.driver)
		return db.Limits(ctx, name)
	}

	msg.Printf("limits: defaults")
	return balance.DefaultLimits(), nil
}

func loadMailer(fname string) (*report.Mailer, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open mail configuration: %w", err)
	}
	defer f.Close()

	return report.LoadMailer(f)
}

func monitor(cfg config, msg *log.Logger) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", pid, err)
	}

	odir := cfg.odir
	if odir == "" {
		odir = "."
	}
	f, err := os.Create(filepath.Join(odir, "bal-check-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = cfg.freq

	go func() {
		err := p.Run()
		if err != nil {
			msg.Printf("could not run process monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			msg.Printf("could not stop process monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
