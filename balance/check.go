// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package balance checks the cell balancing behavior of a battery pack,
// as recorded in a CAN trace.
package balance // import "github.com/go-lpc/cellbal/balance"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/go-lpc/cellbal/sigdb"
	"github.com/go-lpc/cellbal/timeline"
	"github.com/go-lpc/cellbal/trc"
)

// RowResult is the verdict of a single trace row.
type RowResult struct {
	Index  int
	Time   time.Time
	Values []sigdb.Value // raw values of the report columns

	Requirement
	Active  []int
	Flag    bool
	Missing []int // required cells not being balanced
	Extra   []int // balanced cells not required

	Remarks []string // reasons of failure, empty when the row passes
}

// Pass reports whether the row complies.
func (r *RowResult) Pass() bool { return len(r.Remarks) == 0 }

// Remark returns the failure reasons joined with " | ", or "OK".
func (r *RowResult) Remark() string {
	if r.Pass() {
		return "OK"
	}
	return strings.Join(r.Remarks, " | ")
}

// Fail marks the row as failed with the provided reason.
// Reasons already attached to the row are not repeated.
func (r *RowResult) Fail(reason string) {
	for _, v := range r.Remarks {
		if v == reason {
			return
		}
	}
	r.Remarks = append(r.Remarks, reason)
}

// Report is the outcome of the compliance check of a trace.
type Report struct {
	Columns []string // names of the raw signals in RowResult.Values
	Rows    []RowResult
	Health  Health

	Skipped int // trace lines dropped by the reader
	Unknown int // records of messages unknown to the schema
	Invalid int // records whose payload could not be decoded

	Segments []Segment
}

// Pass reports whether every row complies.
func (rep *Report) Pass() bool { return rep.Failures() == 0 }

// Failures returns the number of failed rows.
func (rep *Report) Failures() int {
	n := 0
	for i := range rep.Rows {
		if !rep.Rows[i].Pass() {
			n++
		}
	}
	return n
}

// Result returns "PASS" or "FAIL".
func (rep *Report) Result() string {
	if rep.Pass() {
		return "PASS"
	}
	return "FAIL"
}

// Check decodes the trace read from r with the provided schema and
// checks its balancing behavior, row by row.
//
// Check fails when the trace holds no valid record. Malformed lines,
// unknown messages and undecodable payloads are only counted.
func Check(r io.Reader, schema *sigdb.Schema, lim Limits, sig Signals, msg *log.Logger) (*Report, error) {
	if schema == nil {
		return nil, fmt.Errorf("balance: no message schema")
	}
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}
	err := lim.Validate()
	if err != nil {
		return nil, err
	}
	err = sig.Validate()
	if err != nil {
		return nil, err
	}

	rep := &Report{Columns: sig.Columns()}

	tbl, err := decode(rep, r, schema)
	if err != nil {
		return nil, err
	}
	if rep.Skipped > 0 {
		msg.Printf("skipped %d malformed trace lines", rep.Skipped)
	}
	if rep.Unknown > 0 || rep.Invalid > 0 {
		msg.Printf("records: %d, unknown messages: %d, undecodable: %d", tbl.Len(), rep.Unknown, rep.Invalid)
	}

	rep.Health = Classify(tbl, lim, sig)
	if len(rep.Health.DeadCells) > 0 {
		msg.Printf("dead cells: %v", rep.Health.DeadCells)
	}
	if len(rep.Health.DeadSensors) > 0 {
		msg.Printf("dead sensors: %v", rep.Health.DeadSensors)
	}

	var (
		eval = NewEvaluator(lim, sig, rep.Health)
		fsm  = NewMachine(lim)
	)
	rep.Rows = make([]RowResult, tbl.Len())
	for i := range rep.Rows {
		row := tbl.Row(i)
		res := &rep.Rows[i]
		res.Index = i
		res.Time = row.Time()
		if i > 0 && res.Time.Before(rep.Rows[i-1].Time) {
			msg.Printf("row %d: time going backwards (%v -> %v)", i, rep.Rows[i-1].Time, res.Time)
		}

		vs, err := evaluate(res, row, eval, fsm, rep.Columns)
		if err != nil {
			msg.Printf("row %d: %+v", i, err)
			res.Fail(err.Error())
		}
		for _, v := range vs {
			rep.Rows[v.Row].Fail(v.Reason)
		}
	}
	for _, v := range fsm.Finish() {
		rep.Rows[v.Row].Fail(v.Reason)
	}
	rep.Segments = fsm.Segments()

	return rep, nil
}

func decode(rep *Report, r io.Reader, schema *sigdb.Schema) (*timeline.Table, error) {
	var (
		dec = trc.NewDecoder(r)
		bld = timeline.NewBuilder()
	)
	for {
		var rec trc.Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("balance: could not read trace: %w", err)
		}

		upd, err := schema.Decode(rec.ID, rec.Data)
		switch {
		case errors.Is(err, sigdb.ErrUnknownMessage):
			rep.Unknown++
		case err != nil:
			rep.Invalid++
		}
		bld.Append(rec.Time, upd)
	}
	rep.Skipped = dec.Skipped()

	tbl := bld.Table()
	if tbl.Len() == 0 {
		return nil, fmt.Errorf("balance: could not find any valid record: %w", trc.ErrNoRecords)
	}
	return tbl, nil
}

// evaluate fills res from row and advances the compliance machine.
// Panics are reported as errors so a single row never aborts the check.
func evaluate(res *RowResult, row timeline.Row, eval *Evaluator, fsm *Machine, cols []string) (vs []Violation, err error) {
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		err = fmt.Errorf("internal error: %v", e)
	}()

	res.Values = make([]sigdb.Value, len(cols))
	for i, name := range cols {
		res.Values[i], _ = row.Get(name)
	}

	res.Requirement = eval.Require(row)
	res.Active, res.Flag = eval.Active(row)
	res.Missing = diff(res.Cells, res.Active)
	res.Extra = diff(res.Active, res.Cells)

	return fsm.Advance(Step{
		Row:      res.Index,
		Time:     res.Time,
		Required: res.Cells,
		Active:   res.Active,
		Flag:     res.Flag,
	}), nil
}
