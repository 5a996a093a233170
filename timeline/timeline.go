// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timeline merges sparse signal updates into a dense table
// where every signal holds its last known value.
package timeline // import "github.com/go-lpc/cellbal/timeline"

import (
	"sort"
	"time"

	"github.com/go-lpc/cellbal/sigdb"
)

// Table is an append-only, column-oriented table of signal values.
//
// Each column only stores the rows where its signal was updated.
// Values of the rows in between are carried forward from the last update.
// Rows already appended are never modified, so a Row is an immutable snapshot.
type Table struct {
	times []time.Time
	names []string // column names, in order of first appearance
	cols  map[string]*column
}

type column struct {
	rows []int // rows where the signal was updated, in increasing order
	vals []sigdb.Value
}

// at returns the value of the column at row i.
func (col *column) at(i int) (sigdb.Value, bool) {
	j := sort.Search(len(col.rows), func(j int) bool { return col.rows[j] > i })
	if j == 0 {
		return sigdb.Value{}, false
	}
	return col.vals[j-1], true
}

// Builder builds a Table, one row per accepted record.
type Builder struct {
	tbl *Table
}

// NewBuilder returns a builder for a new, empty table.
func NewBuilder() *Builder {
	return &Builder{
		tbl: &Table{cols: make(map[string]*column)},
	}
}

// Table returns the table under construction.
func (b *Builder) Table() *Table { return b.tbl }

// Append applies the update upd and appends a new row with time t.
// Invalid values in upd are ignored: a signal is never cleared.
func (b *Builder) Append(t time.Time, upd sigdb.Update) Row {
	var (
		tbl = b.tbl
		i   = len(tbl.times)
	)
	tbl.times = append(tbl.times, t)
	for _, f := range upd {
		if !f.Value.IsValid() {
			continue
		}
		col, ok := tbl.cols[f.Name]
		if !ok {
			col = new(column)
			tbl.cols[f.Name] = col
			tbl.names = append(tbl.names, f.Name)
		}
		if n := len(col.rows); n > 0 && col.rows[n-1] == i {
			col.vals[n-1] = f.Value
			continue
		}
		col.rows = append(col.rows, i)
		col.vals = append(col.vals, f.Value)
	}
	return Row{tbl: tbl, i: i}
}

// Len returns the number of rows.
func (tbl *Table) Len() int { return len(tbl.times) }

// Row returns the i-th row.
func (tbl *Table) Row(i int) Row {
	if i < 0 || i >= len(tbl.times) {
		panic("timeline: row index out of range")
	}
	return Row{tbl: tbl, i: i}
}

// Names returns the names of the signals seen so far, sorted.
func (tbl *Table) Names() []string {
	o := make([]string, len(tbl.names))
	copy(o, tbl.names)
	sort.Strings(o)
	return o
}

// Floats returns the numeric values of the signal name for every row.
// Rows where the signal is absent or not numeric hold fill.
func (tbl *Table) Floats(name string, fill float64) []float64 {
	o := make([]float64, len(tbl.times))
	for i := range o {
		o[i] = fill
	}
	col, ok := tbl.cols[name]
	if !ok {
		return o
	}
	for j, beg := range col.rows {
		end := len(o)
		if j+1 < len(col.rows) {
			end = col.rows[j+1]
		}
		v, ok := col.vals[j].Float()
		if !ok {
			continue
		}
		for i := beg; i < end; i++ {
			o[i] = v
		}
	}
	return o
}

// Row is a snapshot of all the signal values at a given record.
type Row struct {
	tbl *Table
	i   int
}

// Index returns the index of the row in its table.
func (row Row) Index() int { return row.i }

// Time returns the timestamp of the row.
func (row Row) Time() time.Time { return row.tbl.times[row.i] }

// Get returns the last known value of the signal name.
// Get returns false if the signal was not seen yet.
func (row Row) Get(name string) (sigdb.Value, bool) {
	col, ok := row.tbl.cols[name]
	if !ok {
		return sigdb.Value{}, false
	}
	return col.at(row.i)
}

// Float returns the last known numeric value of the signal name.
func (row Row) Float(name string) (float64, bool) {
	v, ok := row.Get(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Values returns a copy of all the signal values known at this row.
func (row Row) Values() map[string]sigdb.Value {
	o := make(map[string]sigdb.Value, len(row.tbl.names))
	for _, name := range row.tbl.names {
		v, ok := row.tbl.cols[name].at(row.i)
		if !ok {
			continue
		}
		o[name] = v
	}
	return o
}
