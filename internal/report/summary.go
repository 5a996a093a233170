// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/go-lpc/cellbal/balance"
	"github.com/go-lpc/cellbal/trc"
	"go-hep.org/x/hep/hbook"
)

const (
	maxFailures = 10 // failures listed in a summary
	nbins       = 20 // bins of segment duration histograms
)

// Summary is the condensed outcome of a check.
type Summary struct {
	Result   string `json:"result"`
	Rows     int    `json:"rows"`
	Failures int    `json:"failures"`
	Skipped  int    `json:"skipped"`
	Unknown  int    `json:"unknown"`
	Invalid  int    `json:"invalid"`

	Cells       []int `json:"cells"`
	DeadCells   []int `json:"dead_cells"`
	Sensors     []int `json:"sensors"`
	DeadSensors []int `json:"dead_sensors"`

	FirstFailures []Failure      `json:"first_failures,omitempty"`
	Segments      []SegmentStats `json:"segments,omitempty"`
}

// Failure is a failed row.
type Failure struct {
	Row    int    `json:"row"`
	Time   string `json:"time"`
	Remark string `json:"remark"`
}

// SegmentStats describes the durations, in seconds, of the segments of a class.
type SegmentStats struct {
	Class   string  `json:"class"`
	Count   int64   `json:"count"`
	TooLong int     `json:"too_long"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Max     float64 `json:"max"`
	Bins    []Bin   `json:"bins"`
}

// Bin is a histogram bin [Low, High).
type Bin struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Entries int64   `json:"entries"`
}

// NewSummary condenses a report.
func NewSummary(rep *balance.Report) Summary {
	sum := Summary{
		Result:      rep.Result(),
		Rows:        len(rep.Rows),
		Failures:    rep.Failures(),
		Skipped:     rep.Skipped,
		Unknown:     rep.Unknown,
		Invalid:     rep.Invalid,
		Cells:       nonNil(rep.Health.Cells),
		DeadCells:   nonNil(rep.Health.DeadCells),
		Sensors:     nonNil(rep.Health.Sensors),
		DeadSensors: nonNil(rep.Health.DeadSensors),
	}

	for i := range rep.Rows {
		row := &rep.Rows[i]
		if row.Pass() {
			continue
		}
		sum.FirstFailures = append(sum.FirstFailures, Failure{
			Row:    row.Index,
			Time:   trc.Stamp(row.Time),
			Remark: row.Remark(),
		})
		if len(sum.FirstFailures) == maxFailures {
			break
		}
	}

	for _, class := range []balance.Class{balance.Odd, balance.Even, balance.Rest} {
		stats, ok := segmentStats(class, rep.Segments)
		if !ok {
			continue
		}
		sum.Segments = append(sum.Segments, stats)
	}

	return sum
}

func segmentStats(class balance.Class, segs []balance.Segment) (SegmentStats, bool) {
	stats := SegmentStats{Class: class.String()}
	for _, seg := range segs {
		if seg.Class != class {
			continue
		}
		if dt := seg.Duration().Seconds(); dt > stats.Max {
			stats.Max = dt
		}
		if seg.TooLong {
			stats.TooLong++
		}
	}

	xmax := 1.05 * stats.Max
	if xmax <= 0 {
		xmax = 1
	}
	h := hbook.NewH1D(nbins, 0, xmax)
	for _, seg := range segs {
		if seg.Class != class {
			continue
		}
		h.Fill(seg.Duration().Seconds(), 1)
	}

	stats.Count = h.Entries()
	if stats.Count == 0 {
		return stats, false
	}
	stats.Mean = h.XMean()
	if sd := h.XStdDev(); stats.Count > 1 && !math.IsNaN(sd) {
		stats.StdDev = sd
	}
	for i := range h.Binning.Bins {
		bin := &h.Binning.Bins[i]
		stats.Bins = append(stats.Bins, Bin{
			Low:     bin.XMin(),
			High:    bin.XMax(),
			Entries: bin.Entries(),
		})
	}
	return stats, true
}

// WriteSummary writes the summary of a report as indented JSON.
func WriteSummary(w io.Writer, rep *balance.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(NewSummary(rep))
	if err != nil {
		return fmt.Errorf("report: could not write summary: %w", err)
	}
	return nil
}

func nonNil(vs []int) []int {
	if vs == nil {
		return []int{}
	}
	return vs
}
