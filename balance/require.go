// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"math"
	"sort"
	"strconv"

	"github.com/go-lpc/cellbal/timeline"
)

// Mode is the operating mode of the pack.
type Mode uint8

const (
	Unknown Mode = iota
	Charging
	Discharging
	Ready
)

func (m Mode) String() string {
	switch m {
	case Charging:
		return "Charging"
	case Discharging:
		return "Discharging"
	case Ready:
		return "Ready"
	}
	return "Unknown"
}

// Health holds the cells and temperature sensors found in a trace,
// and which ones are considered dead over the whole trace.
type Health struct {
	Cells       []int
	DeadCells   []int
	Sensors     []int
	DeadSensors []int
}

// Classify finds the dead cells and sensors of a trace.
//
// A cell is dead when the median of its voltage over the whole trace is
// below lim.DeadCellFloor. A sensor is dead when the median of its reading
// is at or below lim.DeadSensorFloor. Rows without a numeric value count as 0.
func Classify(tbl *timeline.Table, lim Limits, sig Signals) Health {
	var (
		h     Health
		names = tbl.Names()
	)
	for _, c := range channels(names, sig.CellPrefix) {
		h.Cells = append(h.Cells, c.id)
		if median(tbl.Floats(c.name, 0)) < lim.DeadCellFloor {
			h.DeadCells = append(h.DeadCells, c.id)
		}
	}
	for _, c := range channels(names, sig.SensorPrefix) {
		h.Sensors = append(h.Sensors, c.id)
		if median(tbl.Floats(c.name, 0)) <= lim.DeadSensorFloor {
			h.DeadSensors = append(h.DeadSensors, c.id)
		}
	}
	return h
}

// median returns the median of vs, averaging the two middle values
// of an even-sized sample. vs is sorted in place.
func median(vs []float64) float64 {
	n := len(vs)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(vs)
	if n%2 == 1 {
		return vs[n/2]
	}
	return 0.5 * (vs[n/2-1] + vs[n/2])
}

// Requirement is the balancing requirement derived from a row.
type Requirement struct {
	Mode         Mode
	Threshold    float64
	HasThreshold bool

	TempBlock bool    // a live sensor is above the temperature limit
	TempMin   float64 // min live temperature, NaN when none
	TempMax   float64 // max live temperature, NaN when none

	Now   bool  // balancing is required
	Cells []int // cells required to balance
}

// Evaluator derives balancing requirements and active cells from rows.
type Evaluator struct {
	lim Limits
	sig Signals

	cells   []channel // live cells
	sensors []channel // live sensors
}

// NewEvaluator returns an evaluator ignoring the dead cells and sensors of h.
func NewEvaluator(lim Limits, sig Signals, h Health) *Evaluator {
	eval := &Evaluator{lim: lim, sig: sig}
	eval.cells = live(sig.CellPrefix, h.Cells, h.DeadCells)
	eval.sensors = live(sig.SensorPrefix, h.Sensors, h.DeadSensors)
	return eval
}

func live(prefix string, ids, dead []int) []channel {
	set := make(map[int]struct{}, len(dead))
	for _, id := range dead {
		set[id] = struct{}{}
	}
	o := make([]channel, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		o = append(o, channel{id: id, name: prefix + strconv.Itoa(id)})
	}
	return o
}

// Mode returns the operating mode encoded in the charging-info signal.
func (eval *Evaluator) Mode(row timeline.Row) Mode {
	v, ok := row.Float(eval.sig.ChargingInfo)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return Unknown
	}
	code := int64(v)
	switch {
	case eval.lim.isCharging(code):
		return Charging
	case code == 0:
		return Discharging
	default:
		return Ready
	}
}

// Require evaluates the balancing requirement of a row.
// Missing or non-numeric signals never fail: balancing is then not required.
func (eval *Evaluator) Require(row timeline.Row) Requirement {
	req := Requirement{
		Mode:    eval.Mode(row),
		TempMin: math.NaN(),
		TempMax: math.NaN(),
	}

	soc, ok := row.Float(eval.sig.SoC)
	req.Threshold, req.HasThreshold = eval.lim.Threshold(req.Mode, soc, ok)

	for _, s := range eval.sensors {
		v, ok := row.Float(s.name)
		if !ok || math.IsNaN(v) {
			continue
		}
		if v > eval.lim.TempLimit {
			req.TempBlock = true
		}
		if math.IsNaN(req.TempMin) || v < req.TempMin {
			req.TempMin = v
		}
		if math.IsNaN(req.TempMax) || v > req.TempMax {
			req.TempMax = v
		}
	}

	vmin, okMin := row.Float(eval.sig.VoltageMin)
	vmax, okMax := row.Float(eval.sig.VoltageMax)
	limit, okLim := row.Float(eval.sig.Limit)
	if !okMin || !okMax || !okLim || !req.HasThreshold || req.TempBlock {
		return req
	}
	if !(vmin >= limit && vmax-vmin >= req.Threshold) {
		return req
	}
	req.Now = true

	floor := vmin + req.Threshold
	for _, c := range eval.cells {
		v, ok := row.Float(c.name)
		if !ok {
			continue
		}
		if v >= floor {
			req.Cells = append(req.Cells, c.id)
		}
	}
	return req
}

// Active returns the cells being balanced, and the balancing active flag.
func (eval *Evaluator) Active(row timeline.Row) ([]int, bool) {
	words := make([]uint64, len(eval.sig.Masks))
	for i, name := range eval.sig.Masks {
		v, ok := row.Get(name)
		if !ok {
			continue
		}
		words[i], _ = v.Uint()
	}
	cells := ActiveCells(eval.sig.MaskWidth, words...)

	flag, _ := row.Get(eval.sig.Flag)
	return cells, ParseFlag(flag)
}
