// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Band is a state-of-charge band [Low, High) with its balancing threshold.
type Band struct {
	Low       float64
	High      float64
	Threshold float64
}

// Limits holds the thresholds and timing bounds used to evaluate
// a trace. Voltages are in the unit of the cell voltage signals.
type Limits struct {
	ChargingCodes     []int64 // Charging_Info codes meaning the pack is charging
	ChargingThreshold float64 // balancing threshold while charging
	Bands             []Band  // balancing thresholds by state-of-charge, otherwise

	TempLimit       float64 // temperature above which balancing is blocked
	DeadCellFloor   float64 // cells with a trace median below this floor are dead
	DeadSensorFloor float64 // sensors with a trace median at or below this floor are dead

	ActivationGrace  time.Duration // max delay between requirement and active flag
	MismatchGrace    time.Duration // max duration of a required/active cells mismatch
	AlternatingGrace time.Duration // mismatch grace during an odd/even hand-off
	SegmentMax       time.Duration // max duration of an ODD or EVEN segment
	RestCombinedMax  time.Duration // max duration of a REST segment when both parities are required
	RestNormalMax    time.Duration // max duration of any other REST segment
	GapReset         time.Duration // time gap resetting all timers
}

// DefaultLimits returns the limits of the balancing firmware.
func DefaultLimits() Limits {
	return Limits{
		ChargingCodes:     []int64{1, 17, 33},
		ChargingThreshold: 11,
		Bands: []Band{
			{Low: 0, High: 5, Threshold: 61},
			{Low: 5, High: 10, Threshold: 26},
			{Low: 10, High: 90, Threshold: 16},
			{Low: 90, High: 95, Threshold: 26},
			{Low: 95, High: 97, Threshold: 31},
			{Low: 97, High: 100, Threshold: 51},
		},
		TempLimit:        95,
		DeadCellFloor:    5,
		DeadSensorFloor:  0.1,
		ActivationGrace:  400 * time.Millisecond,
		MismatchGrace:    400 * time.Millisecond,
		AlternatingGrace: 1 * time.Second,
		SegmentMax:       900 * time.Millisecond,
		RestCombinedMax:  1250 * time.Millisecond,
		RestNormalMax:    1250 * time.Millisecond,
		GapReset:         5 * time.Second,
	}
}

// Validate checks the consistency of the limits.
func (lim Limits) Validate() error {
	if len(lim.Bands) == 0 {
		return fmt.Errorf("balance: no state-of-charge band")
	}
	bands := make([]Band, len(lim.Bands))
	copy(bands, lim.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Low < bands[j].Low })
	for i, b := range bands {
		if !(b.Low < b.High) {
			return fmt.Errorf("balance: invalid band [%v, %v)", b.Low, b.High)
		}
		if i > 0 && b.Low < bands[i-1].High {
			return fmt.Errorf(
				"balance: overlapping bands [%v, %v) and [%v, %v)",
				bands[i-1].Low, bands[i-1].High, b.Low, b.High,
			)
		}
	}
	if lim.ChargingThreshold < 0 {
		return fmt.Errorf("balance: invalid charging threshold %v", lim.ChargingThreshold)
	}

	for _, v := range []struct {
		name string
		dt   time.Duration
	}{
		{"activation grace", lim.ActivationGrace},
		{"mismatch grace", lim.MismatchGrace},
		{"alternating grace", lim.AlternatingGrace},
		{"segment max", lim.SegmentMax},
		{"rest combined max", lim.RestCombinedMax},
		{"rest normal max", lim.RestNormalMax},
		{"gap reset", lim.GapReset},
	} {
		if v.dt <= 0 {
			return fmt.Errorf("balance: invalid %s %v", v.name, v.dt)
		}
	}
	return nil
}

// Threshold returns the balancing threshold for the operating mode
// and the state-of-charge soc.
// Threshold returns false when soc is outside of all bands.
func (lim Limits) Threshold(mode Mode, soc float64, hasSoC bool) (float64, bool) {
	if mode == Charging {
		return lim.ChargingThreshold, true
	}
	if !hasSoC || math.IsNaN(soc) {
		return 0, false
	}
	for _, b := range lim.Bands {
		if b.Low <= soc && soc < b.High {
			return b.Threshold, true
		}
	}
	return 0, false
}

func (lim Limits) isCharging(code int64) bool {
	for _, v := range lim.ChargingCodes {
		if v == code {
			return true
		}
	}
	return false
}

//go:embed limits.schema.json
var limitsSchema string

var limitsValidator = mustCompile("limits.schema.json", limitsSchema)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	err := c.AddResource(name, strings.NewReader(schema))
	if err != nil {
		panic(fmt.Errorf("balance: invalid JSON schema %q: %w", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Errorf("balance: could not compile JSON schema %q: %w", name, err))
	}
	return sch
}

type jsonBand struct {
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Threshold float64 `json:"threshold"`
}

// jsonLimits is the JSON representation of Limits. Durations are in seconds.
// Absent keys keep their default value.
type jsonLimits struct {
	ChargingCodes     []int64    `json:"charging_codes,omitempty"`
	ChargingThreshold *float64   `json:"charging_threshold,omitempty"`
	Bands             []jsonBand `json:"discharge_bands,omitempty"`

	TempLimit       *float64 `json:"temp_limit,omitempty"`
	DeadCellFloor   *float64 `json:"dead_cell_floor,omitempty"`
	DeadSensorFloor *float64 `json:"dead_sensor_floor,omitempty"`

	ActivationGrace  *float64 `json:"activation_grace,omitempty"`
	MismatchGrace    *float64 `json:"mismatch_grace,omitempty"`
	AlternatingGrace *float64 `json:"alternating_grace,omitempty"`
	SegmentMax       *float64 `json:"segment_max,omitempty"`
	RestCombinedMax  *float64 `json:"rest_combined_max,omitempty"`
	RestNormalMax    *float64 `json:"rest_normal_max,omitempty"`
	GapReset         *float64 `json:"gap_reset,omitempty"`
}

// LoadLimits reads limits from a JSON document.
// Keys absent from the document keep the values of DefaultLimits.
func LoadLimits(r io.Reader) (Limits, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Limits{}, fmt.Errorf("balance: could not read limits: %w", err)
	}

	var doc interface{}
	err = json.Unmarshal(raw, &doc)
	if err != nil {
		return Limits{}, fmt.Errorf("balance: could not decode limits: %w", err)
	}
	err = limitsValidator.Validate(doc)
	if err != nil {
		return Limits{}, fmt.Errorf("balance: invalid limits: %w", err)
	}

	var v jsonLimits
	err = json.Unmarshal(raw, &v)
	if err != nil {
		return Limits{}, fmt.Errorf("balance: could not decode limits: %w", err)
	}

	lim := DefaultLimits()
	if v.ChargingCodes != nil {
		lim.ChargingCodes = v.ChargingCodes
	}
	if v.Bands != nil {
		lim.Bands = make([]Band, len(v.Bands))
		for i, b := range v.Bands {
			lim.Bands[i] = Band(b)
		}
	}
	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{v.ChargingThreshold, &lim.ChargingThreshold},
		{v.TempLimit, &lim.TempLimit},
		{v.DeadCellFloor, &lim.DeadCellFloor},
		{v.DeadSensorFloor, &lim.DeadSensorFloor},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	for _, f := range []struct {
		src *float64
		dst *time.Duration
	}{
		{v.ActivationGrace, &lim.ActivationGrace},
		{v.MismatchGrace, &lim.MismatchGrace},
		{v.AlternatingGrace, &lim.AlternatingGrace},
		{v.SegmentMax, &lim.SegmentMax},
		{v.RestCombinedMax, &lim.RestCombinedMax},
		{v.RestNormalMax, &lim.RestNormalMax},
		{v.GapReset, &lim.GapReset},
	} {
		if f.src != nil {
			*f.dst = Seconds(*f.src)
		}
	}

	err = lim.Validate()
	if err != nil {
		return Limits{}, err
	}
	return lim, nil
}

// Seconds converts a duration expressed in seconds.
func Seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
