// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"math"
	"testing"

	"github.com/go-lpc/cellbal/sigdb"
	"github.com/go-lpc/cellbal/timeline"
	"github.com/stretchr/testify/require"
)

func fields(kvs map[string]float64) sigdb.Update {
	var o sigdb.Update
	for k, v := range kvs {
		o = append(o, sigdb.Field{Name: k, Value: sigdb.Float(v)})
	}
	return o
}

func TestMedian(t *testing.T) {
	for _, tc := range []struct {
		vs   []float64
		want float64
	}{
		{[]float64{3}, 3},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{0, 0, 0, 3300}, 0},
	} {
		if got := median(tc.vs); got != tc.want {
			t.Fatalf("invalid median: got=%v, want=%v", got, tc.want)
		}
	}
	if got := median(nil); !math.IsNaN(got) {
		t.Fatalf("invalid median of empty sample: got=%v", got)
	}
}

func TestClassify(t *testing.T) {
	var (
		sig = DefaultSignals()
		lim = DefaultLimits()
		b   = timeline.NewBuilder()
	)
	for i := 0; i < 5; i++ {
		upd := fields(map[string]float64{
			"CellVoltage_1": 3300,
			"CellVoltage_2": 0,
			"IntTherm_1":    25,
			"IntTherm_2":    0.1,
		})
		if i == 2 {
			// a single spike does not make a dead cell live.
			upd = fields(map[string]float64{"CellVoltage_2": 4000})
		}
		b.Append(us(int64(i)*1000), upd)
	}
	// CellVoltage_3 is only seen on the last row: absent rows count as 0.
	b.Append(us(5000), fields(map[string]float64{"CellVoltage_3": 3300, "CellVoltage_x": 0}))

	h := Classify(b.Table(), lim, sig)
	require.Equal(t, Health{
		Cells:       []int{1, 2, 3},
		DeadCells:   []int{2, 3},
		Sensors:     []int{1, 2},
		DeadSensors: []int{2},
	}, h)
}

func TestRequire(t *testing.T) {
	var (
		sig = DefaultSignals()
		lim = DefaultLimits()
	)

	base := map[string]float64{
		"SoC":             50,
		"Charging_Info":   0,
		"Balancing_Limit": 3000,
		"Voltage_Min":     3300,
		"Voltage_Max":     3340,
		"CellVoltage_1":   3300,
		"CellVoltage_2":   3316,
		"CellVoltage_3":   3340,
		"CellVoltage_4":   3315.9,
		"CellVoltage_5":   3400, // dead
		"IntTherm_1":      30,
		"IntTherm_2":      120, // dead
	}
	h := Health{
		Cells:       []int{1, 2, 3, 4, 5},
		DeadCells:   []int{5},
		Sensors:     []int{1, 2},
		DeadSensors: []int{2},
	}

	for _, tc := range []struct {
		name  string
		mod   map[string]float64
		del   []string
		mode  Mode
		thr   float64
		hasT  bool
		block bool
		now   bool
		cells []int
	}{
		{
			name: "discharging",
			mode: Discharging, thr: 16, hasT: true,
			now: true, cells: []int{2, 3},
		},
		{
			name: "charging",
			mod:  map[string]float64{"Charging_Info": 17},
			mode: Charging, thr: 11, hasT: true,
			now: true, cells: []int{2, 3, 4},
		},
		{
			name: "charging-code-truncated",
			mod:  map[string]float64{"Charging_Info": 33.7},
			mode: Charging, thr: 11, hasT: true,
			now: true, cells: []int{2, 3, 4},
		},
		{
			name: "ready",
			mod:  map[string]float64{"Charging_Info": 2, "SoC": 3},
			mode: Ready, thr: 61, hasT: true,
		},
		{
			name: "no-charging-info",
			del:  []string{"Charging_Info"},
			mode: Unknown, thr: 16, hasT: true,
			now: true, cells: []int{2, 3},
		},
		{
			name: "soc-out-of-bands",
			mod:  map[string]float64{"SoC": 100},
			mode: Discharging,
		},
		{
			name: "no-soc",
			del:  []string{"SoC"},
			mode: Discharging,
		},
		{
			name: "below-balancing-limit",
			mod:  map[string]float64{"Balancing_Limit": 3301},
			mode: Discharging, thr: 16, hasT: true,
		},
		{
			name: "at-balancing-limit",
			mod:  map[string]float64{"Balancing_Limit": 3300},
			mode: Discharging, thr: 16, hasT: true,
			now: true, cells: []int{2, 3},
		},
		{
			name: "small-delta",
			mod:  map[string]float64{"Voltage_Max": 3315},
			mode: Discharging, thr: 16, hasT: true,
		},
		{
			name: "no-voltage-max",
			del:  []string{"Voltage_Max"},
			mode: Discharging, thr: 16, hasT: true,
		},
		{
			name: "temp-block",
			mod:  map[string]float64{"IntTherm_1": 95.5},
			mode: Discharging, thr: 16, hasT: true, block: true,
		},
		{
			name: "temp-at-limit",
			mod:  map[string]float64{"IntTherm_1": 95},
			mode: Discharging, thr: 16, hasT: true,
			now: true, cells: []int{2, 3},
		},
		{
			name: "no-cells",
			del:  []string{"CellVoltage_1", "CellVoltage_2", "CellVoltage_3", "CellVoltage_4"},
			mode: Discharging, thr: 16, hasT: true,
			now: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			kvs := make(map[string]float64, len(base))
			for k, v := range base {
				kvs[k] = v
			}
			for k, v := range tc.mod {
				kvs[k] = v
			}
			for _, k := range tc.del {
				delete(kvs, k)
			}

			b := timeline.NewBuilder()
			row := b.Append(t0, fields(kvs))
			req := NewEvaluator(lim, sig, h).Require(row)

			require.Equal(t, tc.mode, req.Mode)
			require.Equal(t, tc.hasT, req.HasThreshold)
			require.Equal(t, tc.thr, req.Threshold)
			require.Equal(t, tc.block, req.TempBlock)
			require.Equal(t, tc.now, req.Now)
			require.Equal(t, tc.cells, req.Cells)
		})
	}
}

func TestRequireTemperatures(t *testing.T) {
	var (
		sig = DefaultSignals()
		lim = DefaultLimits()
		h   = Health{Sensors: []int{1, 2, 3}, DeadSensors: []int{3}}
		b   = timeline.NewBuilder()
	)

	req := NewEvaluator(lim, sig, h).Require(b.Append(t0, nil))
	require.True(t, math.IsNaN(req.TempMin))
	require.True(t, math.IsNaN(req.TempMax))

	row := b.Append(us(1000), fields(map[string]float64{
		"IntTherm_1": 31,
		"IntTherm_2": 27.5,
		"IntTherm_3": 0,
	}))
	req = NewEvaluator(lim, sig, h).Require(row)
	require.Equal(t, 27.5, req.TempMin)
	require.Equal(t, 31.0, req.TempMax)
	require.False(t, req.TempBlock)
}

func TestActive(t *testing.T) {
	var (
		sig  = DefaultSignals()
		eval = NewEvaluator(DefaultLimits(), sig, Health{})
		b    = timeline.NewBuilder()
	)

	cells, flag := eval.Active(b.Append(t0, nil))
	require.Nil(t, cells)
	require.False(t, flag)

	cells, flag = eval.Active(b.Append(us(1000), sigdb.Update{
		{Name: "BalancingMask0", Value: sigdb.Uint(0x8000000000000001)},
		{Name: "BalancingMask1", Value: sigdb.Label("garbage")},
		{Name: "Flag_Balancing_Active", Value: sigdb.Uint(1).WithLabel("Active")},
	}))
	require.Equal(t, []int{1, 64}, cells)
	require.True(t, flag)

	cells, flag = eval.Active(b.Append(us(2000), sigdb.Update{
		{Name: "BalancingMask1", Value: sigdb.Uint(0x4)},
		{Name: "Flag_Balancing_Active", Value: sigdb.Uint(0).WithLabel("InActive")},
	}))
	require.Equal(t, []int{1, 64, 67}, cells)
	require.False(t, flag)
}
