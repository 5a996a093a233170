// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Signals holds the names of the signals used to evaluate balancing.
type Signals struct {
	SoC          string
	ChargingInfo string
	Flag         string // balancing active flag
	Limit        string // minimal pack voltage for balancing
	VoltageMin   string
	VoltageMax   string

	Masks     []string // active cells bitmasks, lowest cells first
	MaskWidth int      // number of cells per mask

	CellPrefix   string // prefix of the per-cell voltage signals
	SensorPrefix string // prefix of the per-sensor temperature signals
}

// DefaultSignals returns the signal names of the balancing DBC.
func DefaultSignals() Signals {
	return Signals{
		SoC:          "SoC",
		ChargingInfo: "Charging_Info",
		Flag:         "Flag_Balancing_Active",
		Limit:        "Balancing_Limit",
		VoltageMin:   "Voltage_Min",
		VoltageMax:   "Voltage_Max",
		Masks:        []string{"BalancingMask0", "BalancingMask1"},
		MaskWidth:    64,
		CellPrefix:   "CellVoltage_",
		SensorPrefix: "IntTherm_",
	}
}

// Validate checks the signal names are usable.
func (sig Signals) Validate() error {
	if sig.MaskWidth <= 0 || sig.MaskWidth > 64 {
		return fmt.Errorf("balance: invalid mask width %d", sig.MaskWidth)
	}
	if sig.CellPrefix == "" || sig.SensorPrefix == "" {
		return fmt.Errorf("balance: empty cell or sensor prefix")
	}
	return nil
}

// Columns returns the names of the raw signals reported for each row.
func (sig Signals) Columns() []string {
	o := []string{
		sig.SoC, sig.ChargingInfo, sig.Flag, sig.Limit,
		sig.VoltageMin, sig.VoltageMax,
	}
	return append(o, sig.Masks...)
}

// channel is a numbered per-cell or per-sensor signal.
type channel struct {
	id   int
	name string
}

// channels returns the signals named prefix+N, sorted by N.
func channels(names []string, prefix string) []channel {
	var o []channel
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id, err := strconv.Atoi(name[len(prefix):])
		if err != nil || id <= 0 || strconv.Itoa(id) != name[len(prefix):] {
			continue
		}
		o = append(o, channel{id: id, name: name})
	}
	sort.Slice(o, func(i, j int) bool { return o[i].id < o[j].id })
	return o
}
