// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/go-lpc/cellbal/sigdb"
	"github.com/go-lpc/cellbal/timeline"
	"github.com/go-lpc/cellbal/trc"
	"github.com/stretchr/testify/require"
)

const testDBC = `VERSION ""

NS_ :

BS_:

BU_: BMS

BO_ 256 BMS_Status: 8 BMS
 SG_ SoC : 0|8@1+ (1,0) [0|100] "%" Vector__XXX
 SG_ Charging_Info : 8|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ Flag_Balancing_Active : 16|1@1+ (1,0) [0|1] "" Vector__XXX
 SG_ Balancing_Limit : 24|16@1+ (1,0) [0|65535] "mV" Vector__XXX

BO_ 257 BMS_Voltages: 8 BMS
 SG_ Voltage_Min : 0|16@1+ (1,0) [0|65535] "mV" Vector__XXX
 SG_ Voltage_Max : 16|16@1+ (1,0) [0|65535] "mV" Vector__XXX
 SG_ IntTherm_1 : 32|8@1+ (1,0) [0|255] "degC" Vector__XXX
 SG_ IntTherm_2 : 40|8@1+ (1,0) [0|255] "degC" Vector__XXX

BO_ 258 BMS_Mask0: 8 BMS
 SG_ BalancingMask0 : 0|64@1+ (1,0) [0|0] "" Vector__XXX

BO_ 259 BMS_Mask1: 8 BMS
 SG_ BalancingMask1 : 0|64@1+ (1,0) [0|0] "" Vector__XXX

BO_ 260 BMS_Cells: 8 BMS
 SG_ CellVoltage_1 : 0|16@1+ (1,0) [0|65535] "mV" Vector__XXX
 SG_ CellVoltage_2 : 16|16@1+ (1,0) [0|65535] "mV" Vector__XXX
 SG_ CellVoltage_3 : 32|16@1+ (1,0) [0|65535] "mV" Vector__XXX
 SG_ CellVoltage_4 : 48|16@1+ (1,0) [0|65535] "mV" Vector__XXX

VAL_ 256 Flag_Balancing_Active 1 "Active" 0 "InActive" ;
`

type frame struct {
	at   int64 // microseconds since t0
	id   uint32
	data []byte
}

func status(soc, ci, flag byte, limit uint16) []byte {
	o := []byte{soc, ci, flag, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(o[3:], limit)
	return o
}

func voltages(vmin, vmax uint16, t1, t2 byte) frame {
	o := make([]byte, 8)
	binary.LittleEndian.PutUint16(o[0:], vmin)
	binary.LittleEndian.PutUint16(o[2:], vmax)
	o[4] = t1
	o[5] = t2
	return frame{id: 257, data: o}
}

func mask(id uint32, v uint64) frame {
	o := make([]byte, 8)
	binary.LittleEndian.PutUint64(o, v)
	return frame{id: id, data: o}
}

func cellVoltages(vs ...uint16) frame {
	o := make([]byte, 8)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(o[2*i:], v)
	}
	return frame{id: 260, data: o}
}

func at(ms int64, f frame) frame {
	f.at = ms * 1000
	return f
}

func trace(t *testing.T, frames []frame) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := trc.NewEncoder(buf)
	require.NoError(t, enc.WriteHeader(t0, "balancing test"))
	for _, f := range frames {
		rec := trc.Record{Time: us(f.at), ID: f.id, Data: f.data}
		require.NoError(t, enc.Encode(&rec))
	}
	require.NoError(t, enc.Flush())
	return buf.Bytes()
}

func schema(t *testing.T) *sigdb.Schema {
	t.Helper()
	db, err := sigdb.Parse("balancing.dbc", []byte(testDBC))
	require.NoError(t, err)
	return db
}

func scenario() []frame {
	return []frame{
		// balancing not required
		at(0, voltages(3300, 3310, 25, 30)),
		at(100, frame{id: 256, data: status(50, 0, 0, 3000)}),
		at(200, cellVoltages(3300, 3320, 3340, 3302)),
		at(300, mask(258, 0)),
		at(400, mask(259, 0)),
		// required, flag not raised yet
		at(500, voltages(3300, 3340, 25, 30)),
		at(600, voltages(3300, 3340, 25, 30)),
		at(700, voltages(3300, 3340, 25, 30)),
		at(800, voltages(3300, 3340, 25, 30)),
		// flag raised within 0.4s
		at(850, frame{id: 256, data: status(50, 0, 1, 3000)}),
		// alternating odd/even hand-off
		at(900, mask(258, 1<<2)),
		at(1200, mask(258, 1<<2)),
		at(1500, mask(258, 1<<1)),
		at(1800, mask(258, 1<<1)),
		at(2100, mask(258, 1<<2)),
		at(2400, mask(258, 1<<2)),
		at(2700, mask(258, 0)),
		// flag dropped while still required
		at(3000, frame{id: 256, data: status(50, 0, 0, 3000)}),
		at(3300, voltages(3300, 3340, 25, 30)),
		at(3800, voltages(3300, 3340, 25, 30)),
	}
}

func TestCheck(t *testing.T) {
	var (
		db  = schema(t)
		raw = trace(t, scenario())
	)

	rep, err := Check(bytes.NewReader(raw), db, DefaultLimits(), DefaultSignals(), nil)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 20)

	for i := range rep.Rows {
		row := &rep.Rows[i]
		require.Equal(t, i, row.Index)
		switch i {
		case 19:
			require.False(t, row.Pass(), "row %d", i)
			require.Equal(t, "Balancing active flag not set within 0.4s of requirement", row.Remark())
		default:
			require.True(t, row.Pass(), "row %d: %s", i, row.Remark())
			require.Equal(t, "OK", row.Remark())
		}
	}

	for i := 0; i < 5; i++ {
		require.False(t, rep.Rows[i].Now, "row %d", i)
		require.Empty(t, rep.Rows[i].Cells, "row %d", i)
	}
	for i := 5; i < 9; i++ {
		require.Equal(t, []int{2, 3}, rep.Rows[i].Cells, "row %d", i)
		require.False(t, rep.Rows[i].Flag, "row %d", i)
	}
	require.True(t, rep.Rows[9].Flag)
	require.Equal(t, []int{3}, rep.Rows[10].Active)
	require.Equal(t, []int{2}, rep.Rows[10].Missing)
	require.Equal(t, []int{2}, rep.Rows[12].Active)
	require.Equal(t, []int{3}, rep.Rows[12].Missing)
	require.Equal(t, Discharging, rep.Rows[12].Mode)
	require.Equal(t, 16.0, rep.Rows[12].Threshold)
	require.Equal(t, 25.0, rep.Rows[12].TempMin)
	require.Equal(t, 30.0, rep.Rows[12].TempMax)

	require.Equal(t, []string{
		"SoC", "Charging_Info", "Flag_Balancing_Active", "Balancing_Limit",
		"Voltage_Min", "Voltage_Max", "BalancingMask0", "BalancingMask1",
	}, rep.Columns)
	require.Equal(t, "Active", rep.Rows[12].Values[2].String())
	require.Equal(t, "2", rep.Rows[12].Values[6].String())

	require.False(t, rep.Pass())
	require.Equal(t, "FAIL", rep.Result())
	require.Equal(t, 1, rep.Failures())
	require.Equal(t, 0, rep.Skipped)
	require.Equal(t, 0, rep.Unknown)
	require.Equal(t, 0, rep.Invalid)
	require.Equal(t, []int{1, 2, 3, 4}, rep.Health.Cells)
	require.Empty(t, rep.Health.DeadCells)

	var classes []Class
	for _, seg := range rep.Segments {
		classes = append(classes, seg.Class)
	}
	require.Equal(t, []Class{Rest, Odd, Even, Odd, Rest}, classes)

	// running twice yields the same verdicts.
	again, err := Check(bytes.NewReader(raw), db, DefaultLimits(), DefaultSignals(), nil)
	require.NoError(t, err)
	require.Equal(t, remarks(rep), remarks(again))
	require.Equal(t, rep.Segments, again.Segments)
}

func remarks(rep *Report) []string {
	o := make([]string, len(rep.Rows))
	for i := range rep.Rows {
		o[i] = rep.Rows[i].Remark()
	}
	return o
}

func TestCheckDeadCell(t *testing.T) {
	frames := []frame{
		at(0, frame{id: 256, data: status(50, 0, 1, 3000)}),
		at(10, voltages(3300, 3340, 25, 0)),
	}
	for i := int64(0); i < 10; i++ {
		frames = append(frames, at(20+10*i, cellVoltages(3300, 3330, 3300, 0)))
	}
	// cell 4 momentarily looks like it needs balancing.
	frames = append(frames, at(200, cellVoltages(3300, 3330, 3300, 4000)))
	frames = append(frames, at(210, mask(258, 1<<1)))

	out := new(strings.Builder)
	msg := log.New(out, "", 0)
	rep, err := Check(bytes.NewReader(trace(t, frames)), schema(t), DefaultLimits(), DefaultSignals(), msg)
	require.NoError(t, err)

	require.Equal(t, []int{4}, rep.Health.DeadCells)
	require.Equal(t, []int{2}, rep.Health.DeadSensors)
	for i := range rep.Rows {
		require.NotContains(t, rep.Rows[i].Cells, 4, "row %d", i)
	}
	require.Equal(t, []int{2}, rep.Rows[12].Cells)
	require.True(t, rep.Pass(), "remarks: %q", remarks(rep))
	require.Contains(t, out.String(), "dead cells: [4]")
	require.Contains(t, out.String(), "dead sensors: [2]")
}

func TestCheckCounts(t *testing.T) {
	raw := trace(t, []frame{
		at(0, frame{id: 256, data: status(50, 0, 0, 3000)}),
		at(10, frame{id: 0x7ff, data: []byte{1, 2}}),
		at(20, frame{id: 257, data: []byte{1, 2}}),
	})
	raw = append(raw, []byte("     4)  garbage\n")...)

	out := new(strings.Builder)
	rep, err := Check(bytes.NewReader(raw), schema(t), DefaultLimits(), DefaultSignals(), log.New(out, "", 0))
	require.NoError(t, err)
	require.Len(t, rep.Rows, 3)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 1, rep.Unknown)
	require.Equal(t, 1, rep.Invalid)
	require.True(t, rep.Pass())
	require.Contains(t, out.String(), "skipped 1 malformed trace lines")
	require.Contains(t, out.String(), "unknown messages: 1, undecodable: 1")
}

func TestCheckErrors(t *testing.T) {
	db := schema(t)

	_, err := Check(strings.NewReader("no frame\n"), db, DefaultLimits(), DefaultSignals(), nil)
	require.True(t, errors.Is(err, trc.ErrNoRecords), "got=%+v", err)

	_, err = Check(strings.NewReader(""), nil, DefaultLimits(), DefaultSignals(), nil)
	require.Error(t, err)

	lim := DefaultLimits()
	lim.GapReset = 0
	_, err = Check(strings.NewReader(""), db, lim, DefaultSignals(), nil)
	require.Error(t, err)

	sig := DefaultSignals()
	sig.MaskWidth = 65
	_, err = Check(strings.NewReader(""), db, DefaultLimits(), sig, nil)
	require.Error(t, err)

	_, err = Check(strings.NewReader(strings.Repeat("x", 2<<20)), db, DefaultLimits(), DefaultSignals(), nil)
	require.ErrorIs(t, err, trc.ErrNoRecords)
}

func TestCheckOverlongLine(t *testing.T) {
	raw := trace(t, []frame{
		at(0, voltages(3300, 3310, 25, 30)),
		at(100, voltages(3300, 3310, 25, 30)),
	})
	// corrupt the capture between its two frames.
	i := bytes.LastIndexByte(raw[:len(raw)-1], '\n') + 1
	corrupted := append([]byte{}, raw[:i]...)
	corrupted = append(corrupted, bytes.Repeat([]byte("x"), 2<<20)...)
	corrupted = append(corrupted, '\n')
	corrupted = append(corrupted, raw[i:]...)

	rep, err := Check(bytes.NewReader(corrupted), schema(t), DefaultLimits(), DefaultSignals(), nil)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)
	require.Equal(t, 1, rep.Skipped)
	require.True(t, rep.Pass())
}

func TestEvaluateRecovers(t *testing.T) {
	var (
		b   = timeline.NewBuilder()
		row = b.Append(t0, nil)
		res = RowResult{Index: 0, Time: t0}
	)
	_, err := evaluate(&res, row, nil, NewMachine(DefaultLimits()), nil)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "internal error: "), "got=%q", err)
}
