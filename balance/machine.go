// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Class is the classification of a row while balancing is
// required and flagged active.
type Class uint8

const (
	Rest Class = iota + 1 // no cell is balanced
	Odd                   // only odd cells are balanced
	Even                  // only even cells are balanced
)

func (c Class) String() string {
	switch c {
	case Rest:
		return "REST"
	case Odd:
		return "ODD"
	case Even:
		return "EVEN"
	}
	return "Class(" + strconv.Itoa(int(c)) + ")"
}

// Step is the input of the compliance machine for one row.
// Cells are sorted.
type Step struct {
	Row      int
	Time     time.Time
	Required []int // cells required to balance
	Active   []int // cells being balanced
	Flag     bool  // balancing active flag
}

// Violation is a compliance failure attached to a row.
type Violation struct {
	Row    int
	Reason string
}

// Segment is a run of consecutive rows sharing the same class.
type Segment struct {
	Class       Class
	First, Last int // first and last rows of the segment
	Start, End  time.Time
	ReqOdd      bool // odd cells were required during the segment
	ReqEven     bool // even cells were required during the segment
	TooLong     bool // the segment exceeded its duration bound
}

// Duration returns the time elapsed between the first and last rows.
func (seg Segment) Duration() time.Duration { return seg.End.Sub(seg.Start) }

// Machine checks the timing of balancing, one row at a time.
//
// Machine tracks three independent windows: the delay to raise the
// active flag once balancing is required, the duration of mismatches
// between required and active cells, and the duration of ODD, EVEN
// and REST segments. A time gap larger than Limits.GapReset, or a
// time going backwards, drops all pending windows without evaluation.
type Machine struct {
	lim Limits

	prev    time.Time
	started bool

	pending   bool // balancing required but flag not raised
	pendingT0 time.Time

	mismatch   bool
	mismatchT0 time.Time
	reason     string // description of the current mismatch

	open bool
	seg  Segment
	segs []Segment
}

// NewMachine returns a compliance machine using the provided limits.
func NewMachine(lim Limits) *Machine {
	return &Machine{lim: lim}
}

// Segments returns the segments closed so far.
func (m *Machine) Segments() []Segment {
	segs := make([]Segment, len(m.segs))
	copy(segs, m.segs)
	return segs
}

// Reset drops all pending windows and the open segment.
func (m *Machine) Reset() {
	m.pending = false
	m.mismatch = false
	m.reason = ""
	m.open = false
	m.seg = Segment{}
}

// Advance processes the next row and returns the violations it raised.
// A violation may be attached to the previous row when a segment is closed.
func (m *Machine) Advance(st Step) []Violation {
	if m.started {
		dt := st.Time.Sub(m.prev)
		if dt > m.lim.GapReset || dt < 0 {
			m.Reset()
		}
	}
	m.started = true
	m.prev = st.Time

	var (
		vs       []Violation
		required = len(st.Required) > 0
		active   = st.Flag

		reqOdd, reqEven = parities(st.Required)
		actOdd, actEven = parities(st.Active)
	)

	// activation delay
	switch {
	case required && !active:
		if !m.pending {
			m.pending = true
			m.pendingT0 = st.Time
			break
		}
		if st.Time.Sub(m.pendingT0) > m.lim.ActivationGrace {
			vs = append(vs, Violation{
				Row: st.Row,
				Reason: fmt.Sprintf(
					"Balancing active flag not set within %s of requirement",
					seconds(m.lim.ActivationGrace),
				),
			})
		}
	default:
		m.pending = false
	}

	// cells mismatch
	var reasons []string
	switch {
	case required && active:
		if len(st.Active) == 0 {
			break
		}
		if missing := diff(st.Required, st.Active); len(missing) > 0 {
			reasons = append(reasons, "Missing cells: "+cellsString(missing))
		}
		if extra := diff(st.Active, st.Required); len(extra) > 0 {
			reasons = append(reasons, "Extra cells: "+cellsString(extra))
		}
	case len(st.Active) > 0:
		reasons = append(reasons, "Unexpected active cells when balancing not required: "+cellsString(st.Active))
	}

	switch desc := strings.Join(reasons, ", "); {
	case desc == "":
		m.mismatch = false
		m.reason = ""
	case !m.mismatch || desc != m.reason:
		m.mismatch = true
		m.mismatchT0 = st.Time
		m.reason = desc
	default:
		grace := m.lim.MismatchGrace
		if reqOdd && reqEven && actOdd != actEven {
			grace = m.lim.AlternatingGrace
		}
		if st.Time.Sub(m.mismatchT0) > grace {
			vs = append(vs, Violation{
				Row:    st.Row,
				Reason: fmt.Sprintf("Cell mismatch >%s: %s", seconds(grace), desc),
			})
		}
	}

	// segments
	var (
		class  Class
		inside = required && active
	)
	if inside {
		switch {
		case len(st.Active) == 0:
			class = Rest
		case actOdd && !actEven:
			class = Odd
		case actEven && !actOdd:
			class = Even
		default:
			reason := "Active cells mix odd and even cells: " + cellsString(st.Active)
			if reqOdd && reqEven {
				reason += " during an alternating requirement"
			}
			vs = append(vs, Violation{Row: st.Row, Reason: reason})
		}
	}

	switch {
	case class == 0:
		vs = append(vs, m.close()...)
	case m.open && m.seg.Class == class:
		m.seg.Last = st.Row
		m.seg.End = st.Time
		m.seg.ReqOdd = m.seg.ReqOdd || reqOdd
		m.seg.ReqEven = m.seg.ReqEven || reqEven
	default:
		vs = append(vs, m.close()...)
		m.open = true
		m.seg = Segment{
			Class:   class,
			First:   st.Row,
			Last:    st.Row,
			Start:   st.Time,
			End:     st.Time,
			ReqOdd:  reqOdd,
			ReqEven: reqEven,
		}
	}

	return vs
}

// Finish closes the open segment, if any, at the end of the trace.
func (m *Machine) Finish() []Violation {
	return m.close()
}

// close evaluates and closes the open segment.
// The violation, if any, is attached to the last row of the segment.
func (m *Machine) close() []Violation {
	if !m.open {
		return nil
	}
	seg := m.seg
	m.open = false
	m.seg = Segment{}

	var (
		dur    = seg.Duration()
		reason string
	)
	switch seg.Class {
	case Odd, Even:
		if dur > m.lim.SegmentMax {
			reason = fmt.Sprintf("%v balancing ON too long: %.4fs", seg.Class, dur.Seconds())
		}
	case Rest:
		switch {
		case seg.ReqOdd && seg.ReqEven:
			if dur > m.lim.RestCombinedMax {
				reason = fmt.Sprintf("REST (combined) too long: %.4fs", dur.Seconds())
			}
		default:
			if dur > m.lim.RestNormalMax {
				reason = fmt.Sprintf("REST (normal) too long: %.4fs", dur.Seconds())
			}
		}
	}

	seg.TooLong = reason != ""
	m.segs = append(m.segs, seg)
	if !seg.TooLong {
		return nil
	}
	return []Violation{{Row: seg.Last, Reason: reason}}
}

func parities(cells []int) (odd, even bool) {
	for _, c := range cells {
		if c%2 == 1 {
			odd = true
		} else {
			even = true
		}
		if odd && even {
			return odd, even
		}
	}
	return odd, even
}

// diff returns the cells of a that are not in b.
func diff(a, b []int) []int {
	set := make(map[int]struct{}, len(b))
	for _, c := range b {
		set[c] = struct{}{}
	}
	var o []int
	for _, c := range a {
		if _, ok := set[c]; !ok {
			o = append(o, c)
		}
	}
	return o
}

func cellsString(cells []int) string {
	o := new(strings.Builder)
	o.WriteString("[")
	for i, c := range cells {
		if i > 0 {
			o.WriteString(", ")
		}
		o.WriteString(strconv.Itoa(c))
	}
	o.WriteString("]")
	return o.String()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
