// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sigdb

import (
	"math"
	"strconv"
)

type kind uint8

const (
	kindNone kind = iota
	kindFloat
	kindUint
)

// Value is the decoded value of a signal.
//
// A Value is either a physical float64 value, or an exact unsigned
// integer (raw value of an unscaled signal, e.g. a 64-bit bitmask).
// It may carry a label from the DBC value descriptions.
// The zero Value holds no value.
type Value struct {
	f     float64
	u     uint64
	label string
	kind  kind
}

// Float returns a Value holding the physical value v.
func Float(v float64) Value { return Value{f: v, kind: kindFloat} }

// Uint returns a Value holding the exact unsigned integer v.
func Uint(v uint64) Value { return Value{u: v, kind: kindUint} }

// Label returns a Value holding only a label.
func Label(s string) Value { return Value{label: s} }

// WithLabel returns a copy of v carrying the label s.
func (v Value) WithLabel(s string) Value {
	v.label = s
	return v
}

// IsValid reports whether v holds a number or a label.
func (v Value) IsValid() bool { return v.kind != kindNone || v.label != "" }

// Float returns the numeric value of v.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case kindFloat:
		return v.f, true
	case kindUint:
		return float64(v.u), true
	}
	return 0, false
}

// Uint returns v as an unsigned integer.
// Float values are only converted when they are integral and in range.
func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case kindUint:
		return v.u, true
	case kindFloat:
		if v.f < 0 || v.f != math.Trunc(v.f) || v.f >= math.MaxUint64 {
			return 0, false
		}
		return uint64(v.f), true
	}
	return 0, false
}

// Label returns the value description attached to v, if any.
func (v Value) Label() string { return v.label }

// String returns the label of v when it has one, its number otherwise.
func (v Value) String() string {
	switch {
	case v.label != "":
		return v.label
	case v.kind == kindUint:
		return strconv.FormatUint(v.u, 10)
	case v.kind == kindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return ""
}
