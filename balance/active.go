// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balance

import (
	"math/bits"
	"strings"

	"github.com/go-lpc/cellbal/sigdb"
)

// ActiveCells returns the sorted cells whose bit is set in the masks.
// Bit b of the k-th mask is cell k*width+b+1. Bits beyond width are ignored.
func ActiveCells(width int, words ...uint64) []int {
	if width <= 0 {
		return nil
	}
	if width > 64 {
		width = 64
	}
	var (
		o    []int
		keep = ^uint64(0)
	)
	if width < 64 {
		keep = 1<<uint(width) - 1
	}
	for k, w := range words {
		w &= keep
		for w != 0 {
			b := bits.TrailingZeros64(w)
			o = append(o, k*width+b+1)
			w &= w - 1
		}
	}
	return o
}

// ParseFlag interprets the balancing active flag.
// Labels and numbers are accepted: "Active", "true", "yes" or any
// non-zero number are true. Missing values are false.
func ParseFlag(v sigdb.Value) bool {
	if lbl := v.Label(); lbl != "" {
		switch strings.ToLower(strings.TrimSpace(lbl)) {
		case "active", "1", "true", "yes":
			return true
		case "inactive", "0", "false", "no":
			return false
		}
	}
	f, ok := v.Float()
	return ok && f != 0
}
