// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cellbal holds code to verify the cell-balancing behaviour of a
// battery pack from a captured TRC trace of its CAN bus.
//
// The processing chain is:
//   - trc: TRC lines to timestamped CAN records,
//   - sigdb: CAN records to named signal values (DBC schema),
//   - timeline: sparse signal updates to a dense, carry-forward table,
//   - balance: balancing requirement, active cells and compliance state machine,
//   - conddb: named sets of limits stored in a SQL database.
package cellbal // import "github.com/go-lpc/cellbal"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of cellbal and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/cellbal"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
