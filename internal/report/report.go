// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report writes the outcome of a balancing check.
package report // import "github.com/go-lpc/cellbal/internal/report"

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-lpc/cellbal/balance"
	"github.com/go-lpc/cellbal/trc"
)

// WriteTable writes one aligned line per row of the report.
func WriteTable(w io.Writer, rep *balance.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	hdr := append([]string{"Index", "Time"}, rep.Columns...)
	hdr = append(hdr,
		"Mode", "Threshold", "Required", "Cells",
		"Active", "Flag", "Missing", "Extra",
		"PassFail", "Remark",
	)
	fmt.Fprintln(tw, strings.Join(hdr, "\t"))

	line := make([]string, 0, len(hdr))
	for i := range rep.Rows {
		row := &rep.Rows[i]
		line = line[:0]
		line = append(line, strconv.Itoa(row.Index), trc.Stamp(row.Time))
		for _, v := range row.Values {
			line = append(line, str(v.String()))
		}
		thr := "-"
		if row.HasThreshold {
			thr = strconv.FormatFloat(row.Threshold, 'g', -1, 64)
		}
		pass := "PASS"
		if !row.Pass() {
			pass = "FAIL"
		}
		line = append(line,
			row.Mode.String(), thr,
			strconv.FormatBool(row.Now), cells(row.Cells),
			cells(row.Active), strconv.FormatBool(row.Flag),
			cells(row.Missing), cells(row.Extra),
			pass, row.Remark(),
		)
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}

	err := tw.Flush()
	if err != nil {
		return fmt.Errorf("report: could not write table: %w", err)
	}
	return nil
}

// WriteResults writes the overall verdict as {"Result":"PASS"} or {"Result":"FAIL"}.
func WriteResults(w io.Writer, rep *balance.Report) error {
	err := json.NewEncoder(w).Encode(struct {
		Result string `json:"Result"`
	}{rep.Result()})
	if err != nil {
		return fmt.Errorf("report: could not write results: %w", err)
	}
	return nil
}

func str(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func cells(vs []int) string {
	if len(vs) == 0 {
		return "[]"
	}
	o := make([]string, len(vs))
	for i, v := range vs {
		o[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(o, ",") + "]"
}
