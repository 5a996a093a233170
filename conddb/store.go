// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/cellbal/balance"
)

const createdLayout = "2006-01-02 15:04:05.000000000"

var now = func() time.Time { return time.Now().UTC() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS limits (
	name               VARCHAR(64) NOT NULL PRIMARY KEY,
	created            VARCHAR(32) NOT NULL,
	comment            VARCHAR(255) NOT NULL,
	charging_threshold DOUBLE NOT NULL,
	temp_limit         DOUBLE NOT NULL,
	dead_cell_floor    DOUBLE NOT NULL,
	dead_sensor_floor  DOUBLE NOT NULL,
	activation_grace   DOUBLE NOT NULL,
	mismatch_grace     DOUBLE NOT NULL,
	alternating_grace  DOUBLE NOT NULL,
	segment_max        DOUBLE NOT NULL,
	rest_combined_max  DOUBLE NOT NULL,
	rest_normal_max    DOUBLE NOT NULL,
	gap_reset          DOUBLE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS discharge_bands (
	limits    VARCHAR(64) NOT NULL,
	low       DOUBLE NOT NULL,
	high      DOUBLE NOT NULL,
	threshold DOUBLE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS charging_codes (
	limits VARCHAR(64) NOT NULL,
	code   BIGINT NOT NULL
)`,
}

// Init creates the limits tables, if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, stmt := range schema {
		_, err := db.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("conddb: could not create tables: %w", err)
		}
	}
	return nil
}

// Store records lim under the provided name.
// Store fails if a limits set with that name already exists.
func (db *DB) Store(ctx context.Context, name, comment string, lim balance.Limits) error {
	if name == "" {
		return fmt.Errorf("conddb: empty limits set name")
	}
	err := lim.Validate()
	if err != nil {
		return fmt.Errorf("conddb: could not store limits %q: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conddb: could not start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`
INSERT INTO limits (
	name, created, comment,
	charging_threshold, temp_limit, dead_cell_floor, dead_sensor_floor,
	activation_grace, mismatch_grace, alternating_grace,
	segment_max, rest_combined_max, rest_normal_max, gap_reset
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		name, now().Format(createdLayout), comment,
		lim.ChargingThreshold, lim.TempLimit, lim.DeadCellFloor, lim.DeadSensorFloor,
		lim.ActivationGrace.Seconds(), lim.MismatchGrace.Seconds(), lim.AlternatingGrace.Seconds(),
		lim.SegmentMax.Seconds(), lim.RestCombinedMax.Seconds(), lim.RestNormalMax.Seconds(),
		lim.GapReset.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not insert limits %q: %w", name, err)
	}

	for _, b := range lim.Bands {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO discharge_bands (limits, low, high, threshold) VALUES (?, ?, ?, ?)",
			name, b.Low, b.High, b.Threshold,
		)
		if err != nil {
			return fmt.Errorf("conddb: could not insert discharge band of %q: %w", name, err)
		}
	}

	for _, code := range lim.ChargingCodes {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO charging_codes (limits, code) VALUES (?, ?)",
			name, code,
		)
		if err != nil {
			return fmt.Errorf("conddb: could not insert charging code of %q: %w", name, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("conddb: could not commit limits %q: %w", name, err)
	}
	return nil
}
