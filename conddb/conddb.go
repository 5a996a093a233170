// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds named sets of balancing limits in a condition
// database, either a MySQL server or a local SQLite file.
package conddb // import "github.com/go-lpc/cellbal/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/cellbal/balance"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const timeout = 5 * time.Second

// ErrNotFound is returned when a limits set does not exist.
var ErrNotFound = errors.New("conddb: no such limits set")

// DB exposes convenience methods to retrieve balancing limits
// from the condition database.
type DB struct {
	db  *sql.DB
	drv string
}

// LimitSet describes a named set of limits.
type LimitSet struct {
	Name    string
	Created string
	Comment string
}

// Open opens a connection to the condition database.
// drv is the name of a database/sql driver, "mysql" or "sqlite".
func Open(drv, dsn string) (*DB, error) {
	db, err := sql.Open(drv, dsn)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %s db: %w", drv, err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %s db: %w", drv, err)
	}

	return &DB{db: db, drv: drv}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Driver returns the name of the database driver.
func (db *DB) Driver() string { return db.drv }

func (db *DB) LastLimitsName(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM limits ORDER BY created DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query last limits set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get limits set name: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for last limits set: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving last limits set: %w", err)
	}

	if name == "" {
		return name, ErrNotFound
	}

	return name, nil
}

func (db *DB) LimitSets(ctx context.Context) ([]LimitSet, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sets []LimitSet
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name, created, comment FROM limits ORDER BY created",
	)
	if err != nil {
		return sets, fmt.Errorf("conddb: could not run limits sets query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var set LimitSet
		err = rows.Scan(&set.Name, &set.Created, &set.Comment)
		if err != nil {
			return sets, fmt.Errorf("conddb: could not scan limits sets: %w", err)
		}
		sets = append(sets, set)
	}

	if err := rows.Err(); err != nil {
		return sets, fmt.Errorf("conddb: could not scan db for limits sets: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return sets, fmt.Errorf("conddb: context error while retrieving limits sets: %w", err)
	}

	return sets, nil
}

// Limits returns the limits set name.
func (db *DB) Limits(ctx context.Context, name string) (balance.Limits, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		lim   balance.Limits
		found = false
		secs  [7]float64
	)

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT
	charging_threshold, temp_limit, dead_cell_floor, dead_sensor_floor,
	activation_grace, mismatch_grace, alternating_grace,
	segment_max, rest_combined_max, rest_normal_max, gap_reset
FROM limits WHERE name=?
`,
		name,
	)
	if err != nil {
		return lim, fmt.Errorf("conddb: could not run limits query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(
			&lim.ChargingThreshold, &lim.TempLimit,
			&lim.DeadCellFloor, &lim.DeadSensorFloor,
			&secs[0], &secs[1], &secs[2],
			&secs[3], &secs[4], &secs[5], &secs[6],
		)
		if err != nil {
			return lim, fmt.Errorf("conddb: could not scan limits %q: %w", name, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return lim, fmt.Errorf("conddb: could not scan db for limits %q: %w", name, err)
	}
	if !found {
		return lim, fmt.Errorf("conddb: could not find limits %q: %w", name, ErrNotFound)
	}

	for i, dst := range []*time.Duration{
		&lim.ActivationGrace, &lim.MismatchGrace, &lim.AlternatingGrace,
		&lim.SegmentMax, &lim.RestCombinedMax, &lim.RestNormalMax,
		&lim.GapReset,
	} {
		*dst = balance.Seconds(secs[i])
	}

	lim.Bands, err = db.bands(ctx, name)
	if err != nil {
		return lim, err
	}

	lim.ChargingCodes, err = db.codes(ctx, name)
	if err != nil {
		return lim, err
	}

	if err := ctx.Err(); err != nil {
		return lim, fmt.Errorf("conddb: context error while retrieving limits %q: %w", name, err)
	}

	err = lim.Validate()
	if err != nil {
		return lim, fmt.Errorf("conddb: invalid limits %q: %w", name, err)
	}

	return lim, nil
}

func (db *DB) bands(ctx context.Context, name string) ([]balance.Band, error) {
	var bands []balance.Band
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT low, high, threshold FROM discharge_bands WHERE limits=? ORDER BY low",
		name,
	)
	if err != nil {
		return bands, fmt.Errorf("conddb: could not run discharge bands query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b balance.Band
		err = rows.Scan(&b.Low, &b.High, &b.Threshold)
		if err != nil {
			return bands, fmt.Errorf("conddb: could not scan discharge bands of %q: %w", name, err)
		}
		bands = append(bands, b)
	}

	if err := rows.Err(); err != nil {
		return bands, fmt.Errorf("conddb: could not scan db for discharge bands of %q: %w", name, err)
	}

	return bands, nil
}

func (db *DB) codes(ctx context.Context, name string) ([]int64, error) {
	var codes []int64
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT code FROM charging_codes WHERE limits=? ORDER BY code",
		name,
	)
	if err != nil {
		return codes, fmt.Errorf("conddb: could not run charging codes query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code int64
		err = rows.Scan(&code)
		if err != nil {
			return codes, fmt.Errorf("conddb: could not scan charging codes of %q: %w", name, err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return codes, fmt.Errorf("conddb: could not scan db for charging codes of %q: %w", name, err)
	}

	return codes, nil
}
