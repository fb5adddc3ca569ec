// Copyright 2025 Google LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package perf

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Supported store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const perfTable = "perf_results"

// Store persists perf records in a SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

// OpenStore opens and pings the database at dsn.
func OpenStore(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported perf store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", driver, err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the results table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	id := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverMySQL {
		id = "id BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	run_id VARCHAR(64) NOT NULL,
	test_case_name VARCHAR(255) NOT NULL,
	tool VARCHAR(64) NOT NULL,
	platform VARCHAR(64),
	location VARCHAR(64),
	vm_size VARCHAR(128),
	distro_version VARCHAR(128),
	kernel_version VARCHAR(128),
	lis_version VARCHAR(64),
	protocol_type VARCHAR(16),
	metric_name VARCHAR(255) NOT NULL,
	metric_value DOUBLE NOT NULL,
	metric_unit VARCHAR(32),
	metric_relativity VARCHAR(16),
	created_at VARCHAR(40) NOT NULL
)`, perfTable, id)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", perfTable, err)
	}
	return nil
}

// Insert writes records in one transaction.
func (s *Store) Insert(ctx context.Context, records ...Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+perfTable+` (
	run_id, test_case_name, tool, platform, location, vm_size, distro_version,
	kernel_version, lis_version, protocol_type, metric_name, metric_value,
	metric_unit, metric_relativity, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.RunID, r.TestCaseName, r.Tool, r.Platform, r.Location, r.VMSize, r.DistroVersion,
			r.KernelVersion, r.LISVersion, r.ProtocolType, r.MetricName, r.MetricValue,
			r.MetricUnit, string(r.MetricRelativity), r.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", r.TestCaseName, r.MetricName, err)
		}
	}
	return tx.Commit()
}

// Query returns the records of testCase in insertion order.
func (s *Store) Query(ctx context.Context, testCase string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
	run_id, test_case_name, tool, platform, location, vm_size, distro_version,
	kernel_version, lis_version, protocol_type, metric_name, metric_value,
	metric_unit, metric_relativity, created_at
FROM `+perfTable+` WHERE test_case_name = ? ORDER BY id`, testCase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var rel, created string
		if err := rows.Scan(
			&r.RunID, &r.TestCaseName, &r.Tool, &r.Platform, &r.Location, &r.VMSize, &r.DistroVersion,
			&r.KernelVersion, &r.LISVersion, &r.ProtocolType, &r.MetricName, &r.MetricValue,
			&r.MetricUnit, &rel, &created,
		); err != nil {
			return nil, err
		}
		r.MetricRelativity = Relativity(rel)
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("bad created_at %q: %w", created, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
