// Package sqlstore archives gas samples in SQL so hour-of-day statistics
// survive restarts and span more than the in-memory window.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crossbridge/types"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type GasArchive struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver ("sqlite" file path or "mysql" DSN) and
// creates the schema when missing.
func Open(driver, dsn string) (*GasArchive, error) {
	if dsn == "" {
		return nil, errors.New("archive dsn is required")
	}
	if driver != DriverSQLite && driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// single writer, avoids SQLITE_BUSY from the pooled connections
		db.SetMaxOpenConns(1)
	}
	a := &GasArchive{db: db, driver: driver}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *GasArchive) createSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stmt := `CREATE TABLE IF NOT EXISTS gas_samples (
		chain_id BIGINT NOT NULL,
		block_number BIGINT NOT NULL,
		sampled_at BIGINT NOT NULL,
		gas_price BIGINT NOT NULL,
		base_fee BIGINT NOT NULL,
		utilization DOUBLE NOT NULL,
		PRIMARY KEY (chain_id, block_number, sampled_at)
	)`
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create gas_samples: %w", err)
	}
	return nil
}

func (a *GasArchive) Close() error {
	return a.db.Close()
}

func (a *GasArchive) insertStatement() string {
	if a.driver == DriverMySQL {
		return `INSERT IGNORE INTO gas_samples (chain_id, block_number, sampled_at, gas_price, base_fee, utilization) VALUES (?, ?, ?, ?, ?, ?)`
	}
	return `INSERT OR IGNORE INTO gas_samples (chain_id, block_number, sampled_at, gas_price, base_fee, utilization) VALUES (?, ?, ?, ?, ?, ?)`
}

// Append stores a sample; a repeated (chain, block, time) is ignored.
func (a *GasArchive) Append(ctx context.Context, chainID int64, s types.GasSample) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.db.ExecContext(ctx, a.insertStatement(),
		chainID, int64(s.BlockNumber), s.Timestamp, int64(s.GasPrice), int64(s.BaseFee), s.Utilization)
	if err != nil {
		return fmt.Errorf("archive gas sample: %w", err)
	}
	return nil
}

// Since returns the samples of a chain taken at or after from, oldest first.
func (a *GasArchive) Since(ctx context.Context, chainID int64, from time.Time) ([]types.GasSample, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := a.db.QueryContext(ctx,
		`SELECT block_number, sampled_at, gas_price, base_fee, utilization FROM gas_samples
		WHERE chain_id = ? AND sampled_at >= ? ORDER BY sampled_at ASC`, chainID, from.Unix())
	if err != nil {
		return nil, fmt.Errorf("query gas samples: %w", err)
	}
	defer rows.Close()

	out := make([]types.GasSample, 0)
	for rows.Next() {
		var block, price, baseFee int64
		var s types.GasSample
		if err := rows.Scan(&block, &s.Timestamp, &price, &baseFee, &s.Utilization); err != nil {
			return nil, err
		}
		s.BlockNumber = uint64(block)
		s.GasPrice = uint64(price)
		s.BaseFee = uint64(baseFee)
		out = append(out, s)
	}
	return out, rows.Err()
}

// HourlyAverages returns the mean gas price per UTC hour over samples taken at
// or after from, and the number of samples behind each hour. Averaging runs
// here rather than in SQL because the two engines extract hours differently.
func (a *GasArchive) HourlyAverages(ctx context.Context, chainID int64, from time.Time) (map[int]uint64, map[int]int, error) {
	samples, err := a.Since(ctx, chainID, from)
	if err != nil {
		return nil, nil, err
	}
	avgs, counts := types.BucketByHour(samples)
	return avgs, counts, nil
}

// Prune deletes samples older than before and returns how many went.
func (a *GasArchive) Prune(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := a.db.ExecContext(ctx, `DELETE FROM gas_samples WHERE sampled_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune gas samples: %w", err)
	}
	return res.RowsAffected()
}
