package report

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

// ClickHouseSink inserts trade records into a ReplacingMergeTree table keyed
// by position ID, so re-running the same replay does not duplicate rows.
type ClickHouseSink struct {
	conn     clickhouse.Conn
	database string
	table    string
	logger   *zap.Logger
}

// OpenClickHouse connects, pings and ensures the schema exists
func OpenClickHouse(ctx context.Context, addr, database, table string, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &ClickHouseSink{conn: conn, database: database, table: table, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if err := s.conn.Exec(ctx, tableDDL(s.database, s.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func tableDDL(database, table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			id String,
			instrument LowCardinality(String),
			direction LowCardinality(String),
			module LowCardinality(String),
			session LowCardinality(String),
			entry_time DateTime64(9, 'UTC'),
			entry_price Float64,
			signal_price Float64,
			stop_price Float64,
			lots Float64,
			entry_score Float64,
			entry_regime LowCardinality(String),
			risk_fraction Float64,
			partial_fraction Float64,
			partial_price Float64,
			partial_time DateTime64(9, 'UTC'),
			trailing_stop Float64,
			close_price Float64,
			close_time DateTime64(9, 'UTC'),
			close_reason LowCardinality(String),
			partial_r Float64,
			runner_r Float64,
			realized_r Float64,
			commission Decimal(18, 2),
			pnl Decimal(18, 2),
			calibration_source String,
			inserted_at DateTime64(3)
		)
		ENGINE = ReplacingMergeTree(inserted_at)
		ORDER BY (instrument, close_time, id)
	`, database, table)
}

// columns returns the insert values of a record in table order, without
// inserted_at
func (r Record) columns() []any {
	return []any{
		r.ID, r.Instrument, r.Direction, r.Module, r.Session,
		chTime(r.EntryTime), r.EntryPrice, r.SignalPrice, r.StopPrice, r.Lots,
		r.EntryScore, r.EntryRegime, r.RiskFraction,
		r.PartialFraction, r.PartialPrice, chTime(r.PartialTime), r.TrailingStop,
		r.ClosePrice, chTime(r.CloseTime), r.CloseReason,
		r.PartialR, r.RunnerR, r.RealizedR,
		r.Commission, r.PnL, r.CalibrationSource,
	}
}

// chTime maps the zero time, which DateTime64 cannot hold, to the epoch
func chTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}

// Write inserts records in one batch
func (s *ClickHouseSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", s.database, s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	for _, r := range records {
		if err := batch.Append(append(r.columns(), now)...); err != nil {
			return fmt.Errorf("batch append %s: %w", r.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	s.logger.Info("[REPORT] records inserted",
		zap.Int("rows", len(records)),
		zap.String("table", s.database+"."+s.table))
	return nil
}

// Close releases the connection
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
