package clickhouse

import "fmt"

// ArenaSchema returns the DDL for the trade log, the epoch log, bot snapshots and posterior snapshots.
// Posterior counters only grow, so the newest row per cell is that cell's current value.
// trades is an append log: a resolution re-inserts the row with a higher version and FINAL reads the latest.
func ArenaSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
	trade_id String,
	bot_id String,
	market_id String,
	direction LowCardinality(String),
	stake Decimal(18, 6),
	fee Decimal(18, 6),
	entry_price Float64,
	resolution_price Float64,
	outcome LowCardinality(String),
	pnl Decimal(18, 6),
	equity_after Decimal(18, 6),
	confidence Float64,
	bucket String,
	profile LowCardinality(String),
	open_time DateTime64(3, 'UTC'),
	close_time Nullable(DateTime64(3, 'UTC')),
	version UInt8
) ENGINE = ReplacingMergeTree(version)
ORDER BY (trade_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.epochs (
	epoch_id Int64,
	ts DateTime64(3, 'UTC'),
	window_start DateTime64(3, 'UTC'),
	replaced Array(String),
	created Array(String),
	record String
) ENGINE = MergeTree
ORDER BY (epoch_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.bots (
	bot_id String,
	strategy_type LowCardinality(String),
	generation UInt32,
	parent_ids Array(String),
	params String,
	lifetime_pnl Decimal(18, 6),
	created_at DateTime64(3, 'UTC'),
	retired_at Nullable(DateTime64(3, 'UTC')),
	saved_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(saved_at)
ORDER BY (bot_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.posteriors (
	bot_id String,
	signal LowCardinality(String),
	bucket String,
	successes Float64,
	failures Float64,
	saved_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(saved_at)
ORDER BY (bot_id, signal, bucket)`, database),
	}
}
