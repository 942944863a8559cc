package persistence

import (
	"context"
	"database/sql"

	"github.com/xvault/settlement/internal/oracle"
)

// PostgresOracleConfigStore implements oracle.ConfigStore, the durable
// backing store fronted by Oracle's per-symbol LRU.
type PostgresOracleConfigStore struct {
	db *sql.DB
}

func NewPostgresOracleConfigStore(db *sql.DB) *PostgresOracleConfigStore {
	return &PostgresOracleConfigStore{db: db}
}

// Load reads a symbol's oracle configuration, or (nil, nil) if unconfigured.
func (s *PostgresOracleConfigStore) Load(ctx context.Context, symbol string) (*oracle.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, kind, feed_id, max_staleness, price_band_bps, decimals, max_fallback_age,
		       reference_price, reference_time, last_valid_price, last_valid_time
		FROM settlement.oracle_configs
		WHERE symbol = $1
	`, symbol)

	var cfg oracle.Config
	var kind int32
	err := row.Scan(
		&cfg.Symbol, &kind, &cfg.FeedID, &cfg.MaxStaleness, &cfg.PriceBandBps, &cfg.Decimals, &cfg.MaxFallbackAge,
		&cfg.ReferencePrice, &cfg.ReferenceTime, &cfg.LastValidPrice, &cfg.LastValidTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Kind = oracle.FeedKind(kind)
	return &cfg, nil
}

// Save upserts a symbol's oracle configuration.
func (s *PostgresOracleConfigStore) Save(ctx context.Context, cfg *oracle.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement.oracle_configs
			(symbol, kind, feed_id, max_staleness, price_band_bps, decimals, max_fallback_age,
			 reference_price, reference_time, last_valid_price, last_valid_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (symbol) DO UPDATE SET
			kind = $2, feed_id = $3, max_staleness = $4, price_band_bps = $5,
			decimals = $6, max_fallback_age = $7, reference_price = $8,
			reference_time = $9, last_valid_price = $10, last_valid_time = $11
	`, cfg.Symbol, int32(cfg.Kind), cfg.FeedID, cfg.MaxStaleness, cfg.PriceBandBps, cfg.Decimals, cfg.MaxFallbackAge,
		cfg.ReferencePrice, cfg.ReferenceTime, cfg.LastValidPrice, cfg.LastValidTime)
	return err
}
