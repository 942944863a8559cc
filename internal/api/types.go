package api

import "github.com/google/uuid"

// BalanceResponse represents a user's ledger sub-account balances.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`

	Collateral int64 `json:"collateral"` // fixedpoint.Money
	PnL        int64 `json:"pnl"`        // fixedpoint.Money, signed

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents one (venue, instrument) position.
type PositionResponse struct {
	UserID     uuid.UUID `json:"user_id"`
	VenueID    string    `json:"venue_id"`
	Instrument string    `json:"instrument"`
	PositionID string    `json:"position_id"`
	Side       int8      `json:"side"`
	Size       int64     `json:"size"`
	EntryPrice int64     `json:"entry_price"`
	Sequence   int64     `json:"sequence"`
	Stale      bool      `json:"stale"`
}

// EquityResponse represents one venue's equity allocation for a user,
// as last computed by the equity engine.
type EquityResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	VenueID  string    `json:"venue_id"`
	Equity   int64     `json:"equity"`
	Sequence int64     `json:"sequence"`
}

// SettlementHistoryResponse represents one settlement coordinator action.
type SettlementHistoryResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	VenueID   string    `json:"venue_id"`
	Kind      string    `json:"kind"`
	RefID     string    `json:"ref_id"`
	Amount    int64     `json:"amount"`
	JournalID string    `json:"journal_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check
// (ledger.InvariantValidator).
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with a non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}

// NettingBatchResponse mirrors netting.BatchReport for API consumers.
type NettingBatchResponse struct {
	VaultID      string `json:"vault_id"`
	BatchID      string `json:"batch_id"`
	Root         string `json:"root"`
	GrossVolume  int64  `json:"gross_volume"`
	NettedVolume int64  `json:"netted_volume"`
	Savings      int64  `json:"savings"`
	UserCount    int    `json:"user_count"`
}

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}
