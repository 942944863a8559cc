package projection

import (
	"github.com/google/uuid"
)

// SettlementHistoryEntry represents one settlement coordinator action
// (a realized-PnL credit, a collateral seizure, or a venue shortfall
// seizure) applied against a user's ledger sub-accounts.
type SettlementHistoryEntry struct {
	UserID    uuid.UUID
	VenueID   string
	Kind      string // "credit", "seize_pnl", "seize_shortfall"
	RefID     string
	Amount    int64 // fixedpoint.Money, always positive
	JournalID string
	Sequence  int64
	Timestamp int64
}

// SettlementHistoryProjection maintains queryable settlement history.
type SettlementHistoryProjection struct {
	entries []SettlementHistoryEntry
}

func NewSettlementHistoryProjection() *SettlementHistoryProjection {
	return &SettlementHistoryProjection{
		entries: make([]SettlementHistoryEntry, 0),
	}
}

// AddEntry records a settlement action.
func (p *SettlementHistoryProjection) AddEntry(entry SettlementHistoryEntry) {
	p.entries = append(p.entries, entry)
}

// QueryByUser returns the most recent settlement history for a user,
// newest first.
func (p *SettlementHistoryProjection) QueryByUser(userID uuid.UUID, limit int) []SettlementHistoryEntry {
	result := make([]SettlementHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].UserID == userID {
			result = append(result, p.entries[i])
		}
	}

	return result
}
