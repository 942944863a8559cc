package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables, serving
// the operator/query HTTP API. Projections trail the ledger's authoritative
// in-memory state; only the balance response carries an as_of_sequence
// watermark, and the history responses carry none.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a user's collateral and PnL sub-ledger balances.
func (qs *QueryService) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	collateralPath := fmt.Sprintf("user:%s:collateral", userID)
	collateral, err := qs.getProjectedBalance(ctx, collateralPath)
	if err != nil {
		return nil, err
	}

	pnlPath := fmt.Sprintf("user:%s:pnl", userID)
	pnl, err := qs.getProjectedBalance(ctx, pnlPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Collateral:   collateral,
		PnL:          pnl,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPositions returns all non-zero positions for a user across venues.
func (qs *QueryService) GetPositions(ctx context.Context, userID uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT venue_id, instrument, position_id, side, size, entry_price, sequence, stale
		FROM projections.positions
		WHERE user_id = $1 AND size != 0
		ORDER BY venue_id, instrument
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.UserID = userID
		p.Sequence = asOfSeq
		if err := rows.Scan(
			&p.VenueID, &p.Instrument, &p.PositionID, &p.Side, &p.Size,
			&p.EntryPrice, &p.Sequence, &p.Stale,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetSettlementHistory returns settlement coordinator actions for a user
// with cursor-based pagination.
func (qs *QueryService) GetSettlementHistory(
	ctx context.Context,
	userID uuid.UUID,
	venueID *string,
	limit int,
	beforeSequence *int64,
) ([]SettlementHistoryResponse, error) {
	query := `
		SELECT venue_id, kind, ref_id, amount, journal_id, sequence, timestamp
		FROM projections.settlement_history
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	argIdx := 2

	if venueID != nil {
		query += fmt.Sprintf(" AND venue_id = $%d", argIdx)
		args = append(args, *venueID)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []SettlementHistoryResponse
	for rows.Next() {
		var h SettlementHistoryResponse
		h.UserID = userID
		if err := rows.Scan(
			&h.VenueID, &h.Kind, &h.RefID, &h.Amount, &h.JournalID, &h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts,
// with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks that every asset's balances in the persisted
// projection sum to zero across all accounts, the external token account
// included (the zero-sum property BalanceTracker.ComputeGlobalBalance
// computes in memory, re-run out of process).
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.UnbalancedAssets) == 0
	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
