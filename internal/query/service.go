package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// criticalRatio is the 1.5 TCR threshold below which the system runs in
// recovery mode.
var criticalRatio, _ = new(big.Int).SetString("1500000000000000000", 10)

// QueryService provides read-only access to projection tables.
// Per doc §16: queries are served via gRPC and HTTP/JSON, reading from
// PostgreSQL projection tables. All responses include as_of_sequence for
// freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a user's stable token balance.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	stablePath := fmt.Sprintf("user:%s:stable:STABLE", userID)
	balance, err := qs.getProjectedBalance(ctx, stablePath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:        userID,
		StableBalance: balance,
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetTrove returns an account's Trove.
func (qs *QueryService) GetTrove(
	ctx context.Context,
	owner uuid.UUID,
) (*TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var t TroveResponse
	t.Owner = owner
	t.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, debt, stake, status, version
		FROM projections.troves
		WHERE owner = $1
	`, owner).Scan(&t.Collateral, &t.Debt, &t.Stake, &t.Status, &t.Version)
	if err == sql.ErrNoRows {
		return nil, nil // No Trove for this account
	}
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// GetActiveTroves returns all active Troves ordered by debt descending,
// with cursor-based pagination.
func (qs *QueryService) GetActiveTroves(
	ctx context.Context,
	limit int,
	afterOwner *uuid.UUID,
) ([]TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT owner, collateral, debt, stake, status, version
		FROM projections.troves
		WHERE status = 1
	`
	args := []interface{}{}
	argIdx := 1

	if afterOwner != nil {
		query += fmt.Sprintf(" AND owner > $%d", argIdx)
		args = append(args, *afterOwner)
		argIdx++
	}

	query += " ORDER BY owner"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var troves []TroveResponse
	for rows.Next() {
		var t TroveResponse
		t.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&t.Owner, &t.Collateral, &t.Debt, &t.Stake, &t.Status, &t.Version,
		); err != nil {
			return nil, err
		}
		troves = append(troves, t)
	}

	return troves, rows.Err()
}

// GetSystemStatus returns the pool holdings and system totals.
func (qs *QueryService) GetSystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SystemStatusResponse{AsOfSequence: asOfSeq}

	pools := []struct {
		path string
		dst  *string
	}{
		{"system:active_pool:COLL", &resp.ActiveCollateral},
		{"system:default_pool:COLL", &resp.DefaultCollateral},
		{"system:stability_pool:COLL", &resp.StabilityCollateral},
		{"system:stability_pool:STABLE", &resp.StabilityDeposits},
	}
	for _, p := range pools {
		if *p.dst, err = qs.getProjectedBalance(ctx, p.path); err != nil {
			return nil, err
		}
	}

	// Debt lives on Troves, not in a token account.
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(debt), 0)::text, COALESCE(SUM(collateral), 0)::text
		FROM projections.troves
		WHERE status = 1
	`).Scan(&resp.TotalDebt, &resp.TotalCollateral)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	resp.ActiveDebt = resp.TotalDebt
	resp.DefaultDebt = "0"

	if err := qs.attachPriceAndTCR(ctx, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// attachPriceAndTCR fills the price fields and derives TCR from the
// projected totals. CCR is 1.5; below it the system is in recovery mode.
func (qs *QueryService) attachPriceAndTCR(ctx context.Context, resp *SystemStatusResponse) error {
	var price string
	err := qs.db.QueryRowContext(ctx, `
		SELECT price::text, price_sequence
		FROM projections.price_state
		WHERE state_id = 'main'
	`).Scan(&price, &resp.PriceSequence)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	resp.Price = price

	priceInt, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return fmt.Errorf("bad projected price: %q", price)
	}
	coll, ok := new(big.Int).SetString(resp.TotalCollateral, 10)
	if !ok {
		return fmt.Errorf("bad total collateral: %q", resp.TotalCollateral)
	}
	debt, ok := new(big.Int).SetString(resp.TotalDebt, 10)
	if !ok {
		return fmt.Errorf("bad total debt: %q", resp.TotalDebt)
	}
	if debt.Sign() == 0 {
		return nil
	}

	tcr := new(big.Int).Mul(coll, priceInt)
	tcr.Div(tcr, debt)
	resp.TCR = tcr.String()
	resp.RecoveryMode = tcr.Cmp(criticalRatio) < 0
	return nil
}

// GetJournalHistory returns journal entries for a user with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
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

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
// Per doc §16: admin API for integrity verification.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text as total
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
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

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

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}
