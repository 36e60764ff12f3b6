package projection

import (
	"context"
	"database/sql"
	"fmt"

	"TroveLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence         int64
	EventType        string
	JournalEntries   []JournalEntry
	TroveUpdates     []TroveUpdate
	StabilityUpdates []StabilityDepositUpdate
	StabilityPool    *StabilityPoolState
	PriceState       *PriceState
	Liquidations     []LiquidationTag
	Timestamp        int64
}

// PriceState is the latest accepted oracle price, written as a singleton row.
type PriceState struct {
	Price         string
	PriceSequence int64
	Version       int64
}

// TroveUpdate is one Trove record as of this event. Version gates stale
// writes: replayed events never regress a projected row.
type TroveUpdate struct {
	Owner      string
	Collateral string
	Debt       string
	Stake      string
	Status     int32
	Version    int64
}

// StabilityDepositUpdate is one depositor record with its compounding
// snapshot. Wads are decimal strings.
type StabilityDepositUpdate struct {
	Depositor string
	Initial   string
	PSnapshot string
	SSnapshot string
	Epoch     int64
	Scale     int64
	Version   int64
}

// StabilityPoolState is the pool-wide compounding state, written as a
// singleton row plus one row per (epoch, scale) sum bucket.
type StabilityPoolState struct {
	Product       string
	Epoch         int64
	Scale         int64
	TotalDeposits string
	Sums          []StabilitySumUpdate
	Version       int64
}

type StabilitySumUpdate struct {
	Epoch int64
	Scale int64
	Value string
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is a wad decimal string; the balances column is NUMERIC.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// Per doc §12: projection channel is non-blocking with drop.
// If projections fall behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *TroveHistoryProjection
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewTroveHistoryProjection(0),
		logger:    observability.NewLogger("projection"),
	}
}

// History exposes the in-memory liquidation/redemption history for the
// query API.
func (pw *ProjectionWorker) History() *TroveHistoryProjection {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Int64("sequence", output.Sequence).Err(err).Msg("projection update failed")
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			switch output.EventType {
			case "Liquidate", "LiquidateBatch":
				pw.history.RecordLiquidation(output)
			case "Redeem":
				pw.history.RecordRedemption(output)
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Update trove projections
	for _, t := range output.TroveUpdates {
		if err := upsertTrove(ctx, tx, t); err != nil {
			return fmt.Errorf("trove projection: %w", err)
		}
	}

	// Update stability pool projections
	for _, d := range output.StabilityUpdates {
		if err := upsertStabilityDeposit(ctx, tx, d); err != nil {
			return fmt.Errorf("stability deposit projection: %w", err)
		}
	}
	if output.StabilityPool != nil {
		if err := upsertStabilityState(ctx, tx, output.StabilityPool); err != nil {
			return fmt.Errorf("stability state projection: %w", err)
		}
	}
	if output.PriceState != nil {
		if err := upsertPriceState(ctx, tx, output.PriceState); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal leg to projections.balances.
// Debit increases the account, credit decreases it, matching the in-core
// balance tracker.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, sequence int64, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, sequence); err != nil {
		return err
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// upsertTrove writes one Trove row, version-gated so an older replayed
// record never overwrites a newer one.
func upsertTrove(ctx context.Context, ex execer, t TroveUpdate) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.troves (owner, collateral, debt, stake, status, version)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6)
		ON CONFLICT (owner) DO UPDATE
			SET collateral = EXCLUDED.collateral,
			    debt = EXCLUDED.debt,
			    stake = EXCLUDED.stake,
			    status = EXCLUDED.status,
			    version = EXCLUDED.version
			WHERE projections.troves.version < EXCLUDED.version
	`, t.Owner, t.Collateral, t.Debt, t.Stake, t.Status, t.Version)
	return err
}

// upsertStabilityDeposit writes one depositor row, version-gated like the
// trove rows.
func upsertStabilityDeposit(ctx context.Context, ex execer, d StabilityDepositUpdate) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.stability_deposits (depositor, initial, p_snapshot, s_snapshot, epoch, scale, version)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7)
		ON CONFLICT (depositor) DO UPDATE
			SET initial = EXCLUDED.initial,
			    p_snapshot = EXCLUDED.p_snapshot,
			    s_snapshot = EXCLUDED.s_snapshot,
			    epoch = EXCLUDED.epoch,
			    scale = EXCLUDED.scale,
			    version = EXCLUDED.version
			WHERE projections.stability_deposits.version < EXCLUDED.version
	`, d.Depositor, d.Initial, d.PSnapshot, d.SSnapshot, d.Epoch, d.Scale, d.Version)
	return err
}

// upsertStabilityState writes the singleton pool-state row and every sum
// bucket. Sum buckets only ever grow, so they are not version-gated.
func upsertStabilityState(ctx context.Context, ex execer, s *StabilityPoolState) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.stability_state (state_id, product, epoch, scale, total_deposits, version)
		VALUES ('main', $1::numeric, $2, $3, $4::numeric, $5)
		ON CONFLICT (state_id) DO UPDATE
			SET product = EXCLUDED.product,
			    epoch = EXCLUDED.epoch,
			    scale = EXCLUDED.scale,
			    total_deposits = EXCLUDED.total_deposits,
			    version = EXCLUDED.version
			WHERE projections.stability_state.version < EXCLUDED.version
	`, s.Product, s.Epoch, s.Scale, s.TotalDeposits, s.Version); err != nil {
		return err
	}

	for _, sum := range s.Sums {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO projections.stability_sums (epoch, scale, value)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (epoch, scale) DO UPDATE
				SET value = EXCLUDED.value
				WHERE projections.stability_sums.value < EXCLUDED.value
		`, sum.Epoch, sum.Scale, sum.Value); err != nil {
			return err
		}
	}
	return nil
}

// upsertPriceState writes the singleton oracle price row, version-gated.
func upsertPriceState(ctx context.Context, ex execer, p *PriceState) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.price_state (state_id, price, price_sequence, version)
		VALUES ('main', $1::numeric, $2, $3)
		ON CONFLICT (state_id) DO UPDATE
			SET price = EXCLUDED.price,
			    price_sequence = EXCLUDED.price_sequence,
			    version = EXCLUDED.version
			WHERE projections.price_state.version < EXCLUDED.version
	`, p.Price, p.PriceSequence, p.Version)
	return err
}

// BackfillPrice pushes the recovered oracle price into the projection.
func BackfillPrice(ctx context.Context, db *sql.DB, p *PriceState) error {
	return upsertPriceState(ctx, db, p)
}

// BackfillStability pushes the full recovered stability-pool state into the
// projection after a snapshot restore.
func BackfillStability(ctx context.Context, db *sql.DB, deposits []StabilityDepositUpdate, pool *StabilityPoolState) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range deposits {
		if err := upsertStabilityDeposit(ctx, tx, d); err != nil {
			return fmt.Errorf("backfill stability deposit %s: %w", d.Depositor, err)
		}
	}
	if pool != nil {
		if err := upsertStabilityState(ctx, tx, pool); err != nil {
			return fmt.Errorf("backfill stability state: %w", err)
		}
	}

	return tx.Commit()
}

// BackfillTroves pushes a full Trove set into the projection, used after a
// snapshot restore when live updates alone cannot reconstruct the table.
func BackfillTroves(ctx context.Context, db *sql.DB, updates []TroveUpdate) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range updates {
		if err := upsertTrove(ctx, tx, t); err != nil {
			return fmt.Errorf("backfill trove %s: %w", t.Owner, err)
		}
	}

	return tx.Commit()
}

// RebuildProjections rebuilds the balance projection from the event log.
// Per doc §11: projections can be rebuilt by replaying the event log.
// The troves table is not journal-derivable; it is repopulated via
// BackfillTroves once the core has replayed to head.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	// Truncate all projection tables
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild from journal entries: debits add
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits subtract
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	logger := observability.NewLogger("projection")
	logger.Info().Msg("projection rebuild complete")
	return nil
}
