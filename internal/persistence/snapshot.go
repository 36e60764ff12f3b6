package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Per doc §11: snapshots contain balances, Troves, pool holdings, stability
// pool compounding state, redistribution accumulators, the oracle price,
// sequence counters, the idempotency LRU, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of core.SnapshotState.
// Wads are decimal strings; NUMERIC-sized values do not fit in int64.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`

	Balances []BalanceSnap `json:"balances"`

	Troves                  []TroveSnap `json:"troves"`
	TotalStakes             string      `json:"total_stakes"`
	TotalStakesSnapshot     string      `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string      `json:"total_collateral_snapshot"`
	TotalFees               string      `json:"total_fees"`

	ActiveCollateral    string `json:"active_collateral"`
	ActiveDebt          string `json:"active_debt"`
	DefaultCollateral   string `json:"default_collateral"`
	DefaultDebt         string `json:"default_debt"`
	StabilityCollateral string `json:"stability_collateral"`

	StabilityDeposits []DepositSnap `json:"stability_deposits"`
	StabilityTotal    string        `json:"stability_total"`
	Product           string        `json:"product"`
	Epoch             int64         `json:"epoch"`
	Scale             int64         `json:"scale"`
	StabilityCollErr  string        `json:"stability_coll_err"`
	StabilityDebtErr  string        `json:"stability_debt_err"`
	Sums              []SumSnap     `json:"sums"`

	CollateralPerStake string `json:"collateral_per_stake"`
	DebtPerStake       string `json:"debt_per_stake"`
	RedistCollErr      string `json:"redist_coll_err"`
	RedistDebtErr      string `json:"redist_debt_err"`

	Price         string `json:"price"`
	PriceSequence uint64 `json:"price_sequence"`
	PriceSet      bool   `json:"price_set"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	CreatedAt       time.Time        `json:"created_at"`
}

// BalanceSnap is one ledger account balance. The balance is a signed
// decimal string; external boundary accounts run negative.
type BalanceSnap struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id"`
	SubType  uint8  `json:"sub_type"`
	AssetID  uint16 `json:"asset_id"`
	Balance  string `json:"balance"`
}

// TroveSnap is a serializable Trove record.
type TroveSnap struct {
	Owner              string `json:"owner"`
	Collateral         string `json:"collateral"`
	Debt               string `json:"debt"`
	Stake              string `json:"stake"`
	Status             int32  `json:"status"`
	OwnerIndex         int    `json:"owner_index"`
	CollateralPerStake string `json:"snap_collateral_per_stake"`
	DebtPerStake       string `json:"snap_debt_per_stake"`
	Version            int64  `json:"version"`
}

// DepositSnap is a serializable stability pool deposit with its P/S/epoch/scale snapshot.
type DepositSnap struct {
	Depositor string `json:"depositor"`
	Initial   string `json:"initial"`
	P         string `json:"p"`
	S         string `json:"s"`
	Epoch     int64  `json:"epoch"`
	Scale     int64  `json:"scale"`
}

// SumSnap is one S accumulator bucket.
type SumSnap struct {
	Epoch int64  `json:"epoch"`
	Scale int64  `json:"scale"`
	Value string `json:"value"`
}

func wadString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseSnapWad(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", field, err)
	}
	return v, nil
}

// FromCoreState converts the core's typed snapshot into serializable form.
func FromCoreState(cs *core.SnapshotState) *SnapshotData {
	snap := &SnapshotData{
		Sequence:  cs.Sequence,
		StateHash: cs.StateHash[:],

		TotalStakes:             wadString(cs.TotalStakes),
		TotalStakesSnapshot:     wadString(cs.TotalStakesSnapshot),
		TotalCollateralSnapshot: wadString(cs.TotalCollateralSnapshot),
		TotalFees:               wadString(cs.TotalFees),

		ActiveCollateral:    wadString(cs.ActiveCollateral),
		ActiveDebt:          wadString(cs.ActiveDebt),
		DefaultCollateral:   wadString(cs.DefaultCollateral),
		DefaultDebt:         wadString(cs.DefaultDebt),
		StabilityCollateral: wadString(cs.StabilityCollateral),

		StabilityTotal:   wadString(cs.StabilityTotal),
		Product:          wadString(cs.Product),
		Epoch:            cs.Epoch,
		Scale:            cs.Scale,
		StabilityCollErr: wadString(cs.StabilityCollErr),
		StabilityDebtErr: wadString(cs.StabilityDebtErr),

		CollateralPerStake: wadString(cs.CollateralPerStake),
		DebtPerStake:       wadString(cs.DebtPerStake),
		RedistCollErr:      wadString(cs.RedistCollErr),
		RedistDebtErr:      wadString(cs.RedistDebtErr),

		Price:         wadString(cs.Price),
		PriceSequence: cs.PriceSequence,
		PriceSet:      cs.PriceSet,

		SequenceState:   cs.SequenceState,
		IdempotencyKeys: cs.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}

	snap.Balances = make([]BalanceSnap, 0, len(cs.Balances))
	for key, bal := range cs.Balances {
		snap.Balances = append(snap.Balances, BalanceSnap{
			Scope:    uint8(key.Scope),
			EntityID: uuid.UUID(key.EntityID).String(),
			SubType:  uint8(key.SubType),
			AssetID:  uint16(key.AssetID),
			Balance:  bal.String(),
		})
	}

	snap.Troves = make([]TroveSnap, 0, len(cs.Troves))
	for _, tr := range cs.Troves {
		snap.Troves = append(snap.Troves, TroveSnap{
			Owner:              tr.Owner.String(),
			Collateral:         tr.Collateral.Dec(),
			Debt:               tr.Debt.Dec(),
			Stake:              tr.Stake.Dec(),
			Status:             int32(tr.Status),
			OwnerIndex:         tr.OwnerIndex,
			CollateralPerStake: tr.Snapshot.CollateralPerStake.Dec(),
			DebtPerStake:       tr.Snapshot.DebtPerStake.Dec(),
			Version:            tr.Version,
		})
	}

	snap.StabilityDeposits = make([]DepositSnap, 0, len(cs.StabilityDeposits))
	for _, dep := range cs.StabilityDeposits {
		snap.StabilityDeposits = append(snap.StabilityDeposits, DepositSnap{
			Depositor: dep.Depositor.String(),
			Initial:   dep.Initial.Dec(),
			P:         dep.P.Dec(),
			S:         dep.S.Dec(),
			Epoch:     dep.Epoch,
			Scale:     dep.Scale,
		})
	}

	snap.Sums = make([]SumSnap, 0, len(cs.Sums))
	for _, sum := range cs.Sums {
		snap.Sums = append(snap.Sums, SumSnap{
			Epoch: sum.Epoch,
			Scale: sum.Scale,
			Value: wadString(sum.Value),
		})
	}

	return snap
}

// ToCoreState converts a loaded snapshot back into the core's typed form.
func (snap *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	cs := &core.SnapshotState{
		Sequence:        snap.Sequence,
		Epoch:           snap.Epoch,
		Scale:           snap.Scale,
		PriceSequence:   snap.PriceSequence,
		PriceSet:        snap.PriceSet,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(cs.StateHash[:], snap.StateHash)

	var err error
	fields := []struct {
		name string
		dst  **uint256.Int
		src  string
	}{
		{"total_stakes", &cs.TotalStakes, snap.TotalStakes},
		{"total_stakes_snapshot", &cs.TotalStakesSnapshot, snap.TotalStakesSnapshot},
		{"total_collateral_snapshot", &cs.TotalCollateralSnapshot, snap.TotalCollateralSnapshot},
		{"total_fees", &cs.TotalFees, snap.TotalFees},
		{"active_collateral", &cs.ActiveCollateral, snap.ActiveCollateral},
		{"active_debt", &cs.ActiveDebt, snap.ActiveDebt},
		{"default_collateral", &cs.DefaultCollateral, snap.DefaultCollateral},
		{"default_debt", &cs.DefaultDebt, snap.DefaultDebt},
		{"stability_collateral", &cs.StabilityCollateral, snap.StabilityCollateral},
		{"stability_total", &cs.StabilityTotal, snap.StabilityTotal},
		{"product", &cs.Product, snap.Product},
		{"stability_coll_err", &cs.StabilityCollErr, snap.StabilityCollErr},
		{"stability_debt_err", &cs.StabilityDebtErr, snap.StabilityDebtErr},
		{"collateral_per_stake", &cs.CollateralPerStake, snap.CollateralPerStake},
		{"debt_per_stake", &cs.DebtPerStake, snap.DebtPerStake},
		{"redist_coll_err", &cs.RedistCollErr, snap.RedistCollErr},
		{"redist_debt_err", &cs.RedistDebtErr, snap.RedistDebtErr},
		{"price", &cs.Price, snap.Price},
	}
	for _, f := range fields {
		if *f.dst, err = parseSnapWad(f.name, f.src); err != nil {
			return nil, err
		}
	}

	cs.Balances = make(map[ledger.AccountKey]*big.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		entity, perr := uuid.Parse(b.EntityID)
		if perr != nil {
			return nil, fmt.Errorf("snapshot balance entity: %w", perr)
		}
		bal, ok := new(big.Int).SetString(b.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("snapshot balance amount %q", b.Balance)
		}
		key := ledger.AccountKey{
			Scope:    ledger.AccountScope(b.Scope),
			EntityID: entity,
			SubType:  ledger.AccountSubType(b.SubType),
			AssetID:  ledger.AssetID(b.AssetID),
		}
		cs.Balances[key] = bal
	}

	cs.Troves = make([]*state.Trove, 0, len(snap.Troves))
	for _, t := range snap.Troves {
		owner, perr := uuid.Parse(t.Owner)
		if perr != nil {
			return nil, fmt.Errorf("snapshot trove owner: %w", perr)
		}
		coll, perr := parseSnapWad("trove collateral", t.Collateral)
		if perr != nil {
			return nil, perr
		}
		debt, perr := parseSnapWad("trove debt", t.Debt)
		if perr != nil {
			return nil, perr
		}
		stake, perr := parseSnapWad("trove stake", t.Stake)
		if perr != nil {
			return nil, perr
		}
		collPer, perr := parseSnapWad("trove snap coll", t.CollateralPerStake)
		if perr != nil {
			return nil, perr
		}
		debtPer, perr := parseSnapWad("trove snap debt", t.DebtPerStake)
		if perr != nil {
			return nil, perr
		}
		tr := &state.Trove{
			Owner:      owner,
			Collateral: *coll,
			Debt:       *debt,
			Stake:      *stake,
			Status:     state.Status(t.Status),
			OwnerIndex: t.OwnerIndex,
			Snapshot: state.RewardSnapshot{
				CollateralPerStake: *collPer,
				DebtPerStake:       *debtPer,
			},
			Version: t.Version,
		}
		cs.Troves = append(cs.Troves, tr)
	}

	cs.StabilityDeposits = make([]*state.StabilityDeposit, 0, len(snap.StabilityDeposits))
	for _, d := range snap.StabilityDeposits {
		depositor, perr := uuid.Parse(d.Depositor)
		if perr != nil {
			return nil, fmt.Errorf("snapshot depositor: %w", perr)
		}
		initial, perr := parseSnapWad("deposit initial", d.Initial)
		if perr != nil {
			return nil, perr
		}
		p, perr := parseSnapWad("deposit P", d.P)
		if perr != nil {
			return nil, perr
		}
		s, perr := parseSnapWad("deposit S", d.S)
		if perr != nil {
			return nil, perr
		}
		cs.StabilityDeposits = append(cs.StabilityDeposits, &state.StabilityDeposit{
			Depositor: depositor,
			Initial:   *initial,
			P:         *p,
			S:         *s,
			Epoch:     d.Epoch,
			Scale:     d.Scale,
		})
	}

	cs.Sums = make([]state.SumRecord, 0, len(snap.Sums))
	for _, s := range snap.Sums {
		value, perr := parseSnapWad("sum value", s.Value)
		if perr != nil {
			return nil, perr
		}
		cs.Sums = append(cs.Sums, state.SumRecord{Epoch: s.Epoch, Scale: s.Scale, Value: value})
	}

	return cs, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres.
// Per doc §11: snapshots are taken periodically (e.g., every 100k events)
// and verified by replaying events from the snapshot sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, string(data), snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// Per doc §11: on warm restart, load latest snapshot then replay events from snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
// Per doc §11: used for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, stream, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Stream,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
