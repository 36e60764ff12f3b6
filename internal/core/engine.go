package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	troves            *state.TroveStore
	pools             *state.PoolAccounting
	stability         *state.StabilityPoolLedger
	redistribution    *state.Redistribution
	priceFeed         *state.PriceFeed
	paymentSink       state.PaymentSink
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// liquidations collects the records of the event being dispatched;
	// drained onto its outputs after the batch loop.
	liquidations []LiquidationRecord

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// TroveUpdates carries the Trove records this event touched, for the
	// troves projection. Attached to the event's last output only.
	TroveUpdates []TroveUpdate

	// StabilityUpdates and StabilityPool carry the stability-pool records
	// this event touched. Attached to the event's last output only.
	StabilityUpdates []StabilityDepositUpdate
	StabilityPool    *StabilityPoolState

	// PriceState carries the oracle price after a PriceUpdate event.
	PriceState *PriceState

	// Liquidations tags every output of a Liquidate/LiquidateBatch event
	// with the mode and band of each liquidated Trove. Amounts live in
	// the journals.
	Liquidations []LiquidationRecord
}

// PriceState is the latest accepted oracle price, for the price projection.
type PriceState struct {
	Price         string
	PriceSequence int64
	Version       int64
}

// TroveUpdate is a projection-friendly snapshot of one Trove record.
// Wads are decimal strings.
type TroveUpdate struct {
	Owner      uuid.UUID
	Collateral string
	Debt       string
	Stake      string
	Status     int32
	Version    int64
}

// StabilityDepositUpdate is a projection-friendly copy of one stability
// deposit record with its compounding snapshot.
type StabilityDepositUpdate struct {
	Depositor uuid.UUID
	Initial   string
	PSnapshot string
	SSnapshot string
	Epoch     int64
	Scale     int64
	Version   int64
}

// StabilityPoolState is the pool-wide compounding state the query side
// needs to derive compounded deposits and collateral gains.
type StabilityPoolState struct {
	Product       string
	Epoch         int64
	Scale         int64
	TotalDeposits string
	Sums          []StabilitySumUpdate
	Version       int64
}

// StabilitySumUpdate is one (epoch, scale) collateral-sum bucket.
type StabilitySumUpdate struct {
	Epoch int64
	Scale int64
	Value string
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	sink state.PaymentSink,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		troves:            state.NewTroveStore(),
		pools:             state.NewPoolAccounting(),
		stability:         state.NewStabilityPoolLedger(),
		redistribution:    state.NewRedistribution(),
		priceFeed:         state.NewPriceFeed(),
		paymentSink:       sink,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	stream := evt.Stream()
	sourceSequence := evt.SourceSequence()

	// Special handling for price updates (gaps tolerated)
	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(stream, priceEvt.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(stream, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch - get batches
	batches, err := c.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Archived payload for replay. uuid, uint256 and time all round-trip
	// through encoding/json.
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Step 4-9: Process each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for _, batch := range batches {
		// Skip validation and application for empty batches (state-only events
		// like PriceUpdate produce no journals but still need an envelope in
		// the event log).
		if len(batch.Journals) > 0 {
			// Validate batch balance
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			// Apply batch to balances
			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		// Compute state digest
		stateDigest := c.computeStateDigest(batch)

		// Compute state hash (chain tip advances)
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Stream:         stream,
			Timestamp:      c.getEventTimestamp(evt),
			SourceSequence: sourceSequence,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		})
		c.sequence++
	}

	// Trove and stability records touched by this event ride the last
	// output so the projection sees them at the highest sequence.
	if n := len(outputs); n > 0 {
		outputs[n-1].TroveUpdates = c.collectTroveUpdates()
		outputs[n-1].StabilityUpdates, outputs[n-1].StabilityPool = c.collectStabilityUpdates(outputs[n-1].Envelope.Sequence)
		if _, ok := evt.(*event.PriceUpdate); ok {
			if price, set := c.priceFeed.Price(); set {
				outputs[n-1].PriceState = &PriceState{
					Price:         price.Dec(),
					PriceSequence: int64(c.priceFeed.Sequence()),
					Version:       outputs[n-1].Envelope.Sequence,
				}
			}
		}
	}

	// Liquidation records tag every output of the event so each archived
	// batch carries its mode.
	if recs := c.drainLiquidations(); len(recs) > 0 {
		for i := range outputs {
			outputs[i].Liquidations = recs
		}
		if c.metrics != nil {
			for _, rec := range recs {
				c.metrics.LiquidationsTriggered.WithLabelValues(rec.Mode, rec.Band).Inc()
				c.metrics.LiquidationDebtOffset.Add(wadUnits(rec.DebtOffset))
				c.metrics.LiquidationRedistrib.Add(wadUnits(rec.DebtRedistributed))
			}
		}
	}

	// Step 10: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 11: Emit outputs. Persist channel uses BLOCKING send
	// (backpressure), projection channel uses NON-BLOCKING send with
	// silent drop.
	for _, output := range outputs {
		// Persistence: blocking send — the core stalls until the persistence
		// worker drains. This guarantees no event is lost.
		c.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection workers
		// can rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			// Silently dropped — projection will catch up via rebuild
		}
	}

	// Step 12: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// ReplayEvent re-applies an archived event during warm restart. Dedup and
// output emission are skipped: the event is already in the log, and
// projections catch up through their own watermark. Multi-batch events
// archive one row per batch, all carrying the same payload; continuation
// rows are recognized by their already-consumed sequence and skipped.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) error {
	if env.Sequence < c.sequence {
		return nil
	}
	if env.Sequence > c.sequence {
		return fmt.Errorf("replay gap: at sequence %d, next event is %d", c.sequence, env.Sequence)
	}

	evt, err := event.DecodePayload(env.EventType, env.Payload)
	if err != nil {
		return err
	}

	// Payment instructions were already emitted when the event first ran.
	savedSink := c.paymentSink
	c.paymentSink = discardSink{}
	defer func() { c.paymentSink = savedSink }()

	batches, err := c.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("replay dispatch failed: %w", err)
	}

	for _, batch := range batches {
		if len(batch.Journals) > 0 {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				return fmt.Errorf("replay unbalanced batch at sequence %d: %w", c.sequence, err)
			}
			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("replay apply batch: %w", err)
			}
		}
		c.hasher.ComputeHash(c.sequence, c.computeStateDigest(batch))
		c.sequence++
	}
	c.troves.DrainDirty()
	c.stability.DrainDirty()
	c.drainLiquidations()

	// Single-batch events land exactly on the archived hash. Multi-batch
	// chains are verified by the orchestrator against the log head.
	if len(batches) == 1 && c.hasher.GetPrevHash() != env.StateHash {
		return fmt.Errorf("replay hash mismatch at sequence %d", env.Sequence)
	}

	c.sequenceValidator.SetExpectedSequence(env.Stream, env.SourceSequence+1)
	c.idempotency.MarkProcessed(env.EventType.String(), env.IdempotencyKey)
	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) ([]*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.OpenTrove:
		return c.handleOpenTrove(e)
	case *event.AdjustTrove:
		return c.handleAdjustTrove(e)
	case *event.CloseTrove:
		return c.handleCloseTrove(e)
	case *event.ProvideStability:
		return c.handleProvideStability(e)
	case *event.WithdrawStability:
		return c.handleWithdrawStability(e)
	case *event.Liquidate:
		return c.handleLiquidate(e)
	case *event.LiquidateBatch:
		return c.handleLiquidateBatch(e)
	case *event.Redeem:
		return c.handleRedeem(e)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// discardSink swallows payment instructions during replay.
type discardSink struct{}

func (discardSink) Pay(uuid.UUID, *uint256.Int) error { return nil }

// drainLiquidations returns the records collected by the event just
// dispatched and resets the scratch slice.
func (c *DeterministicCore) drainLiquidations() []LiquidationRecord {
	recs := c.liquidations
	c.liquidations = nil
	return recs
}

// wadUnits truncates an 18-decimal amount to whole tokens for counters.
func wadUnits(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return float64(new(uint256.Int).Div(v, fpmath.One).Uint64())
}

// collectTroveUpdates drains the store's dirty set into projection rows,
// sorted by owner for deterministic output ordering.
func (c *DeterministicCore) collectTroveUpdates() []TroveUpdate {
	dirty := c.troves.DrainDirty()
	if len(dirty) == 0 {
		return nil
	}

	sort.Slice(dirty, func(i, j int) bool {
		return dirty[i].Owner.String() < dirty[j].Owner.String()
	})

	updates := make([]TroveUpdate, 0, len(dirty))
	for _, tr := range dirty {
		updates = append(updates, TroveUpdate{
			Owner:      tr.Owner,
			Collateral: tr.Collateral.Dec(),
			Debt:       tr.Debt.Dec(),
			Stake:      tr.Stake.Dec(),
			Status:     int32(tr.Status),
			Version:    tr.Version,
		})
	}
	return updates
}

// collectStabilityUpdates drains the stability ledger's dirty tracking into
// projection rows. The pool-wide state is included whenever the pool
// changed, since compounded values depend on it.
func (c *DeterministicCore) collectStabilityUpdates(sequence int64) ([]StabilityDepositUpdate, *StabilityPoolState) {
	dirty, poolDirty := c.stability.DrainDirty()
	if len(dirty) == 0 && !poolDirty {
		return nil, nil
	}

	sort.Slice(dirty, func(i, j int) bool {
		return dirty[i].Depositor.String() < dirty[j].Depositor.String()
	})

	updates := make([]StabilityDepositUpdate, 0, len(dirty))
	for _, dep := range dirty {
		updates = append(updates, StabilityDepositUpdate{
			Depositor: dep.Depositor,
			Initial:   dep.Initial.Dec(),
			PSnapshot: dep.P.Dec(),
			SSnapshot: dep.S.Dec(),
			Epoch:     dep.Epoch,
			Scale:     dep.Scale,
			Version:   sequence,
		})
	}

	pool := &StabilityPoolState{
		Product:       c.stability.Product().Dec(),
		Epoch:         c.stability.CurrentEpoch(),
		Scale:         c.stability.CurrentScale(),
		TotalDeposits: c.stability.TotalDeposits().Dec(),
		Version:       sequence,
	}
	for _, rec := range c.stability.SumRecords() {
		pool.Sums = append(pool.Sums, StabilitySumUpdate{
			Epoch: rec.Epoch,
			Scale: rec.Scale,
			Value: rec.Value.Dec(),
		})
	}
	sort.Slice(pool.Sums, func(i, j int) bool {
		if pool.Sums[i].Epoch != pool.Sums[j].Epoch {
			return pool.Sums[i].Epoch < pool.Sums[j].Epoch
		}
		return pool.Sums[i].Scale < pool.Sums[j].Scale
	})

	return updates, pool
}

// getEventTimestamp extracts the versioned timestamp from an event.
// The core MUST NOT call time.Now() — all timestamps are versioned inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.OpenTrove:
		return e.Timestamp
	case *event.AdjustTrove:
		return e.Timestamp
	case *event.CloseTrove:
		return e.Timestamp
	case *event.ProvideStability:
		return e.Timestamp
	case *event.WithdrawStability:
		return e.Timestamp
	case *event.Liquidate:
		return e.Timestamp
	case *event.LiquidateBatch:
		return e.Timestamp
	case *event.Redeem:
		return e.Timestamp
	case *event.PriceUpdate:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account touched by the batch, sorted by path, with its post-apply balance.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendBigInt(digest, balance)
	}

	return digest
}

// appendBigInt encodes a signed big.Int as sign byte, length byte, and
// big-endian magnitude. Balances fit comfortably in 255 bytes.
func appendBigInt(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)))
	return append(buf, mag...)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.AdjustTrove:
		if err := c.validator.ValidateUserStableNonNegative(e.Owner); err != nil {
			return fmt.Errorf("post-check user balance: %w", err)
		}

	case *event.CloseTrove:
		if err := c.validator.ValidateUserStableNonNegative(e.Owner); err != nil {
			return fmt.Errorf("post-check user balance: %w", err)
		}

	case *event.ProvideStability:
		if err := c.validator.ValidateUserStableNonNegative(e.Depositor); err != nil {
			return fmt.Errorf("post-check user balance: %w", err)
		}

	case *event.Redeem:
		if err := c.validator.ValidateUserStableNonNegative(e.Redeemer); err != nil {
			return fmt.Errorf("post-check user balance: %w", err)
		}
		if err := c.validator.ValidatePoolsNonNegative(); err != nil {
			return fmt.Errorf("post-check pools: %w", err)
		}

	case *event.Liquidate:
		if err := c.validator.ValidatePoolsNonNegative(); err != nil {
			return fmt.Errorf("post-check pools: %w", err)
		}

	case *event.LiquidateBatch:
		if err := c.validator.ValidatePoolsNonNegative(); err != nil {
			return fmt.Errorf("post-check pools: %w", err)
		}
	}

	// Periodic global balance check: the whole ledger must sum to zero
	// per asset.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances map[ledger.AccountKey]*big.Int

	Troves                  []*state.Trove
	TotalStakes             *uint256.Int
	TotalStakesSnapshot     *uint256.Int
	TotalCollateralSnapshot *uint256.Int
	TotalFees               *uint256.Int

	ActiveCollateral    *uint256.Int
	ActiveDebt          *uint256.Int
	DefaultCollateral   *uint256.Int
	DefaultDebt         *uint256.Int
	StabilityCollateral *uint256.Int

	StabilityDeposits []*state.StabilityDeposit
	StabilityTotal    *uint256.Int
	Product           *uint256.Int
	Epoch             int64
	Scale             int64
	StabilityCollErr  *uint256.Int
	StabilityDebtErr  *uint256.Int
	Sums              []state.SumRecord

	CollateralPerStake *uint256.Int
	DebtPerStake       *uint256.Int
	RedistCollErr      *uint256.Int
	RedistDebtErr      *uint256.Int

	Price         *uint256.Int
	PriceSequence uint64
	PriceSet      bool

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	stabCollErr, stabDebtErr := c.stability.Errors()
	redistCollErr, redistDebtErr := c.redistribution.Errors()
	price, priceSet := c.priceFeed.Price()
	if price == nil {
		price = new(uint256.Int)
	}

	return &SnapshotState{
		Sequence:  c.sequence - 1, // Last processed sequence
		StateHash: c.hasher.GetPrevHash(),

		Balances: c.balanceTracker.Snapshot(),

		Troves:                  c.troves.AllTroves(),
		TotalStakes:             c.troves.TotalStakes(),
		TotalStakesSnapshot:     c.troves.TotalStakesSnapshot(),
		TotalCollateralSnapshot: c.troves.TotalCollateralSnapshot(),
		TotalFees:               c.troves.TotalFees(),

		ActiveCollateral:    c.pools.ActivePool().Collateral(),
		ActiveDebt:          c.pools.ActivePool().Debt(),
		DefaultCollateral:   c.pools.DefaultPool().Collateral(),
		DefaultDebt:         c.pools.DefaultPool().Debt(),
		StabilityCollateral: c.pools.StabilityPool().Collateral(),

		StabilityDeposits: c.stability.AllDeposits(),
		StabilityTotal:    c.stability.TotalDeposits(),
		Product:           c.stability.Product(),
		Epoch:             c.stability.CurrentEpoch(),
		Scale:             c.stability.CurrentScale(),
		StabilityCollErr:  stabCollErr,
		StabilityDebtErr:  stabDebtErr,
		Sums:              c.stability.SumRecords(),

		CollateralPerStake: c.redistribution.CollateralPerStake(),
		DebtPerStake:       c.redistribution.DebtPerStake(),
		RedistCollErr:      redistCollErr,
		RedistDebtErr:      redistDebtErr,

		Price:         price,
		PriceSequence: c.priceFeed.Sequence(),
		PriceSet:      priceSet,

		SequenceState:   c.sequenceValidator.GetAllStreams(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay events after it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, tr := range snap.Troves {
		c.troves.SetTrove(tr)
	}
	c.troves.RestoreTotals(
		snap.TotalStakes,
		snap.TotalStakesSnapshot,
		snap.TotalCollateralSnapshot,
		snap.TotalFees,
	)

	c.pools.RestorePools(
		snap.ActiveCollateral,
		snap.ActiveDebt,
		snap.DefaultCollateral,
		snap.DefaultDebt,
		snap.StabilityCollateral,
	)

	for _, dep := range snap.StabilityDeposits {
		c.stability.SetDeposit(dep)
	}
	for _, rec := range snap.Sums {
		c.stability.RestoreSum(rec.Epoch, rec.Scale, rec.Value)
	}
	c.stability.RestoreGlobals(
		snap.StabilityTotal,
		snap.Product,
		snap.Epoch,
		snap.Scale,
		snap.StabilityCollErr,
		snap.StabilityDebtErr,
	)

	c.redistribution.Restore(
		snap.CollateralPerStake,
		snap.DebtPerStake,
		snap.RedistCollErr,
		snap.RedistDebtErr,
	)

	c.priceFeed.Restore(snap.Price, snap.PriceSequence, snap.PriceSet)

	for stream, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(stream, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
