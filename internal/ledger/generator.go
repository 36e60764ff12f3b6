package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches from operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Add reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) journal(b *Batch, debit, credit AccountKey, assetID AssetID, amount *uint256.Int, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateCollateralLock records collateral entering the active pool.
// Moves funds: external:collateral → system:active_pool
func (jg *JournalGenerator) GenerateCollateralLock(eventRef string, amount *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		NewExternalAccountKey(SubTypeExternalCollateral, AssetCollateral),
		AssetCollateral, amount, JournalTypeCollateralLock)
	jg.sequence++
	return batch, nil
}

// GenerateCollateralUnlock records collateral leaving the active pool to a
// recipient. Moves funds: system:active_pool → external:payouts
func (jg *JournalGenerator) GenerateCollateralUnlock(eventRef string, amount *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewExternalAccountKey(SubTypeExternalPayouts, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		AssetCollateral, amount, JournalTypeCollateralUnlock)
	jg.sequence++
	return batch, nil
}

// GenerateBorrow mints stable tokens to the borrower and the issuance fee
// to the fee account. The supply account runs negative by the total minted.
func (jg *JournalGenerator) GenerateBorrow(userID uuid.UUID, eventRef string, amount, fee *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 2)
	jg.journal(batch,
		NewUserAccountKey(userID, SubTypeStableBalance, AssetStable),
		NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable),
		AssetStable, amount, JournalTypeDebtMint)
	if !fee.IsZero() {
		jg.journal(batch,
			NewSystemAccountKey(SubTypeSystemFees, AssetStable),
			NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable),
			AssetStable, fee, JournalTypeFeeMint)
	}
	jg.sequence++
	return batch, nil
}

// GenerateRepay burns stable tokens from the borrower.
// Pre-check: user must hold the amount being burned.
func (jg *JournalGenerator) GenerateRepay(userID uuid.UUID, eventRef string, amount *uint256.Int, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientStable(userID, amount.ToBig()); err != nil {
		return nil, fmt.Errorf("repay pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable),
		NewUserAccountKey(userID, SubTypeStableBalance, AssetStable),
		AssetStable, amount, JournalTypeDebtBurn)
	jg.sequence++
	return batch, nil
}

// GenerateStabilityProvide moves stable tokens into the pooled deposit
// account. Pre-check: user must hold the amount.
func (jg *JournalGenerator) GenerateStabilityProvide(userID uuid.UUID, eventRef string, amount *uint256.Int, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientStable(userID, amount.ToBig()); err != nil {
		return nil, fmt.Errorf("stability provide pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewSystemAccountKey(SubTypeSystemStabilityPool, AssetStable),
		NewUserAccountKey(userID, SubTypeStableBalance, AssetStable),
		AssetStable, amount, JournalTypeStabilityProvide)
	jg.sequence++
	return batch, nil
}

// GenerateStabilityWithdraw returns a compounded deposit to the user, plus
// any collateral gain paid out of the stability pool.
func (jg *JournalGenerator) GenerateStabilityWithdraw(userID uuid.UUID, eventRef string, amount, gain *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 2)
	if !amount.IsZero() {
		jg.journal(batch,
			NewUserAccountKey(userID, SubTypeStableBalance, AssetStable),
			NewSystemAccountKey(SubTypeSystemStabilityPool, AssetStable),
			AssetStable, amount, JournalTypeStabilityWithdraw)
	}
	if !gain.IsZero() {
		jg.journal(batch,
			NewExternalAccountKey(SubTypeExternalPayouts, AssetCollateral),
			NewSystemAccountKey(SubTypeSystemStabilityPool, AssetCollateral),
			AssetCollateral, gain, JournalTypeStabilityGainPayout)
	}
	jg.sequence++
	return batch, nil
}

// GenerateOffset records a liquidation offset: pooled deposits are burned
// against the canceled debt and the seized collateral moves from the active
// pool to the stability pool.
func (jg *JournalGenerator) GenerateOffset(eventRef string, debtBurned, collateralMoved *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 2)
	if !debtBurned.IsZero() {
		jg.journal(batch,
			NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable),
			NewSystemAccountKey(SubTypeSystemStabilityPool, AssetStable),
			AssetStable, debtBurned, JournalTypeOffsetBurn)
	}
	if !collateralMoved.IsZero() {
		jg.journal(batch,
			NewSystemAccountKey(SubTypeSystemStabilityPool, AssetCollateral),
			NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
			AssetCollateral, collateralMoved, JournalTypeOffsetCollateral)
	}
	jg.sequence++
	return batch, nil
}

// GenerateRedistribution records collateral parked in the default pool
// during a liquidation.
func (jg *JournalGenerator) GenerateRedistribution(eventRef string, collateral *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewSystemAccountKey(SubTypeSystemDefaultPool, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		AssetCollateral, collateral, JournalTypeRedistribution)
	jg.sequence++
	return batch, nil
}

// GenerateRewardApplication records a Trove pulling its accrued share back
// from the default pool.
func (jg *JournalGenerator) GenerateRewardApplication(eventRef string, collateral *uint256.Int, timestamp int64) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemDefaultPool, AssetCollateral),
		AssetCollateral, collateral, JournalTypeRewardApplication)
	jg.sequence++
	return batch, nil
}

// GenerateRedemption burns the redeemer's stable tokens and pays collateral
// out of the active pool. Pre-check: redeemer must hold the burned amount.
func (jg *JournalGenerator) GenerateRedemption(userID uuid.UUID, eventRef string, debtBurned, collateralPaid *uint256.Int, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientStable(userID, debtBurned.ToBig()); err != nil {
		return nil, fmt.Errorf("redemption pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 2)
	jg.journal(batch,
		NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable),
		NewUserAccountKey(userID, SubTypeStableBalance, AssetStable),
		AssetStable, debtBurned, JournalTypeRedemptionBurn)
	jg.journal(batch,
		NewExternalAccountKey(SubTypeExternalPayouts, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		AssetCollateral, collateralPaid, JournalTypeRedemptionPayout)
	jg.sequence++
	return batch, nil
}

// Sequence returns the next sequence the generator will stamp.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence installs the journal sequence (snapshot restore only).
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
