package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances. Balances are signed:
// external boundary accounts run negative as value enters the system, so
// every asset sums to zero across all accounts.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *big.Int {
	b := bt.balances[key]
	if b == nil {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amount := j.Amount.ToBig()
	debit := bt.balance(j.DebitAccount)
	debit.Add(debit, amount)
	credit := bt.balance(j.CreditAccount)
	credit.Sub(credit, amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	b := bt.balances[key]
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b)
}

// GetUserStableBalance returns the user's spendable stable-token balance
func (bt *BalanceTracker) GetUserStableBalance(userID uuid.UUID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeStableBalance, AssetStable))
}

// GetPoolCollateral returns the collateral held by a system pool account
func (bt *BalanceTracker) GetPoolCollateral(subType AccountSubType) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(subType, AssetCollateral))
}

// ValidateSufficientStable checks the user can spend the given amount
func (bt *BalanceTracker) ValidateSufficientStable(userID uuid.UUID, required *big.Int) error {
	available := bt.GetUserStableBalance(userID)
	if available.Cmp(required) < 0 {
		return fmt.Errorf("insufficient stable balance: have=%s, need=%s", available, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per asset for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		t := totals[key.AssetID]
		if t == nil {
			t = new(big.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
// SetBalance installs a balance directly (snapshot restore only).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
