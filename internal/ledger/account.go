package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeStableBalance AccountSubType = iota

	// System sub-types
	SubTypeSystemActivePool
	SubTypeSystemDefaultPool
	SubTypeSystemStabilityPool
	SubTypeSystemFees

	// External sub-types
	SubTypeExternalCollateral
	SubTypeExternalStableSupply
	SubTypeExternalPayouts
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"COLL":   1,
		"STABLE": 2,
	}
	idToAsset = map[AssetID]string{
		1: "COLL",
		2: "STABLE",
	}
)

// AssetCollateral and AssetStable are the two assets the system moves:
// the locked collateral token and the minted stable token.
const (
	AssetCollateral AssetID = 1
	AssetStable     AssetID = 2
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, hash for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system pool accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeStableBalance:
		return "stable"
	case SubTypeSystemActivePool:
		return "active_pool"
	case SubTypeSystemDefaultPool:
		return "default_pool"
	case SubTypeSystemStabilityPool:
		return "stability_pool"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalCollateral:
		return "collateral"
	case SubTypeExternalStableSupply:
		return "stable_supply"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
