package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope is the top-level account namespace.
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType is the account purpose within a scope. Narrowed from the
// prior account.go (which modeled a perpetual-futures ledger) down to
// the settlement engine's data model: users hold collateral and
// pnl sub-ledgers; the system owns the broker pool and insurance fund;
// external accounts are the stable-token transfer boundary.
type AccountSubType uint8

const (
	SubTypeCollateral AccountSubType = iota
	SubTypePnL

	SubTypeBrokerPool
	SubTypeInsuranceFund

	SubTypeExternalToken
)

// AssetID identifies the settlement stable token. The engine assumes a
// single ERC-20-compatible 6-decimal token, but the account key
// keeps an AssetID field — the same shape as the prior multi-asset
// ledger — so backing more than one stable asset is a config change, not a
// redesign.
type AssetID uint16

const StableAssetID AssetID = 1

func GetAssetName(id AssetID) (string, bool) {
	if id == StableAssetID {
		return "USDT", true
	}
	return "", false
}

// AccountKey is the in-memory key for balance tracking, identical in shape
// to the prior AccountKey.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	AssetID  AssetID
}

func NewUserAccountKey(userID uuid.UUID, subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: userID, SubType: subType, AssetID: StableAssetID}
}

func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, SubType: subType, AssetID: StableAssetID}
}

func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: subType, AssetID: StableAssetID}
}

// AccountPath returns the string representation used for persistence and
// projection queries.
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s", uid.String(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypePnL:
		return "pnl"
	case SubTypeBrokerPool:
		return "broker_pool"
	case SubTypeInsuranceFund:
		return "insurance_fund"
	case SubTypeExternalToken:
		return "token"
	default:
		return "unknown"
	}
}

// ParseAccountPath reverses AccountPath for snapshot restore (original:
// internal/ledger — used by the persistence layer to rehydrate balances).
func ParseAccountPath(path string) AccountKey {
	var scope AccountScope
	var sub string
	var entity string
	switch {
	case len(path) > 5 && path[:5] == "user:":
		scope = AccountScopeUser
		rest := path[5:]
		for i := 0; i < len(rest); i++ {
			if rest[i] == ':' {
				entity = rest[:i]
				sub = rest[i+1:]
				break
			}
		}
	case len(path) > 7 && path[:7] == "system:":
		scope = AccountScopeSystem
		sub = path[7:]
	case len(path) > 9 && path[:9] == "external:":
		scope = AccountScopeExternal
		sub = path[9:]
	}

	key := AccountKey{Scope: scope, AssetID: StableAssetID}
	if uid, err := uuid.Parse(entity); err == nil {
		key.EntityID = uid
	}
	switch sub {
	case "collateral":
		key.SubType = SubTypeCollateral
	case "pnl":
		key.SubType = SubTypePnL
	case "broker_pool":
		key.SubType = SubTypeBrokerPool
	case "insurance_fund":
		key.SubType = SubTypeInsuranceFund
	case "token":
		key.SubType = SubTypeExternalToken
	}
	return key
}
