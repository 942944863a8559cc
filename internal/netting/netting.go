// Package netting implements NettingEngine: drains
// pending obligations, nets them per (vault, user), builds a keccak-256
// Merkle commitment over the net set, and submits one atomic batch per
// vault through the Ledger's netting primitive. Grounded on the prior
// Batch/Journal grouping discipline (internal/ledger/journal.go), extended
// one level: a batch of journals here belongs to a cryptographically
// committed netting batch with no equivalent in the prior
// trade-by-trade perpetual-futures settlement model.
package netting

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/hashing"
	"github.com/xvault/settlement/internal/ledger"
)

// Obligation is one pending signed transfer on a vault.
type Obligation struct {
	VaultID string
	User    uuid.UUID
	Amount  int64 // signed; positive credits the user, negative debits
}

// ObligationSource supplies pending obligations to drain, typically backed
// by a durable outbox the venue adapters and SettlementCoordinator append
// to.
type ObligationSource interface {
	DrainPending(ctx context.Context) ([]Obligation, error)
}

// nettingBatcher is the subset of *ledger.Ledger the engine drives.
type nettingBatcher interface {
	ApplyNettingBatch(ctx context.Context, batchID ledger.RefID, leaves []ledger.NettingLeaf) error
}

// BatchReport records one vault's netting outcome.
type BatchReport struct {
	VaultID      string
	BatchID      ledger.RefID
	Root         [32]byte
	GrossVolume  fixedpoint.Money
	NettedVolume fixedpoint.Money
	Savings      fixedpoint.Money
	UserCount    int
}

// Engine is NettingEngine.
type Engine struct {
	source ObligationSource
	ledger nettingBatcher

	nonces map[string]uint64
}

// New creates an Engine.
func New(source ObligationSource, ledger nettingBatcher) *Engine {
	return &Engine{source: source, ledger: ledger, nonces: make(map[string]uint64)}
}

// RunOnce runs end to end: drain, group by vault, net per
// user within each vault, commit, and submit one batch per vault. Vaults
// with no net-nonzero obligations produce no batch and no report entry.
func (e *Engine) RunOnce(ctx context.Context) ([]BatchReport, error) {
	obligations, err := e.source.DrainPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(obligations) == 0 {
		return nil, nil
	}

	byVault := make(map[string][]Obligation)
	for _, o := range obligations {
		byVault[o.VaultID] = append(byVault[o.VaultID], o)
	}

	vaultIDs := make([]string, 0, len(byVault))
	for id := range byVault {
		vaultIDs = append(vaultIDs, id)
	}
	sort.Strings(vaultIDs)

	reports := make([]BatchReport, 0, len(vaultIDs))
	for _, vaultID := range vaultIDs {
		report, err := e.settleVault(ctx, vaultID, byVault[vaultID])
		if err != nil {
			return reports, err
		}
		if report != nil {
			reports = append(reports, *report)
		}
	}
	return reports, nil
}

func (e *Engine) settleVault(ctx context.Context, vaultID string, obligations []Obligation) (*BatchReport, error) {
	net := make(map[uuid.UUID]int64)
	var gross int64
	for _, o := range obligations {
		net[o.User] += o.Amount
		gross += absInt64(o.Amount)
	}

	users := make([]uuid.UUID, 0, len(net))
	for u, amount := range net {
		if amount == 0 {
			continue
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, nil
	}
	sort.Slice(users, func(i, j int) bool {
		return bytes.Compare(users[i][:], users[j][:]) < 0
	})

	leaves := make([][32]byte, 0, len(users))
	nettingLeaves := make([]ledger.NettingLeaf, 0, len(users))
	var netted int64
	for _, u := range users {
		amount := net[u]
		netted += absInt64(amount)
		leaves = append(leaves, hashing.MerkleLeaf(u, uint64(absInt64(amount))))
		nettingLeaves = append(nettingLeaves, ledger.NettingLeaf{User: u, NetAmount: amount})
	}

	root := hashing.MerkleRoot(leaves)
	nonce := e.nextNonce(vaultID)
	batchID := ledger.RefID(hashing.RefIDForBatch(root, nonce))

	if err := e.ledger.ApplyNettingBatch(ctx, batchID, nettingLeaves); err != nil {
		return nil, err
	}

	return &BatchReport{
		VaultID:      vaultID,
		BatchID:      batchID,
		Root:         root,
		GrossVolume:  fixedpoint.Money(gross),
		NettedVolume: fixedpoint.Money(netted),
		Savings:      fixedpoint.Money(gross - netted),
		UserCount:    len(users),
	}, nil
}

// nextNonce returns a strictly increasing per-vault nonce, making
// batchId = keccak(root || nonce) unique even if the same net set recurs
// (e.g. an identical obligation pattern on a later run).
func (e *Engine) nextNonce(vaultID string) uint64 {
	n := e.nonces[vaultID]
	e.nonces[vaultID] = n + 1
	return n
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
