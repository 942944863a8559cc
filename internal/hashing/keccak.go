// Package hashing provides the engine's one keccak-256 hash primitive,
// shared by SettlementCoordinator refId derivation, NettingEngine Merkle
// commitment construction, and the Ledger's state hash chain.
package hashing

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of every part with a single keccak-256
// sponge, the same variadic-write shape as the prior StateHasher.
func Keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// RefIDForClose derives the position-close settlement refId from the venue
// and position identifiers.
func RefIDForClose(venue, positionID string) [32]byte {
	return Keccak256([]byte(venue), []byte(positionID))
}

// RefIDForShortfall derives the venue-shortfall claim refId.
func RefIDForShortfall(venue, claimID string) [32]byte {
	return Keccak256([]byte("shortfall"), []byte(venue), []byte(claimID))
}

// RefIDForBatch derives a netting batch's refId from its Merkle root and a
// nonce, so re-submitting the same batch content under a new nonce produces
// a distinct idempotency key.
func RefIDForBatch(root [32]byte, nonce uint64) [32]byte {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	return Keccak256(root[:], nonceBuf[:])
}

// MerkleLeaf encodes one netting-batch leaf. The engine has no 20-byte chain
// address, so the low 16 bytes of the user UUID, left-padded into a 20-byte
// field, stand in for userAddress — the commitment only needs a stable
// canonical encoding per user, not an actual on-chain address.
func MerkleLeaf(user uuid.UUID, amountUnsigned uint64) [32]byte {
	var userField [20]byte
	copy(userField[4:], user[:16])
	var amountField [32]byte
	binary.BigEndian.PutUint64(amountField[24:], amountUnsigned)
	return Keccak256(userField[:], amountField[:])
}

// MerkleNode combines two child hashes with sorted-pair ordering so sibling
// order never affects the root.
func MerkleNode(a, b [32]byte) [32]byte {
	if bytesLess(b, a) {
		a, b = b, a
	}
	return Keccak256(a[:], b[:])
}

func bytesLess(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MerkleRoot builds a binary Merkle tree over leaves using MerkleNode,
// carrying the final odd node up a level unchanged (not hashed with itself)
// when the layer has odd size.
func MerkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return Keccak256()
	}
	layer := leaves
	for len(layer) > 1 {
		next := make([][32]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, MerkleNode(layer[i], layer[i+1]))
			} else {
				next = append(next, layer[i])
			}
		}
		layer = next
	}
	return layer[0]
}

// ChainHasher advances a running keccak-256 digest across successive
// Ledger batch applications, each new head folding in the prior head plus
// the batch's own content — the same chained-digest shape as the prior
// computeStateDigest/PrevHash mechanism, retargeted from a full-state
// digest to a per-batch append-only chain.
type ChainHasher struct {
	mu   sync.Mutex
	last [32]byte
}

// NewChainHasher starts a chain at seed — the zero value for a cold start,
// or the last persisted head for a warm restart.
func NewChainHasher(seed [32]byte) *ChainHasher {
	return &ChainHasher{last: seed}
}

// Advance folds content onto the chain and returns the hash that preceded
// it (to be stored as PrevHash) and the new head (StateHash).
func (c *ChainHasher) Advance(content []byte) (prev, next [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.last
	next = Keccak256(prev[:], content)
	c.last = next
	return prev, next
}

// Current returns the chain's current head without advancing it.
func (c *ChainHasher) Current() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reset reseeds the chain, used after loading a snapshot's StateHash.
func (c *ChainHasher) Reset(seed [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = seed
}

// Verify confirms prevHash/stateHash continue the chain from its current
// head for content, advancing the head on success. Used during replay to
// catch a tampered or corrupted event log before it's trusted.
func (c *ChainHasher) Verify(prevHash, stateHash, content []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !bytes.Equal(prevHash, c.last[:]) {
		return false
	}
	next := Keccak256(c.last[:], content)
	if !bytes.Equal(stateHash, next[:]) {
		return false
	}
	c.last = next
	return true
}
