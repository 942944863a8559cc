package hashing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRefIDDerivationIsDeterministicAndDistinct(t *testing.T) {
	a := RefIDForClose("K", "pos-1")
	b := RefIDForClose("K", "pos-1")
	require.Equal(t, a, b)

	c := RefIDForClose("K", "pos-2")
	require.NotEqual(t, a, c)

	d := RefIDForShortfall("K", "claim-1")
	require.NotEqual(t, a, d)
}

func TestMerkleNodeIsOrderIndependent(t *testing.T) {
	a := Keccak256([]byte("a"))
	b := Keccak256([]byte("b"))
	require.Equal(t, MerkleNode(a, b), MerkleNode(b, a))
}

func TestMerkleRootSingleLeafIsIdentity(t *testing.T) {
	leaf := MerkleLeaf(uuid.New(), 100)
	require.Equal(t, leaf, MerkleRoot([][32]byte{leaf}))
}

func TestMerkleRootOddLeafCountCarriesLastUp(t *testing.T) {
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	leaves := [][32]byte{
		MerkleLeaf(u1, 70),
		MerkleLeaf(u2, 60),
		MerkleLeaf(u3, 10),
	}
	root := MerkleRoot(leaves)

	// manual construction: level 1 = [node(l0,l1), l2], root = node(level1...)
	n0 := MerkleNode(leaves[0], leaves[1])
	want := MerkleNode(n0, leaves[2])
	require.Equal(t, want, root)
}

func TestRefIDForBatchChangesWithNonce(t *testing.T) {
	root := Keccak256([]byte("root"))
	a := RefIDForBatch(root, 1)
	b := RefIDForBatch(root, 2)
	require.NotEqual(t, a, b)
}

func TestChainHasherAdvanceIsChained(t *testing.T) {
	c := NewChainHasher([32]byte{})

	prev1, next1 := c.Advance([]byte("batch-1"))
	require.Equal(t, [32]byte{}, prev1)

	prev2, next2 := c.Advance([]byte("batch-2"))
	require.Equal(t, next1, prev2)
	require.NotEqual(t, next1, next2)
}

func TestChainHasherVerifyDetectsTamperedContent(t *testing.T) {
	c := NewChainHasher([32]byte{})
	prev, next := c.Advance([]byte("batch-1"))

	replay := NewChainHasher([32]byte{})
	require.True(t, replay.Verify(prev[:], next[:], []byte("batch-1")))

	replay2 := NewChainHasher([32]byte{})
	require.False(t, replay2.Verify(prev[:], next[:], []byte("tampered")))
}

func TestChainHasherVerifyDetectsBrokenPrevHash(t *testing.T) {
	c := NewChainHasher([32]byte{})
	_, next := c.Advance([]byte("batch-1"))

	replay := NewChainHasher([32]byte{})
	wrongPrev := Keccak256([]byte("not-the-real-prev"))
	require.False(t, replay.Verify(wrongPrev[:], next[:], []byte("batch-1")))
}

func TestChainHasherResetReseedsHead(t *testing.T) {
	c := NewChainHasher([32]byte{})
	_, next := c.Advance([]byte("batch-1"))

	c.Reset(next)
	require.Equal(t, next, c.Current())
}
