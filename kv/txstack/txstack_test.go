package txstack_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/stackdb/kv/enc"
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/txstack"
	"github.com/erigontech/stackdb/kverrors"
)

// fakeDB satisfies the unexported database interface txstack.NewObjectStore
// needs only to validate CombinedTransaction participants share one
// database; two in-memory stores sharing the same fakeDB value are
// "the same database" for that check.
type fakeDB struct{ name string }

func (d fakeDB) Name() string { return d.name }

func newMemStore(t *testing.T, name string) *txstack.ObjectStore {
	t.Helper()
	s, err := txstack.NewObjectStore(name, txstack.ObjectStoreConfig{}, nil, fakeDB{name: "test"})
	require.NoError(t, err)
	return s
}

// S1 — Read isolation: a sibling's commit is invisible to a transaction
// already open against the pre-commit state, but visible to one opened
// afterward (spec.md §8 S1).
func TestSeedReadIsolation(t *testing.T) {
	s := newMemStore(t, "s1")

	t1 := s.BeginTransaction()
	t2 := s.BeginTransaction()

	require.NoError(t, t1.Put([]byte("a"), txstack.Value{"v": 1.0}))
	require.NoError(t, t1.Commit())

	_, ok, err := t2.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok, "t2 must not observe t1's commit")

	t3 := s.BeginTransaction()
	v, ok, err := t3.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, v["v"])
}

// S2 — First committer wins: of two siblings writing the same key, only
// the first to commit succeeds; the loser is CONFLICTED and the store
// keeps the winner's value (spec.md §8 S2).
func TestSeedFirstCommitterWins(t *testing.T) {
	s := newMemStore(t, "s2")

	t1 := s.BeginTransaction()
	t2 := s.BeginTransaction()

	require.NoError(t, t1.Put([]byte("a"), txstack.Value{"v": 1.0}))
	require.NoError(t, t1.Commit())
	require.Equal(t, txstack.Committed, t1.State())

	require.NoError(t, t2.Put([]byte("a"), txstack.Value{"v": 2.0}))
	err := t2.Commit()
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindConflict))
	require.Equal(t, txstack.Conflicted, t2.State())

	snap := s.Snapshot()
	defer snap.Abort()
	v, ok, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, v["v"])
}

// S3 — Unique index: a second put reusing an already-bound secondary key
// fails with ConstraintViolation and leaves the store unchanged (spec.md
// §8 S3).
func TestSeedUniqueIndexConstraint(t *testing.T) {
	s := newMemStore(t, "s3")
	require.NoError(t, s.CreateIndex(txstack.IndexConfig{Name: "byVal", KeyPath: "val", Unique: true}))

	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("k1"), txstack.Value{"val": 7.0}))
	require.NoError(t, tx.Commit())

	tx2 := s.BeginTransaction()
	err := tx2.Put([]byte("k2"), txstack.Value{"val": 7.0})
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindConstraintViolation))
	require.NoError(t, tx2.Abort())

	snap := s.Snapshot()
	defer snap.Abort()
	_, ok, err := snap.Get([]byte("k2"))
	require.NoError(t, err)
	require.False(t, ok, "the rejected put must not have touched the store")
}

// S4 — Multi-entry: each element of a sequence-valued key path contributes
// its own secondary key (spec.md §8 S4).
func TestSeedMultiEntryIndex(t *testing.T) {
	s := newMemStore(t, "s4")
	require.NoError(t, s.CreateIndex(txstack.IndexConfig{Name: "tags", KeyPath: "tags", MultiEntry: true}))

	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("r1"), txstack.Value{"tags": []any{"a", "b"}}))
	require.NoError(t, tx.Commit())

	for _, tag := range []string{"a", "b"} {
		ks, err := s.Keys("tags", keyrange.Only([]byte(tag)), -1)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte("r1")}, ks)
	}
}

// S5 — Combined atomicity: committing two transactions from distinct
// stores via txstack.Commit either lands both writes or neither (spec.md
// §8 S5, minus the process-restart half which belongs to the persistent
// backend's own durability guarantee, out of this package's scope).
func TestSeedCombinedCommitAtomicity(t *testing.T) {
	db := fakeDB{name: "combined-db"}
	s1, err := txstack.NewObjectStore("s1", txstack.ObjectStoreConfig{}, nil, db)
	require.NoError(t, err)
	s2, err := txstack.NewObjectStore("s2", txstack.ObjectStoreConfig{}, nil, db)
	require.NoError(t, err)

	t1 := s1.BeginTransaction()
	t2 := s2.BeginTransaction()
	require.NoError(t, t1.Put([]byte("x"), txstack.Value{"v": 1.0}))
	require.NoError(t, t2.Put([]byte("y"), txstack.Value{"v": 2.0}))

	ok, err := txstack.Commit(t1, t2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, txstack.Committed, t1.State())
	require.Equal(t, txstack.Committed, t2.State())

	snap1 := s1.Snapshot()
	defer snap1.Abort()
	v, found, err := snap1.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1.0, v["v"])

	snap2 := s2.Snapshot()
	defer snap2.Abort()
	v, found, err = snap2.Get([]byte("y"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2.0, v["v"])
}

// A single-participant combined commit degenerates to that store's own
// top-level commit (spec.md §8 boundary case).
func TestCombinedCommitSingleParticipantDegenerates(t *testing.T) {
	s := newMemStore(t, "single")
	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("a"), txstack.Value{"v": 1.0}))

	ok, err := txstack.Commit(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, txstack.Committed, tx.State())
}

// A combined commit where one participant conflicts aborts every
// participant; none of their writes land.
func TestCombinedCommitConflictAbortsAllParticipants(t *testing.T) {
	db := fakeDB{name: "combined-conflict"}
	s1, err := txstack.NewObjectStore("s1", txstack.ObjectStoreConfig{}, nil, db)
	require.NoError(t, err)
	s2, err := txstack.NewObjectStore("s2", txstack.ObjectStoreConfig{}, nil, db)
	require.NoError(t, err)

	// Force a conflict on s1 by committing a sibling ahead of t1.
	rival := s1.BeginTransaction()
	t1 := s1.BeginTransaction()
	t2 := s2.BeginTransaction()
	require.NoError(t, rival.Put([]byte("x"), txstack.Value{"v": 0.0}))
	require.NoError(t, rival.Commit())

	require.NoError(t, t1.Put([]byte("x"), txstack.Value{"v": 1.0}))
	require.NoError(t, t2.Put([]byte("y"), txstack.Value{"v": 2.0}))

	ok, err := txstack.Commit(t1, t2)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, txstack.Conflicted, t1.State())

	snap2 := s2.Snapshot()
	defer snap2.Abort()
	_, found, err := snap2.Get([]byte("y"))
	require.NoError(t, err)
	require.False(t, found, "s2's write must not land when s1's participant conflicted")
}

// S6 — Snapshot of a truncate: a Snapshot taken before a truncate keeps
// returning the pre-truncate values even though the live store is now
// empty (spec.md §8 S6).
func TestSeedSnapshotSurvivesTruncate(t *testing.T) {
	s := newMemStore(t, "s6")

	seed := s.BeginTransaction()
	require.NoError(t, seed.Put([]byte("a"), txstack.Value{"v": 1.0}))
	require.NoError(t, seed.Put([]byte("b"), txstack.Value{"v": 2.0}))
	require.NoError(t, seed.Put([]byte("c"), txstack.Value{"v": 3.0}))
	require.NoError(t, seed.Commit())

	snap := s.Snapshot()
	defer snap.Abort()

	trunc := s.BeginTransaction()
	require.NoError(t, trunc.Truncate())
	require.NoError(t, trunc.Commit())

	for key, want := range map[string]float64{"a": 1.0, "b": 2.0, "c": 3.0} {
		v, ok, err := snap.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, ok, "snapshot must still see %q", key)
		require.Equal(t, want, v["v"])
	}

	live := s.Snapshot()
	defer live.Abort()
	_, ok, err := live.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok, "the live store must be empty after truncate")
}

// Idempotence: aborting an already-terminal transaction is a no-op, and a
// second commit on a COMMITTED transaction is rejected (spec.md §8
// property 8).
func TestAbortIdempotentCommitRejectedAfterTerminal(t *testing.T) {
	s := newMemStore(t, "idempotence")
	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("a"), txstack.Value{"v": 1.0}))
	require.NoError(t, tx.Commit())

	require.Error(t, tx.Commit())
	require.NoError(t, tx.Abort())
	require.NoError(t, tx.Abort())
	require.Equal(t, txstack.Committed, tx.State())
}

// Boundary: the stack rejects a commit past MaxStackSize.
func TestStackOverflowRejectsCommitPastMax(t *testing.T) {
	s := newMemStore(t, "stack-overflow")
	var blockers []*txstack.Transaction
	for i := 0; i < txstack.MaxStackSize; i++ {
		blocker := s.BeginTransaction()
		blockers = append(blockers, blocker)
		tx := s.BeginTransaction()
		require.NoError(t, tx.Put([]byte{byte(i)}, txstack.Value{"v": float64(i)}))
		require.NoError(t, tx.Commit())
	}
	// Every stack slot is pinned open by a still-open blocker sibling, so
	// none of the MaxStackSize entries can flatten into the backend.
	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("overflow"), txstack.Value{"v": 1.0}))
	err := tx.Commit()
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.KindConflict) || kverrors.Is(err, kverrors.KindStackOverflow))

	for _, b := range blockers {
		require.NoError(t, b.Abort())
	}
}

// MinKey/MaxKey/Count must reflect the store's current state (top of the
// stack), not just the flattened backend — the same "current state" Get
// already reads through an implicit Snapshot.
func TestMinMaxCountReflectOpenStackEntries(t *testing.T) {
	s := newMemStore(t, "minmax")

	_, _, ok, err := s.MinKey()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, s.Count())

	blocker := s.BeginTransaction() // pins the stack entry below from flattening
	writer := s.BeginTransaction()
	require.NoError(t, writer.Put([]byte("m"), txstack.Value{"v": 1.0}))
	require.NoError(t, writer.Put([]byte("a"), txstack.Value{"v": 2.0}))
	require.NoError(t, writer.Put([]byte("z"), txstack.Value{"v": 3.0}))
	require.NoError(t, writer.Commit())

	minK, minV, ok, err := s.MinKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), minK)
	require.Equal(t, 2.0, minV["v"])

	maxK, maxV, ok, err := s.MaxKey()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("z"), maxK)
	require.Equal(t, 3.0, maxV["v"])

	require.Equal(t, 3, s.Count())

	require.NoError(t, blocker.Abort())
}

// Property 5 (spec.md §8): keys(only(k)) on a unique index returns exactly
// the primary key whose extracted secondary key equals k, cardinality <= 1.
func TestUniqueIndexExactMatchCardinality(t *testing.T) {
	s := newMemStore(t, "unique-cardinality")
	require.NoError(t, s.CreateIndex(txstack.IndexConfig{Name: "byVal", KeyPath: "val", Unique: true, Kind: enc.Number}))

	tx := s.BeginTransaction()
	require.NoError(t, tx.Put([]byte("k1"), txstack.Value{"val": 7.0}))
	require.NoError(t, tx.Put([]byte("k2"), txstack.Value{"val": 8.0}))
	require.NoError(t, tx.Commit())

	sk, err := enc.NewCodec(enc.Number).Encode(7.0)
	require.NoError(t, err)

	ks, err := s.Keys("byVal", keyrange.Only(sk), -1)
	require.NoError(t, err)
	require.LessOrEqual(t, len(ks), 1)
	require.Equal(t, [][]byte{[]byte("k1")}, ks)
}
