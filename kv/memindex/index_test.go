package memindex_test

import (
	"testing"

	"github.com/erigontech/stackdb/kv/enc"
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/memindex"
	"github.com/erigontech/stackdb/kverrors"
	"github.com/stretchr/testify/require"
)

func doc(email string, age float64) memindex.Value {
	return memindex.Value{"email": email, "age": age}
}

func TestUniqueIndexRejectsDuplicateSecondaryKey(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byEmail", KeyPath: "email", Unique: true, Kind: enc.String})

	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 1), nil))
	err := ix.Put([]byte("pk2"), doc("a@x.com", 2), nil)
	require.Error(t, err)
	require.Equal(t, kverrors.KindConstraintViolation, kverrors.GetKind(err))
}

func TestUniqueIndexAllowsReassertingSameOwner(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byEmail", KeyPath: "email", Unique: true, Kind: enc.String})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 1), nil))
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 2), doc("a@x.com", 1)))
}

func TestNonUniqueIndexUnionsMembers(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byAge", KeyPath: "age", Unique: false, Kind: enc.Number})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 30), nil))
	require.NoError(t, ix.Put([]byte("pk2"), doc("b@x.com", 30), nil))

	k30, err := enc.EncodeNumber(30.0)
	require.NoError(t, err)
	got, err := ix.Keys("byAge", keyrange.Only(k30), -1)
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{[]byte("pk1"), []byte("pk2")}, got)
}

func TestRemoveDropsTreeEntryWhenSetEmpties(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byAge", KeyPath: "age", Kind: enc.Number})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 30), nil))
	ix.Remove([]byte("pk1"), doc("a@x.com", 30))

	got, err := ix.Keys("byAge", keyrange.All(), -1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPutMovesSecondaryKeyOnValueChange(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byEmail", KeyPath: "email", Unique: true, Kind: enc.String})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 1), nil))
	require.NoError(t, ix.Put([]byte("pk1"), doc("b@x.com", 1), doc("a@x.com", 1)))

	got, err := ix.Keys("byEmail", keyrange.Only([]byte("a@x.com")), -1)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = ix.Keys("byEmail", keyrange.Only([]byte("b@x.com")), -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("pk1")}, got)
}

func TestMultiEntryExpandsSequenceIntoSeparateKeys(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byTag", KeyPath: "tags", MultiEntry: true, Kind: enc.String})
	v := memindex.Value{"tags": []any{"red", "blue"}}
	require.NoError(t, ix.Put([]byte("pk1"), v, nil))

	gotRed, err := ix.Keys("byTag", keyrange.Only([]byte("red")), -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("pk1")}, gotRed)

	gotBlue, err := ix.Keys("byTag", keyrange.Only([]byte("blue")), -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("pk1")}, gotBlue)
}

func TestMinMaxKeysTieBreakReturnsEveryPrimaryKeyAtExtreme(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byAge", KeyPath: "age", Kind: enc.Number})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 20), nil))
	require.NoError(t, ix.Put([]byte("pk2"), doc("b@x.com", 20), nil))
	require.NoError(t, ix.Put([]byte("pk3"), doc("c@x.com", 40), nil))

	min, err := ix.MinKeys("byAge")
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{[]byte("pk1"), []byte("pk2")}, min)

	max, err := ix.MaxKeys("byAge")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("pk3")}, max)
}

func TestKeyStreamDescendingVisitsSecondaryKeysInReverse(t *testing.T) {
	ix := memindex.New(memindex.Config{Name: "byAge", KeyPath: "age", Kind: enc.Number})
	require.NoError(t, ix.Put([]byte("pk1"), doc("a@x.com", 10), nil))
	require.NoError(t, ix.Put([]byte("pk2"), doc("b@x.com", 20), nil))

	var visited [][]byte
	ix.KeyStream(keyrange.All(), false, func(_, pk []byte) bool {
		visited = append(visited, append([]byte(nil), pk...))
		return true
	})
	require.Equal(t, [][]byte{[]byte("pk2"), []byte("pk1")}, visited)
}
