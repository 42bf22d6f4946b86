package mdbx_test

import (
	"testing"

	"github.com/erigontech/stackdb/kv"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kverrors"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *mdbx.Backend {
	t.Helper()
	b, err := mdbx.Open(t.TempDir(), 16)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	require.NoError(t, b.EnsureTable("widgets", kv.TableCfgItem{}))
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	require.NoError(t, b.ApplyBatch([]mdbx.Mutation{{Table: "widgets", Key: []byte("a"), Value: []byte("1")}}))

	v, ok, err := b.Get("widgets", []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestDeleteRemovesKey(t *testing.T) {
	b := openTestBackend(t)
	require.NoError(t, b.ApplyBatch([]mdbx.Mutation{{Table: "widgets", Key: []byte("a"), Value: []byte("1")}}))
	require.NoError(t, b.ApplyBatch([]mdbx.Mutation{{Table: "widgets", Key: []byte("a"), Value: nil, Delete: true}}))

	_, ok, err := b.Get("widgets", []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoOverwriteYieldsConstraintViolation(t *testing.T) {
	b := openTestBackend(t)
	require.NoError(t, b.ApplyBatch([]mdbx.Mutation{{Table: "widgets", Key: []byte("a"), Value: []byte("1"), NoOverwrite: true}}))

	err := b.ApplyBatch([]mdbx.Mutation{{Table: "widgets", Key: []byte("a"), Value: []byte("2"), NoOverwrite: true}})
	require.Error(t, err)
	require.Equal(t, kverrors.KindConstraintViolation, kverrors.GetKind(err))
}

func TestCursorScansInOrder(t *testing.T) {
	b := openTestBackend(t)
	require.NoError(t, b.ApplyBatch([]mdbx.Mutation{
		{Table: "widgets", Key: []byte("b"), Value: []byte("2")},
		{Table: "widgets", Key: []byte("a"), Value: []byte("1")},
		{Table: "widgets", Key: []byte("c"), Value: []byte("3")},
	}))

	cur, err := b.NewCursor("widgets")
	require.NoError(t, err)
	defer cur.Close()

	var keys []string
	k, _, ok, err := cur.First()
	require.NoError(t, err)
	for ok {
		keys = append(keys, string(k))
		k, _, ok, err = cur.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}
