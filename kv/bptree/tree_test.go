package bptree_test

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/erigontech/stackdb/kv/bptree"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func kv(i int) ([]byte, []byte) {
	return []byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%04d", i))
}

func TestInsertGetRoundTrip(t *testing.T) {
	tr := bptree.New(4)
	for i := 0; i < 50; i++ {
		k, v := kv(i)
		require.True(t, tr.Insert(k, v))
	}
	require.Equal(t, 50, tr.Len())
	for i := 0; i < 50; i++ {
		k, v := kv(i)
		got, ok := tr.Get(k)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

func TestInsertExistingKeyIsNoOp(t *testing.T) {
	tr := bptree.New(4)
	k, v := kv(1)
	require.True(t, tr.Insert(k, v))
	require.False(t, tr.Insert(k, []byte("different")))
	got, _ := tr.Get(k)
	require.Equal(t, v, got)
}

func TestGoTopGoBottomTraversal(t *testing.T) {
	tr := bptree.New(4)
	for i := 0; i < 30; i++ {
		k, v := kv(i)
		tr.Insert(k, v)
	}
	require.True(t, tr.GoTop())
	k0, _ := kv(0)
	require.Equal(t, k0, tr.CurrentKey())

	require.True(t, tr.GoBottom())
	k29, _ := kv(29)
	require.Equal(t, k29, tr.CurrentKey())
}

func TestNextVisitsEveryKeyInOrder(t *testing.T) {
	tr := bptree.New(5)
	const n = 80
	order := rand.New(rand.NewSource(1))
	idxs := order.Perm(n)
	for _, i := range idxs {
		k, v := kv(i)
		tr.Insert(k, v)
	}

	var seen [][]byte
	require.True(t, tr.GoTop())
	for {
		seen = append(seen, tr.CurrentKey())
		if !tr.Next() {
			break
		}
	}
	require.Len(t, seen, n)
	require.True(t, sort.SliceIsSorted(seen, func(i, j int) bool {
		return bytes.Compare(seen[i], seen[j]) < 0
	}))
}

func TestSeekModes(t *testing.T) {
	tr := bptree.New(4)
	for _, i := range []int{0, 2, 4, 6, 8} {
		k, v := kv(i)
		tr.Insert(k, v)
	}
	k3, _ := kv(3)
	k2, _ := kv(2)
	k4, _ := kv(4)

	require.False(t, tr.Seek(k3, bptree.Exact))

	require.True(t, tr.Seek(k3, bptree.GE))
	require.Equal(t, k4, tr.CurrentKey())

	require.True(t, tr.Seek(k3, bptree.LE))
	require.Equal(t, k2, tr.CurrentKey())
}

func TestRemoveRebalances(t *testing.T) {
	tr := bptree.New(3)
	const n = 60
	for i := 0; i < n; i++ {
		k, v := kv(i)
		tr.Insert(k, v)
	}
	del := rand.New(rand.NewSource(2))
	order := del.Perm(n)
	for _, i := range order[:n/2] {
		k, _ := kv(i)
		require.True(t, tr.Remove(k))
	}
	require.Equal(t, n/2, tr.Len())
	for _, i := range order[:n/2] {
		k, _ := kv(i)
		_, ok := tr.Get(k)
		require.False(t, ok)
	}
	for _, i := range order[n/2:] {
		k, v := kv(i)
		got, ok := tr.Get(k)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

func TestPackPreservesAllEntries(t *testing.T) {
	tr := bptree.New(4)
	const n = 40
	for i := 0; i < n; i++ {
		k, v := kv(i)
		tr.Insert(k, v)
	}
	for i := 0; i < n; i += 3 {
		k, _ := kv(i)
		tr.Remove(k)
	}
	tr.Pack()
	for i := 0; i < n; i++ {
		k, v := kv(i)
		got, ok := tr.Get(k)
		if i%3 == 0 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

// TestInOrderTraversalMatchesSortedInsertSet is a property test (spec.md §8
// property: "in-order traversal of the tree always yields keys in sorted
// order, regardless of insert/remove history").
func TestInOrderTraversalMatchesSortedInsertSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := bptree.New(rapid.IntRange(3, 9).Draw(rt, "order"))
		live := map[string]bool{}
		ops := rapid.SliceOfN(rapid.IntRange(0, 200), 1, 120).Draw(rt, "ops")
		for i, n := range ops {
			k := []byte(fmt.Sprintf("k%05d", n))
			if i%3 == 2 && live[string(k)] {
				tr.Remove(k)
				delete(live, string(k))
				continue
			}
			tr.Insert(k, k)
			live[string(k)] = true
		}

		var want [][]byte
		for k := range live {
			want = append(want, []byte(k))
		}
		sort.Slice(want, func(i, j int) bool { return bytes.Compare(want[i], want[j]) < 0 })

		var got [][]byte
		if tr.GoTop() {
			for {
				got = append(got, append([]byte(nil), tr.CurrentKey()...))
				if !tr.Next() {
					break
				}
			}
		}
		if len(want) != len(got) {
			rt.Fatalf("length mismatch: want %d got %d", len(want), len(got))
		}
		for i := range want {
			if !bytes.Equal(want[i], got[i]) {
				rt.Fatalf("order mismatch at %d: want %x got %x", i, want[i], got[i])
			}
		}
	})
}
