package keyrange_test

import (
	"testing"

	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/stretchr/testify/require"
)

func k(s string) []byte { return []byte(s) }

func TestKeyRangeIncludes(t *testing.T) {
	r := keyrange.Bound(k("b"), k("d"), false, true) // [b, d)
	require.False(t, r.Includes(k("a")))
	require.True(t, r.Includes(k("b")))
	require.True(t, r.Includes(k("c")))
	require.False(t, r.Includes(k("d")))
	require.False(t, r.Includes(k("e")))
}

func TestOnlyIsExactMatch(t *testing.T) {
	r := keyrange.Only(k("x"))
	require.True(t, r.ExactMatch())
	require.True(t, r.Includes(k("x")))
	require.False(t, r.Includes(k("y")))
}

func TestAllIncludesEverything(t *testing.T) {
	r := keyrange.All()
	require.True(t, r.Includes(k("")))
	require.True(t, r.Includes(k("anything")))
}

type fakeSource struct {
	byIndex map[string][][]byte
}

func (f fakeSource) Keys(index string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	var out [][]byte
	for _, kk := range f.byIndex[index] {
		if r.Includes(kk) {
			out = append(out, kk)
		}
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeSource) MinKeys(index string) ([][]byte, error) {
	ks := f.byIndex[index]
	if len(ks) == 0 {
		return nil, nil
	}
	return ks[:1], nil
}

func (f fakeSource) MaxKeys(index string) ([][]byte, error) {
	ks := f.byIndex[index]
	if len(ks) == 0 {
		return nil, nil
	}
	return ks[len(ks)-1:], nil
}

func TestQueryAndIntersects(t *testing.T) {
	src := fakeSource{byIndex: map[string][][]byte{
		"byVal": {k("1"), k("2"), k("3")},
		"byTag": {k("2"), k("3"), k("4")},
	}}
	q := keyrange.And(
		keyrange.GE("byVal", k("1")),
		keyrange.GE("byTag", k("1")),
	)
	got, err := q.Keys(src, -1)
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{k("2"), k("3")}, got)
}

func TestQueryOrUnionsAndDedupes(t *testing.T) {
	src := fakeSource{byIndex: map[string][][]byte{
		"byVal": {k("1"), k("2")},
		"byTag": {k("2"), k("3")},
	}}
	q := keyrange.Or(
		keyrange.GE("byVal", k("1")),
		keyrange.GE("byTag", k("1")),
	)
	got, err := q.Keys(src, -1)
	require.NoError(t, err)
	require.ElementsMatch(t, [][]byte{k("1"), k("2"), k("3")}, got)
}

func TestQueryOrRespectsLimitDuringAccumulation(t *testing.T) {
	src := fakeSource{byIndex: map[string][][]byte{
		"byVal": {k("1"), k("2"), k("3")},
	}}
	q := keyrange.Or(keyrange.GE("byVal", k("1")))
	got, err := q.Keys(src, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
