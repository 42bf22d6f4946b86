package mdbx

import (
	"bytes"

	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/order"
)

// Index is the persistent (duplicate-sort) index (spec.md §4.3): the same
// secondary-key -> primary-key contract as kv/memindex, backed by the
// native engine's ordered DupSort table instead of an in-memory B+ tree.
type Index struct {
	backend Store
	table   string
	unique  bool
}

func NewIndex(b Store, table string, unique bool) *Index {
	return &Index{backend: b, table: table, unique: unique}
}

// Keys returns every primary key whose secondary key lies in r, using the
// backend's ordered cursor, bounded by limit (limit < 0 = unbounded).
// Implements keyrange.Source.
func (ix *Index) Keys(_ string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	cur, err := ix.backend.NewCursor(ix.table)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out [][]byte
	lo, hasLo, _ := r.LowerKey()
	var key, val []byte
	var ok bool
	if hasLo {
		key, val, ok, err = cur.Seek(lo, order.Asc)
	} else {
		key, val, ok, err = cur.First()
	}
	if err != nil {
		return nil, err
	}
	for ok {
		if !r.Includes(key) {
			break
		}
		out = append(out, val)
		if limit >= 0 && len(out) >= limit {
			return out, nil
		}
		key, val, ok, err = cur.Next()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ix *Index) MinKeys(_ string) ([][]byte, error) {
	cur, err := ix.backend.NewCursor(ix.table)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return ix.dupGroupAt(cur, cur.First, cur.Next, false)
}

// MaxKeys must return every primary key bound to the largest secondary key,
// not just the single entry Last() lands on: the table orders entries by
// (key, value), so the rest of that dup group sits behind Last(), not ahead
// of it. Walking backward with Prev collects the full group, mirroring
// kv/memindex.Index.MaxKeys (which reads its whole member set off the
// tree's bottom key the same way MinKeys reads the top).
func (ix *Index) MaxKeys(_ string) ([][]byte, error) {
	cur, err := ix.backend.NewCursor(ix.table)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return ix.dupGroupAt(cur, cur.Last, cur.Prev, true)
}

type positioner func() ([]byte, []byte, bool, error)

// dupGroupAt collects every value sharing the secondary key pos lands on,
// stepping through the rest of that duplicate group with step. reversed
// asks for the result in ascending primary-key order even though step walks
// backward (MaxKeys' case), so both MinKeys and MaxKeys hand callers the
// same member-set ordering.
func (ix *Index) dupGroupAt(cur *Cursor, pos, step positioner, reversed bool) ([][]byte, error) {
	key, val, ok, err := pos()
	if err != nil || !ok {
		return nil, err
	}
	out := [][]byte{val}
	for {
		k2, v2, ok2, err := step()
		if err != nil {
			return nil, err
		}
		if !ok2 || !bytes.Equal(k2, key) {
			break
		}
		out = append(out, v2)
	}
	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
