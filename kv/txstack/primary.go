package txstack

import (
	"github.com/erigontech/stackdb/kv/bptree"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kv/order"
	"github.com/erigontech/stackdb/kverrors"
)

// primaryStore is the object store's base (un-indexed) key/value table:
// either an in-memory B+ tree or the persistent backend's table. Both the
// Object Store's own min/maxKey/count and the flatten-into-backend step
// (spec.md §4.5 step 3) go through this interface.
type primaryStore interface {
	get(k Key) (Value, bool, error)
	min() (Key, Value, bool, error)
	max() (Key, Value, bool, error)
	scan(lower Key, lowerOpen bool, limit int) ([]Key, error)
	count() int
	// mutations returns the backend batch entries puts/removes require.
	// An in-memory primary store has no backend to batch against and
	// always returns nil.
	mutations(puts map[string]Value, removes map[string]struct{}) ([]mdbx.Mutation, error)
	// apply performs the in-memory half of writing puts/removes. For the
	// mdbx-backed primary store the write already happened as part of the
	// batch built from mutations, so this is a no-op.
	apply(puts map[string]Value, removes map[string]struct{}) error
	applyTruncate() error
}

// memPrimary stores values in an in-memory B+ tree keyed by raw primary
// key bytes, so min/maxKey and ordered scans reuse kv/bptree instead of a
// second hand-rolled ordered container.
type memPrimary struct {
	tree  *bptree.Tree
	codec Codec
}

func newMemPrimary(codec Codec) *memPrimary {
	return &memPrimary{tree: bptree.New(bptree.DefaultOrder), codec: codec}
}

func (m *memPrimary) get(k Key) (Value, bool, error) {
	rec, ok := m.tree.Get(k)
	if !ok {
		return nil, false, nil
	}
	v, err := m.codec.Decode(rec)
	if err != nil {
		return nil, false, kverrors.Wrap(kverrors.KindStorageFailure, err, "decode value")
	}
	return v, true, nil
}

func (m *memPrimary) min() (Key, Value, bool, error) {
	if !m.tree.GoTop() {
		return nil, nil, false, nil
	}
	v, err := m.codec.Decode(m.tree.CurrentRecord())
	return m.tree.CurrentKey(), v, true, err
}

func (m *memPrimary) max() (Key, Value, bool, error) {
	if !m.tree.GoBottom() {
		return nil, nil, false, nil
	}
	v, err := m.codec.Decode(m.tree.CurrentRecord())
	return m.tree.CurrentKey(), v, true, err
}

func (m *memPrimary) scan(lower Key, lowerOpen bool, limit int) ([]Key, error) {
	if lower == nil {
		m.tree.GoTop()
	} else {
		m.tree.GoToLowerBound(lower, lowerOpen)
	}
	var out []Key
	for !m.tree.EOF() {
		if limit >= 0 && len(out) >= limit {
			break
		}
		out = append(out, m.tree.CurrentKey())
		if !m.tree.Next() {
			break
		}
	}
	return out, nil
}

func (m *memPrimary) count() int { return m.tree.Len() }

func (m *memPrimary) mutations(map[string]Value, map[string]struct{}) ([]mdbx.Mutation, error) {
	return nil, nil
}

func (m *memPrimary) apply(puts map[string]Value, removes map[string]struct{}) error {
	for k := range removes {
		m.tree.Remove([]byte(k))
	}
	for k, v := range puts {
		enc, err := m.codec.Encode(v)
		if err != nil {
			return kverrors.Wrap(kverrors.KindStorageFailure, err, "encode value")
		}
		m.tree.Remove([]byte(k))
		m.tree.Insert([]byte(k), enc)
	}
	return nil
}

func (m *memPrimary) applyTruncate() error {
	m.tree = bptree.New(bptree.DefaultOrder)
	return nil
}

// mdbxPrimary stores values in the persistent backend's table for this
// object store.
type mdbxPrimary struct {
	backend mdbx.Store
	table   string
	codec   Codec
}

func newMDBXPrimary(b mdbx.Store, table string, codec Codec) *mdbxPrimary {
	return &mdbxPrimary{backend: b, table: table, codec: codec}
}

func (p *mdbxPrimary) get(k Key) (Value, bool, error) {
	raw, ok, err := p.backend.Get(p.table, k)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := p.codec.Decode(raw)
	return v, true, err
}

func (p *mdbxPrimary) withCursor(fn func(*mdbx.Cursor) error) error {
	cur, err := p.backend.NewCursor(p.table)
	if err != nil {
		return err
	}
	defer cur.Close()
	return fn(cur)
}

func (p *mdbxPrimary) min() (Key, Value, bool, error) {
	var k, raw []byte
	var ok bool
	err := p.withCursor(func(c *mdbx.Cursor) error {
		var err error
		k, raw, ok, err = c.First()
		return err
	})
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	v, err := p.codec.Decode(raw)
	return k, v, true, err
}

func (p *mdbxPrimary) max() (Key, Value, bool, error) {
	var k, raw []byte
	var ok bool
	err := p.withCursor(func(c *mdbx.Cursor) error {
		var err error
		k, raw, ok, err = c.Last()
		return err
	})
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	v, err := p.codec.Decode(raw)
	return k, v, true, err
}

func (p *mdbxPrimary) scan(lower Key, lowerOpen bool, limit int) ([]Key, error) {
	var out []Key
	err := p.withCursor(func(c *mdbx.Cursor) error {
		var k []byte
		var ok bool
		var err error
		if lower == nil {
			k, _, ok, err = c.First()
		} else {
			k, _, ok, err = c.Seek(lower, order.Asc)
			if ok && lowerOpen && string(k) == string(lower) {
				k, _, ok, err = c.Next()
			}
		}
		for err == nil && ok {
			if limit >= 0 && len(out) >= limit {
				return nil
			}
			out = append(out, k)
			k, _, ok, err = c.Next()
		}
		return err
	})
	return out, err
}

func (p *mdbxPrimary) count() int {
	ks, _ := p.scan(nil, false, -1)
	return len(ks)
}

func (p *mdbxPrimary) mutations(puts map[string]Value, removes map[string]struct{}) ([]mdbx.Mutation, error) {
	var muts []mdbx.Mutation
	for k := range removes {
		muts = append(muts, mdbx.Mutation{Table: p.table, Key: []byte(k), Delete: true})
	}
	for k, v := range puts {
		enc, err := p.codec.Encode(v)
		if err != nil {
			return nil, kverrors.Wrap(kverrors.KindStorageFailure, err, "encode value")
		}
		muts = append(muts, mdbx.Mutation{Table: p.table, Key: []byte(k), Value: enc})
	}
	return muts, nil
}

// apply is a no-op: the primary table's write already happened as part of
// the batch built from mutations.
func (p *mdbxPrimary) apply(map[string]Value, map[string]struct{}) error {
	return nil
}

func (p *mdbxPrimary) applyTruncate() error {
	return p.backend.DropTable(p.table)
}
