package database

import (
	"io"

	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/txstack"
)

// Value is re-exported from kv/txstack so callers of this package never need
// to import it directly just to build a document literal.
type Value = txstack.Value

// ObjectStoreHandle is the Object Store surface of spec.md §6: get/put/
// remove/keys/values/keyStream/valueStream/min-max/count/truncate/
// transaction/snapshot/createIndex/deleteIndex. The single-call
// get/put/remove/truncate convenience methods each open an implicit
// Snapshot or Transaction under the hood and close it before returning;
// callers that need several operations to observe one consistent state (or
// to participate in a combined commit) should call Transaction/Snapshot
// directly instead.
type ObjectStoreHandle struct {
	store *txstack.ObjectStore
}

func newObjectStoreHandle(store *txstack.ObjectStore) *ObjectStoreHandle {
	return &ObjectStoreHandle{store: store}
}

// Transaction opens a fresh read/write Transaction (spec.md §6
// "transaction()").
func (h *ObjectStoreHandle) Transaction() *txstack.Transaction { return h.store.BeginTransaction() }

// Snapshot opens a read-only, flatten-proof Transaction (spec.md §6
// "snapshot()").
func (h *ObjectStoreHandle) Snapshot() *txstack.Transaction { return h.store.Snapshot() }

// Get reads k against an implicit snapshot of the current state.
func (h *ObjectStoreHandle) Get(k txstack.Key) (txstack.Value, bool, error) {
	snap := h.store.Snapshot()
	defer snap.Abort()
	return snap.Get(k)
}

// Put writes (k,v) in its own implicit transaction.
func (h *ObjectStoreHandle) Put(k txstack.Key, v txstack.Value) error {
	tx := h.store.BeginTransaction()
	if err := tx.Put(k, v); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

// Remove deletes k in its own implicit transaction.
func (h *ObjectStoreHandle) Remove(k txstack.Key) error {
	tx := h.store.BeginTransaction()
	if err := tx.Remove(k); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

// Truncate clears the store in its own implicit transaction.
func (h *ObjectStoreHandle) Truncate() error {
	tx := h.store.BeginTransaction()
	if err := tx.Truncate(); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit()
}

func (h *ObjectStoreHandle) MinKey() (txstack.Key, txstack.Value, bool, error) { return h.store.MinKey() }
func (h *ObjectStoreHandle) MaxKey() (txstack.Key, txstack.Value, bool, error) { return h.store.MaxKey() }
func (h *ObjectStoreHandle) Count() int                                       { return h.store.Count() }

func (h *ObjectStoreHandle) MinValue() (txstack.Value, bool, error) {
	_, v, ok, err := h.store.MinKey()
	return v, ok, err
}

func (h *ObjectStoreHandle) MaxValue() (txstack.Value, bool, error) {
	_, v, ok, err := h.store.MaxKey()
	return v, ok, err
}

// CreateIndex registers and immediately backfills a new secondary index
// (spec.md §6 "createIndex(name, keyPath, {...})").
func (h *ObjectStoreHandle) CreateIndex(spec IndexSpec) error {
	if err := h.store.CreateIndex(spec.toIndexConfig()); err != nil {
		return err
	}
	return h.store.BackfillIndex(spec.Name)
}

func (h *ObjectStoreHandle) DeleteIndex(name string) error { return h.store.DeleteIndex(name) }

// storeSource adapts an ObjectStore's post-flatten state into a
// keyrange.Source so a *keyrange.Query can be resolved directly against it.
// MinKeys/MaxKeys have no dedicated entry point at this layer (only Keys
// does), so they're derived the same way kv/txstack's own nestedIndexView
// derives them for a live Transaction: an unbounded ascending scan, keeping
// just the first or last key.
type storeSource struct{ store *txstack.ObjectStore }

func (s storeSource) Keys(name string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	return s.store.Keys(name, r, limit)
}

func (s storeSource) MinKeys(name string) ([][]byte, error) {
	ks, err := s.store.Keys(name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[:1], nil
}

func (s storeSource) MaxKeys(name string) ([][]byte, error) {
	ks, err := s.store.Keys(name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[len(ks)-1:], nil
}

// txSource is storeSource's counterpart for a live Transaction, so a query
// can run mid-transaction instead of only against the store's settled state.
type txSource struct{ tx *txstack.Transaction }

func (s txSource) Keys(name string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	return s.tx.Keys(name, r, limit)
}

func (s txSource) MinKeys(name string) ([][]byte, error) {
	ks, err := s.tx.Keys(name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[:1], nil
}

func (s txSource) MaxKeys(name string) ([][]byte, error) {
	ks, err := s.tx.Keys(name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[len(ks)-1:], nil
}

// Keys executes q against the store's current state (spec.md §6
// "keys(query,limit)").
func (h *ObjectStoreHandle) Keys(q *keyrange.Query, limit int) ([][]byte, error) {
	return q.Keys(storeSource{h.store}, limit)
}

// QueryInTransaction is Keys, but resolved against tx's effective state
// instead of the store's settled state, for callers building a query inside
// an already-open Transaction.
func QueryInTransaction(tx *txstack.Transaction, q *keyrange.Query, limit int) ([][]byte, error) {
	return q.Keys(txSource{tx}, limit)
}

// Values runs Keys and fetches each matching value against one snapshot
// (spec.md §6 "values(query,limit)").
func (h *ObjectStoreHandle) Values(q *keyrange.Query, limit int) ([]txstack.Value, error) {
	keys, err := h.Keys(q, limit)
	if err != nil {
		return nil, err
	}
	snap := h.store.Snapshot()
	defer snap.Abort()
	out := make([]txstack.Value, 0, len(keys))
	for _, k := range keys {
		v, ok, err := snap.Get(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// KeyStream wraps Keys as a push iterator (spec.md §6 "keyStream").
type KeyStream struct {
	keys [][]byte
	pos  int
}

func (h *ObjectStoreHandle) KeyStream(q *keyrange.Query, limit int) (*KeyStream, error) {
	keys, err := h.Keys(q, limit)
	if err != nil {
		return nil, err
	}
	return &KeyStream{keys: keys}, nil
}

func (s *KeyStream) HasNext() bool { return s.pos < len(s.keys) }

func (s *KeyStream) Next() ([]byte, error) {
	if !s.HasNext() {
		return nil, io.EOF
	}
	k := s.keys[s.pos]
	s.pos++
	return k, nil
}

// ValueStream pairs each matching key with its value, fetched lazily
// against one snapshot held open for the stream's lifetime so every value
// it yields reflects a single consistent point in time (spec.md §6
// "valueStream"). Callers must call Close when done to release the
// snapshot.
type ValueStream struct {
	snap *txstack.Transaction
	keys [][]byte
	pos  int
}

func (h *ObjectStoreHandle) ValueStream(q *keyrange.Query, limit int) (*ValueStream, error) {
	keys, err := h.Keys(q, limit)
	if err != nil {
		return nil, err
	}
	return &ValueStream{snap: h.store.Snapshot(), keys: keys}, nil
}

func (s *ValueStream) HasNext() bool { return s.pos < len(s.keys) }

func (s *ValueStream) Next() (txstack.Key, txstack.Value, error) {
	if !s.HasNext() {
		return nil, nil, io.EOF
	}
	k := s.keys[s.pos]
	s.pos++
	v, _, err := s.snap.Get(k)
	return k, v, err
}

func (s *ValueStream) Close() error { return s.snap.Abort() }
