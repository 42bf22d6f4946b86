package txstack

import (
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/memindex"
)

// storeIndex is what every backend index (in-memory or persistent) exposes
// to a TransactionIndex overlay and to query execution.
type storeIndex interface {
	keyrange.Source
	Name() string
}

// TransactionIndex is the per-Transaction, per-index overlay named in
// spec.md §4.5 ("one Transaction-Index per backend index"). It holds only
// the secondary-key entries for primary keys touched during this
// transaction; everything else is answered by delegating to the parent
// state's index and filtering out whatever this transaction locally
// overrode.
type TransactionIndex struct {
	name     string
	overlay  *memindex.Index // entries keyed under their *new* secondary key
	touched  map[string]struct{} // primary keys this tx wrote or removed
}

func newTransactionIndex(cfg memindex.Config) *TransactionIndex {
	return &TransactionIndex{
		name:    cfg.Name,
		overlay: memindex.New(cfg),
		touched: make(map[string]struct{}),
	}
}

func (ti *TransactionIndex) Name() string { return ti.name }

// Put records that primaryKey now maps to newValue (previously oldValue,
// nil on first write within this transaction).
func (ti *TransactionIndex) Put(primaryKey Key, newValue, oldValue Value) error {
	if err := ti.overlay.Put(primaryKey, newValue, oldValue); err != nil {
		return err
	}
	ti.touched[string(primaryKey)] = struct{}{}
	return nil
}

// Remove records that primaryKey (previously oldValue) is gone.
func (ti *TransactionIndex) Remove(primaryKey Key, oldValue Value) {
	ti.overlay.Remove(primaryKey, oldValue)
	ti.touched[string(primaryKey)] = struct{}{}
}

func (ti *TransactionIndex) Truncate() {
	ti.overlay.Truncate()
}

// Keys merges parent's matches with this transaction's local overlay:
// parent matches whose primary key was locally touched are dropped (the
// overlay, not the parent, decides their current membership), then the
// overlay's own matches are unioned in.
func (ti *TransactionIndex) Keys(parent keyrange.Source, r keyrange.KeyRange, limit int) ([][]byte, error) {
	var out [][]byte
	if parent != nil {
		base, err := parent.Keys(ti.name, r, -1)
		if err != nil {
			return nil, err
		}
		for _, pk := range base {
			if _, touched := ti.touched[string(pk)]; touched {
				continue
			}
			out = append(out, pk)
		}
	}
	overlayKeys, err := ti.overlay.Keys(ti.name, r, -1)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(out))
	for _, pk := range out {
		seen[string(pk)] = struct{}{}
	}
	for _, pk := range overlayKeys {
		if _, ok := seen[string(pk)]; ok {
			continue
		}
		out = append(out, pk)
		seen[string(pk)] = struct{}{}
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
