package txstack

import (
	"bytes"
	"sync"
	"time"

	"github.com/erigontech/stackdb/internal/log"
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kverrors"
)

// TxState is a Transaction's position in the state machine of spec.md §4.5.
type TxState uint8

const (
	Open TxState = iota
	Nested
	Committed
	Aborted
	Conflicted
)

func (s TxState) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Nested:
		return "NESTED"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	case Conflicted:
		return "CONFLICTED"
	default:
		return "UNKNOWN"
	}
}

// watchdogDuration is the fixed delay before an open transaction logs a
// warning (spec.md §5); it does not force an abort. Package-level so tests
// can shrink it; not exposed through any public constructor.
var watchdogDuration = 5 * time.Second

// Transaction is a read/write overlay on top of either the Object Store's
// base state, a previously-committed stack entry, or (for a nested
// transaction) another open Transaction.
type Transaction struct {
	mu sync.Mutex

	id    uint64
	store *ObjectStore

	parentInfo   *TransactionInfo // non-nil: reads through a closed stack entry
	nestedParent *Transaction     // non-nil: this is a nested (savepoint) transaction
	readOnly     bool             // true for Snapshots (spec.md §4.7)

	state TxState

	modified  map[string]Value
	removed   map[string]struct{}
	truncated bool

	indexes map[string]*TransactionIndex

	nested []*Transaction

	watchdog *time.Timer
}

func newTransaction(store *ObjectStore, parent *TransactionInfo, nestedParent *Transaction, readOnly bool) *Transaction {
	t := &Transaction{
		id:           store.nextTxID(),
		store:        store,
		parentInfo:   parent,
		nestedParent: nestedParent,
		readOnly:     readOnly,
		state:        Open,
		modified:     make(map[string]Value),
		removed:      make(map[string]struct{}),
		indexes:      make(map[string]*TransactionIndex),
	}
	for name, cfg := range store.indexConfigs {
		t.indexes[name] = newTransactionIndex(memindexConfigOf(name, cfg))
	}
	t.watchdog = time.AfterFunc(watchdogDuration, func() {
		log.Warn("transaction exceeded watchdog duration", "txID", t.id, "duration", watchdogDuration)
	})
	return t
}

func (t *Transaction) ID() uint64   { return t.id }
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) isLive() bool {
	return t.state == Open || t.state == Nested
}

// Get reads k following the three-level lookup of spec.md §4.5.
func (t *Transaction) Get(k Key) (Value, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isLive() {
		return nil, false, kverrors.ErrClosed
	}
	return t.lookup(k)
}

// lookup is Get without the liveness gate, used to read through frozen
// (committed) parent transactions on the state stack.
func (t *Transaction) lookup(k Key) (Value, bool, error) {
	sk := string(k)
	if _, ok := t.removed[sk]; ok {
		return nil, false, nil
	}
	if v, ok := t.modified[sk]; ok {
		return v, true, nil
	}
	if t.truncated {
		return nil, false, nil
	}
	switch {
	case t.nestedParent != nil:
		return t.nestedParent.lookup(k)
	case t.parentInfo != nil:
		return t.parentInfo.tx.lookup(k)
	default:
		return t.store.baseGet(k)
	}
}

func (t *Transaction) parentIndexSource(name string) keyrange.Source {
	switch {
	case t.nestedParent != nil:
		return &nestedIndexView{tx: t.nestedParent, name: name}
	case t.parentInfo != nil:
		return &nestedIndexView{tx: t.parentInfo.tx, name: name}
	default:
		return t.store.baseIndexSource(name)
	}
}

// nestedIndexView adapts a parent Transaction's TransactionIndex (plus its
// own parent chain) into a keyrange.Source for the child transaction's
// queries.
type nestedIndexView struct {
	tx   *Transaction
	name string
}

func (v *nestedIndexView) Keys(_ string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	ti := v.tx.indexes[v.name]
	return ti.Keys(v.tx.parentIndexSource(v.name), r, limit)
}

func (v *nestedIndexView) MinKeys(_ string) ([][]byte, error) {
	ks, err := v.Keys(v.name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[:1], nil
}

func (v *nestedIndexView) MaxKeys(_ string) ([][]byte, error) {
	ks, err := v.Keys(v.name, keyrange.All(), -1)
	if err != nil || len(ks) == 0 {
		return nil, err
	}
	return ks[len(ks)-1:], nil
}

// Put writes (k,v), enforcing unique-index constraints against the
// effective state (spec.md §4.5 "Write").
func (t *Transaction) Put(k Key, v Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return kverrors.New(kverrors.KindUnsupportedOperation, "writes are disabled on a snapshot")
	}
	if !t.isLive() {
		return kverrors.ErrClosed
	}
	old, _, err := t.lookup(k)
	if err != nil {
		return err
	}
	if err := t.checkUniqueConstraints(k, v); err != nil {
		return err
	}
	delete(t.removed, string(k))
	t.modified[string(k)] = v
	for _, ti := range t.indexes {
		if err := ti.Put(k, v, old); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) checkUniqueConstraints(k Key, newValue Value) error {
	for name, cfg := range t.store.indexConfigs {
		if !cfg.Unique {
			continue
		}
		ti := t.indexes[name]
		secondaryKeys, ok, err := ti.overlay.ExtractKeys(newValue)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		parentSrc := t.parentIndexSource(name)
		for _, sk := range secondaryKeys {
			owners, err := ti.Keys(parentSrc, keyrange.Only(sk), -1)
			if err != nil {
				return err
			}
			for _, o := range owners {
				if !bytes.Equal(o, k) {
					return kverrors.New(kverrors.KindConstraintViolation, "secondary key already bound to a different primary key")
				}
			}
		}
	}
	return nil
}

// Remove deletes k (spec.md §4.5 "Write").
func (t *Transaction) Remove(k Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return kverrors.New(kverrors.KindUnsupportedOperation, "writes are disabled on a snapshot")
	}
	if !t.isLive() {
		return kverrors.ErrClosed
	}
	old, existed, err := t.lookup(k)
	if err != nil {
		return err
	}
	delete(t.modified, string(k))
	t.removed[string(k)] = struct{}{}
	if existed {
		for _, ti := range t.indexes {
			ti.Remove(k, old)
		}
	}
	return nil
}

// Truncate clears every key visible through this transaction.
func (t *Transaction) Truncate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readOnly {
		return kverrors.New(kverrors.KindUnsupportedOperation, "writes are disabled on a snapshot")
	}
	if !t.isLive() {
		return kverrors.ErrClosed
	}
	t.truncated = true
	t.modified = make(map[string]Value)
	t.removed = make(map[string]struct{})
	for _, ti := range t.indexes {
		ti.Truncate()
	}
	return nil
}

// Keys executes q against this transaction's effective state.
func (t *Transaction) Keys(indexName string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isLive() {
		return nil, kverrors.ErrClosed
	}
	ti, ok := t.indexes[indexName]
	if !ok {
		return nil, kverrors.Newf(kverrors.KindUnsupportedOperation, "no such index %q", indexName)
	}
	return ti.Keys(t.parentIndexSource(indexName), r, limit)
}

// BeginNested opens a nested (savepoint) transaction under t.
func (t *Transaction) BeginNested() (*Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isLive() {
		return nil, kverrors.ErrClosed
	}
	child := newTransaction(t.store, nil, t, t.readOnly)
	t.nested = append(t.nested, child)
	t.state = Nested
	return child, nil
}

// Commit closes t. A top-level transaction (parentInfo set or base) goes
// through the Object Store's commit protocol (spec.md §4.5); a nested
// transaction folds its overlay into its parent instead.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if !t.isLive() {
		t.mu.Unlock()
		return kverrors.ErrClosed
	}
	if t.state == Nested {
		t.mu.Unlock()
		return kverrors.New(kverrors.KindClosed, "transaction has open nested children")
	}
	nestedParent := t.nestedParent
	t.mu.Unlock()

	t.watchdog.Stop()

	if nestedParent != nil {
		return t.commitNestedInto(nestedParent)
	}
	return t.store.commitTopLevel(t)
}

func (t *Transaction) commitNestedInto(parent *Transaction) error {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := mergeTransactionInto(parent, t); err != nil {
		return err
	}

	t.state = Committed
	parent.removeNestedChild(t)
	return nil
}

// mergeTransactionInto folds src's overlay into dst, used both when a
// nested transaction commits into its parent and when a stack entry
// flattens into the TransactionInfo below it. Callers must hold both
// transactions' mutexes.
func mergeTransactionInto(dst, src *Transaction) error {
	if src.truncated {
		dst.truncated = true
		dst.modified = make(map[string]Value)
		dst.removed = make(map[string]struct{})
		for _, ti := range dst.indexes {
			ti.Truncate()
		}
	}

	// Capture dst's pre-merge value for every touched key up front, so
	// each index update below sees a consistent "previous value"
	// regardless of map iteration order.
	oldValues := make(map[string]Value, len(src.modified)+len(src.removed))
	for k := range src.removed {
		v, _, _ := dst.lookup([]byte(k))
		oldValues[k] = v
	}
	for k := range src.modified {
		v, _, _ := dst.lookup([]byte(k))
		oldValues[k] = v
	}

	for k := range src.removed {
		old := oldValues[k]
		delete(dst.modified, k)
		dst.removed[k] = struct{}{}
		for _, ti := range dst.indexes {
			ti.Remove([]byte(k), old)
		}
	}
	for k, v := range src.modified {
		old := oldValues[k]
		delete(dst.removed, k)
		dst.modified[k] = v
		for _, ti := range dst.indexes {
			if err := ti.Put([]byte(k), v, old); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Transaction) removeNestedChild(child *Transaction) {
	for i, n := range t.nested {
		if n == child {
			t.nested = append(t.nested[:i], t.nested[i+1:]...)
			break
		}
	}
	if len(t.nested) == 0 {
		t.state = Open
	}
}

// Abort discards t's overlay (spec.md §4.5). Idempotent once applied: a
// second Abort on an already-terminal transaction is a no-op.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	if t.state == Aborted || t.state == Committed || t.state == Conflicted {
		t.mu.Unlock()
		return nil
	}
	nested := append([]*Transaction(nil), t.nested...)
	nestedParent := t.nestedParent
	t.state = Aborted
	t.mu.Unlock()

	t.watchdog.Stop()
	for _, child := range nested {
		_ = child.Abort()
	}
	switch {
	case nestedParent != nil:
		nestedParent.mu.Lock()
		nestedParent.removeNestedChild(t)
		nestedParent.mu.Unlock()
	case t.readOnly:
		// Snapshots are never on an openTx list (see ObjectStore.Snapshot);
		// they live only in the SnapshotManager's registry.
		t.store.snapshotMgr.unregister(t, t.parentInfo)
	case t.parentInfo != nil:
		t.parentInfo.removeOpenChild(t)
	default:
		t.store.removeOpenBaseChild(t)
	}
	return nil
}
