package txstack

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/erigontech/stackdb/internal/metrics"
	"github.com/erigontech/stackdb/kv"
	"github.com/erigontech/stackdb/kv/cache"
	"github.com/erigontech/stackdb/kv/enc"
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kv/memindex"
	"github.com/erigontech/stackdb/kverrors"
)

// MaxStackSize bounds how many uncommitted-to-backend transactions may
// pile up on an Object Store's state stack before new commits are
// rejected with StackOverflow (spec.md §7).
const MaxStackSize = 10

var globalTxID atomic.Uint64

func nextGlobalTxID() uint64 { return globalTxID.Add(1) }

// TransactionInfo is one entry on an Object Store's state stack: a closed
// (committed) Transaction plus the bookkeeping needed to flatten it
// (spec.md §4.5 step 2).
type TransactionInfo struct {
	parent *TransactionInfo // nil: sits directly on the backend/base state
	tx     *Transaction

	openTx     []*Transaction        // OPEN transactions reading this entry as parent
	dependency *CombinedTransaction // non-nil while a combined commit defers flattening

	readyNotified bool // true once dependency.participantReady has fired for this entry
}

func (ti *TransactionInfo) removeOpenChild(child *Transaction) {
	for i, c := range ti.openTx {
		if c == child {
			ti.openTx = append(ti.openTx[:i], ti.openTx[i+1:]...)
			return
		}
	}
}

// ObjectStore is the Object Store of spec.md §4: a base (backend or
// in-memory) state plus the LIFO stack of committed-but-not-yet-flattened
// transactions layered on top of it.
type ObjectStore struct {
	mu sync.Mutex

	name string
	cfg  ObjectStoreConfig

	backend mdbx.Store // nil unless cfg.Persistent

	primary primaryStore

	indexConfigs    map[string]IndexConfig
	indexes         map[string]*memindex.Index // query cache; always populated when !Persistent
	indexExtractors map[string]*memindex.Index // extraction-only scratch, always populated
	persistentIndexes map[string]*mdbx.Index

	stack      []*TransactionInfo
	baseOpenTx []*Transaction

	flattenMu sync.Mutex

	snapshotMgr *SnapshotManager

	db database // owning Database Handle, for combined-transaction participant checks
}

// database is the thin slice of Database Handle behavior an ObjectStore
// needs without importing the database package (which imports txstack).
type database interface {
	Name() string
}

// NewObjectStore builds an Object Store named name. backend is nil unless
// cfg.Persistent is set.
func NewObjectStore(name string, cfg ObjectStoreConfig, backend mdbx.Store, db database) (*ObjectStore, error) {
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	s := &ObjectStore{
		name:              name,
		cfg:               cfg,
		backend:           backend,
		indexConfigs:      make(map[string]IndexConfig),
		indexes:           make(map[string]*memindex.Index),
		indexExtractors:   make(map[string]*memindex.Index),
		persistentIndexes: make(map[string]*mdbx.Index),
		db:                db,
	}
	s.snapshotMgr = newSnapshotManager()
	if cfg.Persistent {
		if backend == nil {
			return nil, kverrors.New(kverrors.KindNotConnected, "persistent object store requires an open backend")
		}
		if cfg.EnableCache {
			cached, err := cache.New(backend, cfg.CacheSize)
			if err != nil {
				return nil, kverrors.Wrap(kverrors.KindStorageFailure, err, "build cached backend")
			}
			backend = cached
			s.backend = cached
		}
		if err := backend.EnsureTable(kv.StoreTable(name), kv.TableCfgItem{}); err != nil {
			return nil, err
		}
		s.primary = newMDBXPrimary(backend, kv.StoreTable(name), cfg.Codec)
	} else {
		s.primary = newMemPrimary(cfg.Codec)
	}
	return s, nil
}

func (s *ObjectStore) Name() string { return s.name }

func memindexConfigOf(name string, cfg IndexConfig) memindex.Config {
	return memindex.Config{Name: name, KeyPath: cfg.KeyPath, Unique: cfg.Unique, MultiEntry: cfg.MultiEntry, Kind: cfg.Kind}
}

// CreateIndex registers a secondary index (spec.md §6).
func (s *ObjectStore) CreateIndex(cfg IndexConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Kind == enc.Kind(0) && cfg.KeyPath == "" {
		return kverrors.New(kverrors.KindUnsupportedOperation, "index requires a keyPath")
	}
	mcfg := memindexConfigOf(cfg.Name, cfg)
	s.indexConfigs[cfg.Name] = cfg
	s.indexExtractors[cfg.Name] = memindex.New(mcfg)
	if !s.cfg.Persistent || s.cfg.EnableCache {
		s.indexes[cfg.Name] = memindex.New(mcfg)
	}
	if s.cfg.Persistent {
		table := kv.IndexTable(s.name, cfg.Name)
		if err := s.backend.EnsureTable(table, kv.TableCfgItem{Flags: kv.DupSort, Unique: cfg.Unique}); err != nil {
			return err
		}
		s.persistentIndexes[cfg.Name] = mdbx.NewIndex(s.backend, table, cfg.Unique)
	}
	return nil
}

// DeleteIndex removes a secondary index and its native table, if any.
func (s *ObjectStore) DeleteIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexConfigs, name)
	delete(s.indexes, name)
	delete(s.indexExtractors, name)
	if s.cfg.Persistent {
		delete(s.persistentIndexes, name)
		return s.backend.DropTable(kv.IndexTable(s.name, name))
	}
	return nil
}

func (s *ObjectStore) nextTxID() uint64 { return nextGlobalTxID() }

// baseGet reads k from the base primary store. It serves transactions whose
// parent is the base state itself, so it never reads through the stack:
// entries that siblings committed above the base stay invisible.
func (s *ObjectStore) baseGet(k Key) (Value, bool, error) {
	return s.primary.get(k)
}

func (s *ObjectStore) topEntry() *TransactionInfo {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

type emptySource struct{}

func (emptySource) Keys(string, keyrange.KeyRange, int) ([][]byte, error) { return nil, nil }
func (emptySource) MinKeys(string) ([][]byte, error)                     { return nil, nil }
func (emptySource) MaxKeys(string) ([][]byte, error)                     { return nil, nil }

func (s *ObjectStore) baseIndexSource(name string) keyrange.Source {
	s.mu.Lock()
	top := s.topEntry()
	if top != nil {
		s.mu.Unlock()
		return &nestedIndexView{tx: top.tx, name: name}
	}
	defer s.mu.Unlock()
	if idx, ok := s.indexes[name]; ok {
		return idx
	}
	if idx, ok := s.persistentIndexes[name]; ok {
		return idx
	}
	return emptySource{}
}

// BeginTransaction opens a fresh top-level read/write Transaction against
// the Object Store's current state.
func (s *ObjectStore) BeginTransaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.topEntry()
	t := newTransaction(s, parent, nil, false)
	if parent != nil {
		parent.openTx = append(parent.openTx, t)
	} else {
		s.baseOpenTx = append(s.baseOpenTx, t)
	}
	return t
}

// Snapshot opens a read-only Transaction registered with the Object
// Store's SnapshotManager (spec.md §4.7). Unlike BeginTransaction, a
// Snapshot is never added to its anchor's openTx list: it must never
// block that state from flattening further down the stack, since the
// SnapshotManager keeps it correct across any such flatten instead.
func (s *ObjectStore) Snapshot() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.topEntry()
	t := newTransaction(s, parent, nil, true)
	s.snapshotMgr.register(t, parent)
	return t
}

func (s *ObjectStore) removeOpenBaseChild(child *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeOpenBaseChildLocked(child)
}

func (s *ObjectStore) removeOpenBaseChildLocked(child *Transaction) {
	for i, c := range s.baseOpenTx {
		if c == child {
			s.baseOpenTx = append(s.baseOpenTx[:i], s.baseOpenTx[i+1:]...)
			return
		}
	}
}

// canCommitLocked reports whether t may be pushed onto the stack right now
// (spec.md §4.5 step 2a): the parent state t was opened against must still
// be the current top of the stack (no sibling has committed in between),
// and the stack must have room. Caller must hold s.mu.
func (s *ObjectStore) canCommitLocked(t *Transaction) error {
	if s.topEntry() != t.parentInfo {
		return kverrors.Newf(kverrors.KindConflict, "transaction %d conflicts with a sibling commit already applied to its parent state", t.id)
	}
	if len(s.stack) >= MaxStackSize {
		return kverrors.ErrStackOverflow
	}
	return nil
}

// pushCommittedLocked pushes t onto the stack as a new TransactionInfo
// (spec.md §4.5 step 2b), marks it Committed, and removes it from whatever
// openTx list it was waiting in. dep is non-nil only when this push is one
// participant of a CombinedTransaction (spec.md §4.6), which defers
// flattening until every participant is ready. Caller must hold s.mu and
// must have already validated canCommitLocked.
func (s *ObjectStore) pushCommittedLocked(t *Transaction, dep *CombinedTransaction) *TransactionInfo {
	entry := &TransactionInfo{parent: t.parentInfo, tx: t, dependency: dep}
	s.stack = append(s.stack, entry)
	if t.parentInfo != nil {
		t.parentInfo.removeOpenChild(t)
	} else {
		s.removeOpenBaseChildLocked(t)
	}
	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()
	metrics.StackDepth.WithLabelValues(s.name).Set(float64(len(s.stack)))
	return entry
}

// commitTopLevel runs spec.md §4.5's per-store commit protocol for a
// top-level (non-nested, non-combined) transaction.
func (s *ObjectStore) commitTopLevel(t *Transaction) error {
	s.mu.Lock()
	if err := s.canCommitLocked(t); err != nil {
		t.mu.Lock()
		if kverrors.Is(err, kverrors.KindConflict) {
			t.state = Conflicted
		} else {
			t.state = Aborted
		}
		t.mu.Unlock()
		if t.parentInfo != nil {
			t.parentInfo.removeOpenChild(t)
		} else {
			s.removeOpenBaseChildLocked(t)
		}
		s.mu.Unlock()
		outcome := "conflicted"
		if !kverrors.Is(err, kverrors.KindConflict) {
			outcome = "aborted"
		}
		metrics.CommitTotal.WithLabelValues(s.name, outcome).Inc()
		return err
	}
	s.pushCommittedLocked(t, nil)
	s.mu.Unlock()

	metrics.CommitTotal.WithLabelValues(s.name, "committed").Inc()
	return s.tryFlatten()
}

// tryFlatten repeatedly takes the top entry of the stack and flattens it
// into the state below it, for as long as that state has no open children
// and the entry has no CombinedTransaction dependency. The flattenMu is the "simple FIFO
// queue that guarantees only one flatten operation runs at a time" named
// in spec.md §5.
func (s *ObjectStore) tryFlatten() error {
	s.flattenMu.Lock()
	defer s.flattenMu.Unlock()
	for {
		s.mu.Lock()
		if len(s.stack) == 0 {
			s.mu.Unlock()
			return nil
		}
		top := s.stack[len(s.stack)-1]
		var parentOpenCount int
		if top.parent != nil {
			parentOpenCount = len(top.parent.openTx)
		} else {
			parentOpenCount = len(s.baseOpenTx)
		}
		if parentOpenCount != 0 {
			s.mu.Unlock()
			return nil
		}
		if top.dependency != nil {
			// A CombinedTransaction owns the decision of when (and how)
			// this entry flushes; just tell it this participant is ready
			// and stop draining — the combined commit's own finalize step
			// will call back into collapseStackEntry once every
			// participant has reported in (spec.md §4.6).
			dep := top.dependency
			already := top.readyNotified
			top.readyNotified = true
			s.mu.Unlock()
			if !already {
				dep.participantReady(s, top)
			}
			return nil
		}
		s.mu.Unlock()
		if err := s.flattenEntry(top); err != nil {
			return err
		}
	}
}

// protectSnapshots runs the SnapshotManager preprocessing spec.md §4.5 step
// 3 and §4.6 step 1 both require before entry's transaction is folded into
// whatever sits below it (its parent TransactionInfo, or the backend).
func (s *ObjectStore) protectSnapshots(entry *TransactionInfo) {
	if entry.parent == nil {
		s.snapshotMgr.applyToBase(entry.tx)
	} else {
		s.snapshotMgr.applyToEntry(entry.parent, entry.tx)
	}
}

// collapseStackEntry performs the stack bookkeeping that follows a
// successful merge of entry's transaction into its target (backend or
// parent TransactionInfo): pop it off the stack and rewire its still-open
// children to read through the target directly. Shared by flattenEntry
// (single-store commit) and CombinedTransaction's finalize step.
func (s *ObjectStore) collapseStackEntry(entry *TransactionInfo) {
	s.mu.Lock()
	if len(s.stack) > 0 && s.stack[len(s.stack)-1] == entry {
		s.stack = s.stack[:len(s.stack)-1]
	}
	rewireTo := entry.parent
	for _, child := range entry.openTx {
		child.mu.Lock()
		child.parentInfo = rewireTo
		child.mu.Unlock()
	}
	if rewireTo != nil {
		rewireTo.openTx = append(rewireTo.openTx, entry.openTx...)
	} else {
		s.baseOpenTx = append(s.baseOpenTx, entry.openTx...)
	}
	metrics.StackDepth.WithLabelValues(s.name).Set(float64(len(s.stack)))
	s.mu.Unlock()
}

func (s *ObjectStore) flattenEntry(entry *TransactionInfo) error {
	t := entry.tx

	s.protectSnapshots(entry)

	var applyErr error
	if entry.parent == nil {
		applyErr = s.applyToBackend(t)
	} else {
		applyErr = applyToParentTx(entry.parent.tx, t)
	}
	if applyErr != nil {
		t.mu.Lock()
		t.state = Aborted
		t.mu.Unlock()
		metrics.CommitTotal.WithLabelValues(s.name, "aborted").Inc()
		return applyErr
	}

	s.collapseStackEntry(entry)
	return nil
}

// applyToParentTx merges src (the flattening transaction) into dst (the
// TransactionInfo below it on the stack), per spec.md §4.5 step 2c.
func applyToParentTx(dst, src *Transaction) error {
	dst.mu.Lock()
	defer dst.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()
	return mergeTransactionInto(dst, src)
}

// backendFlush is the two-phase result of prepareBackendFlush: muts is the
// combined primary-table plus secondary-index batch a single native
// ApplyBatch call must submit atomically, and apply performs the matching
// in-memory mutation once that batch has succeeded.
type backendFlush struct {
	muts  []mdbx.Mutation
	apply func() error
}

// prepareBackendFlush computes the backend batch and in-memory mutation
// t's puts/removes require without mutating anything yet, so a caller can
// fold several transactions' batches into one native ApplyBatch call before
// any of them touch memory (spec.md §4.6 combined commit; also used by the
// single-store path below). Caller must hold t.mu.
func (s *ObjectStore) prepareBackendFlush(t *Transaction) (*backendFlush, error) {
	touched := make(map[string]struct{}, len(t.modified)+len(t.removed))
	for k := range t.removed {
		touched[k] = struct{}{}
	}
	for k := range t.modified {
		touched[k] = struct{}{}
	}
	oldValues := make(map[string]Value, len(touched))
	for k := range touched {
		v, _, err := s.primary.get([]byte(k))
		if err != nil {
			return nil, err
		}
		oldValues[k] = v
	}

	primaryMuts, err := s.primary.mutations(t.modified, t.removed)
	if err != nil {
		return nil, err
	}

	muts := append([]mdbx.Mutation(nil), primaryMuts...)
	for k := range t.removed {
		muts = append(muts, s.persistentIndexMutations([]byte(k), oldValues[k], nil)...)
	}
	for k, v := range t.modified {
		muts = append(muts, s.persistentIndexMutations([]byte(k), oldValues[k], v)...)
	}

	modified, removed := t.modified, t.removed
	apply := func() error {
		if err := s.primary.apply(modified, removed); err != nil {
			return err
		}
		for k := range removed {
			old := oldValues[k]
			for _, idx := range s.indexes {
				idx.Remove([]byte(k), old)
			}
		}
		for k, v := range modified {
			old := oldValues[k]
			for _, idx := range s.indexes {
				if err := idx.Put([]byte(k), v, old); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return &backendFlush{muts: muts, apply: apply}, nil
}

// applyToBackend flattens t all the way into the base primary store and
// every index (spec.md §4.5 step 3). The primary table's writes and every
// secondary index's persistent entries are submitted as one native batch,
// so the flatten is atomic at the backend even though it spans two logical
// stores (the primary table and however many persistent indices exist).
func (s *ObjectStore) applyToBackend(t *Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.truncated {
		if err := s.primary.applyTruncate(); err != nil {
			return err
		}
		for _, idx := range s.indexes {
			idx.Truncate()
		}
	}

	flush, err := s.prepareBackendFlush(t)
	if err != nil {
		return err
	}
	if s.backend != nil && len(flush.muts) > 0 {
		if err := s.backend.ApplyBatch(flush.muts); err != nil {
			return err
		}
	}
	return flush.apply()
}

// persistentIndexMutations computes the add/remove batch entries one
// primary key's value transition produces across every persistent index
// (spec.md §4.3: "Transactions are encoded into a batch of puts and
// removes at commit time").
func (s *ObjectStore) persistentIndexMutations(primaryKey []byte, oldValue, newValue Value) []mdbx.Mutation {
	var muts []mdbx.Mutation
	for name := range s.persistentIndexes {
		muts = append(muts, s.mutationsForIndex(name, primaryKey, oldValue, newValue)...)
	}
	return muts
}

// mutationsForIndex is persistentIndexMutations narrowed to one named index,
// so BackfillIndex can populate a single newly created index without
// recomputing (and re-submitting no-overwrite puts for) every other
// persistent index's already-settled entries.
func (s *ObjectStore) mutationsForIndex(name string, primaryKey []byte, oldValue, newValue Value) []mdbx.Mutation {
	extractor := s.indexExtractors[name]
	var oldKeys, newKeys [][]byte
	if oldValue != nil {
		oldKeys, _, _ = extractor.ExtractKeys(oldValue)
	}
	if newValue != nil {
		newKeys, _, _ = extractor.ExtractKeys(newValue)
	}
	removed, added := diffSecondaryKeys(oldKeys, newKeys)
	table := kv.IndexTable(s.name, name)
	unique := s.indexConfigs[name].Unique
	var muts []mdbx.Mutation
	for _, sk := range removed {
		// Value carries the exact duplicate to drop, so removing one
		// (secondaryKey, primaryKey) binding from a non-unique DupSort
		// index never disturbs that key's other members.
		muts = append(muts, mdbx.Mutation{Table: table, Key: sk, Value: primaryKey, Delete: true})
	}
	for _, sk := range added {
		muts = append(muts, mdbx.Mutation{
			Table:       table,
			Key:         sk,
			Value:       primaryKey,
			NoOverwrite: unique,
		})
	}
	return muts
}

// BackfillIndex populates a just-created index by scanning every key
// currently in the base primary store (spec.md §6 version-upgrade protocol
// step 3: "for each index whose upgradeCondition passes on a first-time
// creation, scan the store and populate the native index table"). Callers
// run this once, immediately after CreateIndex, only for an index that is
// actually new (re-running it against an index with existing entries would
// hit ConstraintViolation on a unique index's own settled keys).
func (s *ObjectStore) BackfillIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, hasMem := s.indexes[name]
	_, hasPersist := s.persistentIndexes[name]
	if !hasMem && !hasPersist {
		return kverrors.Newf(kverrors.KindUnsupportedOperation, "no such index %q", name)
	}

	var muts []mdbx.Mutation
	var backfillErr error
	s.primaryEntries(make(map[string]struct{}), func(k string, v Value) bool {
		if hasMem {
			if err := idx.Put([]byte(k), v, nil); err != nil {
				backfillErr = err
				return false
			}
		}
		if hasPersist {
			muts = append(muts, s.mutationsForIndex(name, []byte(k), nil, v)...)
		}
		return true
	})
	if backfillErr != nil {
		return backfillErr
	}
	if hasPersist && s.backend != nil && len(muts) > 0 {
		return s.backend.ApplyBatch(muts)
	}
	return nil
}

func diffSecondaryKeys(oldKeys, newKeys [][]byte) (removed, added [][]byte) {
	oldSet := make(map[string]struct{}, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[string(k)] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[string(k)] = struct{}{}
	}
	for _, k := range oldKeys {
		if _, ok := newSet[string(k)]; !ok {
			removed = append(removed, k)
		}
	}
	for _, k := range newKeys {
		if _, ok := oldSet[string(k)]; !ok {
			added = append(added, k)
		}
	}
	return removed, added
}


// Keys executes q against the Object Store's current (post-flatten) state.
func (s *ObjectStore) Keys(indexName string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	s.mu.Lock()
	_, ok := s.indexConfigs[indexName]
	s.mu.Unlock()
	if !ok {
		return nil, kverrors.Newf(kverrors.KindUnsupportedOperation, "no such index %q", indexName)
	}
	return s.baseIndexSource(indexName).Keys(indexName, r, limit)
}

// effectiveOverlay merges every TransactionInfo's overlay from the top of
// the stack down to the base, newest entry winning per key, so MinKey/
// MaxKey/Count can see the same "current state" Get already does through
// an implicit Snapshot (spec.md §2: "forwarded to its current state — the
// top of the transaction stack if any, otherwise the backend").
func (s *ObjectStore) effectiveOverlay() (modified map[string]Value, removed map[string]struct{}, truncated bool) {
	modified = make(map[string]Value)
	removed = make(map[string]struct{})
	decided := make(map[string]struct{})
	s.mu.Lock()
	entry := s.topEntry()
	s.mu.Unlock()
	for e := entry; e != nil; e = e.parent {
		e.tx.mu.Lock()
		for k, v := range e.tx.modified {
			if _, ok := decided[k]; ok {
				continue
			}
			decided[k] = struct{}{}
			modified[k] = v
		}
		for k := range e.tx.removed {
			if _, ok := decided[k]; ok {
				continue
			}
			decided[k] = struct{}{}
			removed[k] = struct{}{}
		}
		wasTruncated := e.tx.truncated
		e.tx.mu.Unlock()
		if wasTruncated {
			truncated = true
			break
		}
	}
	return modified, removed, truncated
}

// effectiveEntries returns the ordered (key, value) pairs of the store's
// current state: the base primary store with every open stack entry's
// overlay merged on top.
func (s *ObjectStore) effectiveEntries() ([]Key, map[string]Value, error) {
	modified, removed, truncated := s.effectiveOverlay()
	seen := make(map[string]struct{}, len(modified))
	values := make(map[string]Value, len(modified))
	var keys []Key
	if !truncated {
		pks, err := s.primary.scan(nil, false, -1)
		if err != nil {
			return nil, nil, err
		}
		for _, k := range pks {
			sk := string(k)
			if _, rm := removed[sk]; rm {
				continue
			}
			seen[sk] = struct{}{}
			if v, ok := modified[sk]; ok {
				keys = append(keys, k)
				values[sk] = v
				continue
			}
			v, ok, err := s.primary.get(k)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			keys = append(keys, k)
			values[sk] = v
		}
	}
	for sk, v := range modified {
		if _, ok := seen[sk]; ok {
			continue
		}
		keys = append(keys, []byte(sk))
		values[sk] = v
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, values, nil
}

// MinKey returns the smallest key in the store's current state.
func (s *ObjectStore) MinKey() (Key, Value, bool, error) {
	s.mu.Lock()
	top := s.topEntry()
	s.mu.Unlock()
	if top == nil {
		return s.primary.min()
	}
	keys, values, err := s.effectiveEntries()
	if err != nil || len(keys) == 0 {
		return nil, nil, false, err
	}
	return keys[0], values[string(keys[0])], true, nil
}

// MaxKey returns the largest key in the store's current state.
func (s *ObjectStore) MaxKey() (Key, Value, bool, error) {
	s.mu.Lock()
	top := s.topEntry()
	s.mu.Unlock()
	if top == nil {
		return s.primary.max()
	}
	keys, values, err := s.effectiveEntries()
	if err != nil || len(keys) == 0 {
		return nil, nil, false, err
	}
	last := keys[len(keys)-1]
	return last, values[string(last)], true, nil
}

// Count returns the number of keys in the store's current state.
func (s *ObjectStore) Count() int {
	s.mu.Lock()
	top := s.topEntry()
	s.mu.Unlock()
	if top == nil {
		return s.primary.count()
	}
	keys, _, err := s.effectiveEntries()
	if err != nil {
		return s.primary.count()
	}
	return len(keys)
}

// primaryEntries enumerates every (key, value) in the base primary store
// that is not already in seen, marking each as seen as it goes. Used by
// BackfillIndex, by Transaction.effectiveEntries, and by
// SnapshotManager.applyToBase's truncate branch (spec.md §4.7).
func (s *ObjectStore) primaryEntries(seen map[string]struct{}, yield func(string, Value) bool) {
	keys, err := s.primary.scan(nil, false, -1)
	if err != nil {
		return
	}
	for _, k := range keys {
		sk := string(k)
		if _, dup := seen[sk]; dup {
			continue
		}
		seen[sk] = struct{}{}
		v, ok, err := s.primary.get(k)
		if err != nil || !ok {
			continue
		}
		if !yield(sk, v) {
			return
		}
	}
}
