package txstack

import "sync"

// SnapshotManager owns every live Snapshot anchored against one Object
// Store, keyed by the TransactionInfo they read through (nil for a
// Snapshot anchored directly on the backend/base state). A Snapshot is
// never added to a TransactionInfo's openTx list — unlike an ordinary
// read/write Transaction, it must never block that state from flattening
// further down the stack. Instead, whenever something is about to merge
// into the state a Snapshot is anchored on, the SnapshotManager copies the
// about-to-be-overwritten keys into the Snapshot's own overlay first
// (spec.md §4.7), so the Snapshot keeps answering from its own frozen
// values even after its anchor's content moves on.
type SnapshotManager struct {
	mu      sync.Mutex
	byEntry map[*TransactionInfo][]*Transaction
	base    []*Transaction
}

func newSnapshotManager() *SnapshotManager {
	return &SnapshotManager{byEntry: make(map[*TransactionInfo][]*Transaction)}
}

// register records a freshly-created Snapshot against the state (parent)
// it was opened from.
func (mgr *SnapshotManager) register(t *Transaction, parent *TransactionInfo) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if parent == nil {
		mgr.base = append(mgr.base, t)
		return
	}
	mgr.byEntry[parent] = append(mgr.byEntry[parent], t)
}

// unregister drops t once it is aborted/closed, so a long-lived Object
// Store doesn't accumulate dead Snapshot entries forever.
func (mgr *SnapshotManager) unregister(t *Transaction, parent *TransactionInfo) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if parent == nil {
		mgr.base = removeTransaction(mgr.base, t)
		return
	}
	list := removeTransaction(mgr.byEntry[parent], t)
	if len(list) == 0 {
		delete(mgr.byEntry, parent)
	} else {
		mgr.byEntry[parent] = list
	}
}

func removeTransaction(list []*Transaction, t *Transaction) []*Transaction {
	for i, v := range list {
		if v == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// applyToEntry protects every Snapshot anchored on parent against the
// merge about to fold incoming's overlay into parent.tx. Must run before
// that merge mutates parent.tx.
func (mgr *SnapshotManager) applyToEntry(parent *TransactionInfo, incoming *Transaction) {
	mgr.mu.Lock()
	snaps := append([]*Transaction(nil), mgr.byEntry[parent]...)
	mgr.mu.Unlock()
	if len(snaps) == 0 {
		return
	}
	priorLookup := func(k Key) (Value, bool, error) { return parent.tx.lookup(k) }
	priorScan := func(seen map[string]struct{}, yield func(string, Value) bool) {
		parent.tx.effectiveEntries(seen, yield)
	}
	applySnapshotDeltas(snaps, incoming, priorLookup, priorScan)
}

// applyToBase protects every Snapshot anchored directly on the backend
// against incoming's flatten into the primary store and its indices. Must
// run before that flatten mutates the primary store.
func (mgr *SnapshotManager) applyToBase(incoming *Transaction) {
	mgr.mu.Lock()
	snaps := append([]*Transaction(nil), mgr.base...)
	mgr.mu.Unlock()
	if len(snaps) == 0 {
		return
	}
	store := incoming.store
	priorLookup := func(k Key) (Value, bool, error) { return store.primary.get(k) }
	priorScan := func(seen map[string]struct{}, yield func(string, Value) bool) {
		store.primaryEntries(seen, yield)
	}
	applySnapshotDeltas(snaps, incoming, priorLookup, priorScan)
}

// applySnapshotDeltas implements spec.md §4.7's `_apply(T)`: for every
// snapshot anchored on the state T is about to flatten into, capture a
// reverse delta for each key T touches (and, on truncate, for every
// not-yet-captured key visible at all), so subsequent reads through the
// snapshot keep returning the value as of its creation.
func applySnapshotDeltas(snaps []*Transaction, t *Transaction, priorLookup func(Key) (Value, bool, error), priorScan func(seen map[string]struct{}, yield func(string, Value) bool)) {
	t.mu.Lock()
	truncated := t.truncated
	removedKeys := make([]string, 0, len(t.removed))
	for k := range t.removed {
		removedKeys = append(removedKeys, k)
	}
	modified := make(map[string]Value, len(t.modified))
	for k, v := range t.modified {
		modified[k] = v
	}
	t.mu.Unlock()

	for _, snap := range snaps {
		snap.mu.Lock()
		if truncated {
			seen := make(map[string]struct{}, len(snap.modified)+len(snap.removed))
			for k := range snap.modified {
				seen[k] = struct{}{}
			}
			for k := range snap.removed {
				seen[k] = struct{}{}
			}
			priorScan(seen, func(k string, v Value) bool {
				snap.modified[k] = v
				return true
			})
		}
		for _, k := range removedKeys {
			recordPriorIfAbsent(snap, k, priorLookup)
		}
		for k := range modified {
			recordPriorIfAbsent(snap, k, priorLookup)
		}
		snap.mu.Unlock()
	}
}

// recordPriorIfAbsent captures snap's pre-image of k the first time any
// flatten touches it; later flattens touching the same key are no-ops here
// since the snapshot already pinned its value.
func recordPriorIfAbsent(snap *Transaction, k string, priorLookup func(Key) (Value, bool, error)) {
	if _, ok := snap.modified[k]; ok {
		return
	}
	if _, ok := snap.removed[k]; ok {
		return
	}
	v, ok, _ := priorLookup([]byte(k))
	if ok {
		snap.modified[k] = v
	} else {
		snap.removed[k] = struct{}{}
	}
}

// effectiveEntries enumerates every (key, value) currently visible through
// t that is not already present in seen, marking each as seen (whether
// yielded or masked by a local removal) as it goes. Used only by the
// truncate branch of applySnapshotDeltas, which needs every key visible
// just before a truncate wipes them out from the snapshot's point of view.
func (t *Transaction) effectiveEntries(seen map[string]struct{}, yield func(string, Value) bool) {
	for k, v := range t.modified {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		yield(k, v)
	}
	for k := range t.removed {
		seen[k] = struct{}{}
	}
	if t.truncated {
		return
	}
	switch {
	case t.nestedParent != nil:
		t.nestedParent.effectiveEntries(seen, yield)
	case t.parentInfo != nil:
		t.parentInfo.tx.effectiveEntries(seen, yield)
	default:
		t.store.primaryEntries(seen, yield)
	}
}
