package txstack

import (
	"sync"

	"github.com/erigontech/stackdb/internal/log"
	"github.com/erigontech/stackdb/internal/metrics"
	"github.com/erigontech/stackdb/kv/mdbx"
	"github.com/erigontech/stackdb/kverrors"
)

// CombinedTransaction coordinates an atomic commit across several
// top-level transactions belonging to distinct Object Stores of the same
// database (spec.md §4.6). Each participant first commits into its own
// store's state stack exactly as an ordinary top-level commit would (its
// conflict check and push), but flattening into the backend is deferred —
// via TransactionInfo.dependency — until every participant has become
// flushable, at which point all of their writes are submitted as one
// native batch.
type CombinedTransaction struct {
	mu sync.Mutex

	participants []*combinedParticipant
	ready        int
	finalized    bool
	finalErr     error
}

type combinedParticipant struct {
	store *ObjectStore
	tx    *Transaction
	entry *TransactionInfo
}

// Commit validates and runs a combined commit across txs, which must all
// be OPEN, non-nested, and belong to distinct Object Stores of the same
// database. It returns true iff the commit succeeded atomically across
// every participant; false means every participant CONFLICTED or ABORTED
// (spec.md §6 "commitCombined... true on atomic success; false on any
// conflict").
//
// A single-participant call degenerates to that store's own top-level
// commit (spec.md §8 boundary: "combined transaction with a single
// participant must degenerate to a single-store commit").
func Commit(txs ...*Transaction) (bool, error) {
	if len(txs) == 0 {
		return true, nil
	}
	if len(txs) == 1 {
		err := txs[0].Commit()
		if err == nil {
			return true, nil
		}
		if kverrors.Is(err, kverrors.KindConflict) {
			return false, nil
		}
		return false, err
	}

	if err := validateParticipants(txs); err != nil {
		return false, err
	}

	ct := &CombinedTransaction{}
	for _, t := range txs {
		ct.participants = append(ct.participants, &combinedParticipant{store: t.store, tx: t})
	}

	// Phase A: verify every participant can commit before mutating any of
	// them, so a conflict on participant k never leaves 0..k-1 pushed with
	// nothing to undo them (spec.md §4.6 "validate all participants").
	for _, p := range ct.participants {
		p.store.mu.Lock()
		err := p.store.canCommitLocked(p.tx)
		p.store.mu.Unlock()
		if err != nil {
			abortAll(ct.participants)
			metrics.CombinedCommitTotal.WithLabelValues("conflicted").Inc()
			if kverrors.Is(err, kverrors.KindConflict) {
				return false, nil
			}
			return false, err
		}
	}

	// Phase B: push every participant onto its store's stack with
	// flattening deferred to this CombinedTransaction.
	for _, p := range ct.participants {
		p.store.mu.Lock()
		p.entry = p.store.pushCommittedLocked(p.tx, ct)
		p.store.mu.Unlock()
	}

	// Ask each store to drain its stack; any participant whose parent is
	// already quiescent reports ready immediately via participantReady.
	for _, p := range ct.participants {
		if err := p.store.tryFlatten(); err != nil {
			ct.fail(err)
			break
		}
	}

	ct.mu.Lock()
	err := ct.finalErr
	finalized := ct.finalized
	ct.mu.Unlock()
	if err != nil {
		return false, err
	}
	if !finalized {
		// Some participant's parent state still has other open children;
		// the combined commit completes asynchronously as those children
		// close and drive tryFlatten again. Callers that need a single
		// participant never hit this path (spec.md §8 boundary case).
		return true, nil
	}
	return true, nil
}

func validateParticipants(txs []*Transaction) error {
	seenStores := make(map[*ObjectStore]struct{}, len(txs))
	var db database
	for _, t := range txs {
		t.mu.Lock()
		state := t.state
		nested := t.nestedParent != nil
		readOnly := t.readOnly
		t.mu.Unlock()
		if state != Open || nested {
			return kverrors.New(kverrors.KindUnsupportedOperation, "combined commit requires every participant to be OPEN and non-nested")
		}
		if readOnly {
			return kverrors.New(kverrors.KindUnsupportedOperation, "a snapshot cannot participate in a combined commit")
		}
		if _, dup := seenStores[t.store]; dup {
			return kverrors.New(kverrors.KindUnsupportedOperation, "combined commit requires distinct object stores per participant")
		}
		seenStores[t.store] = struct{}{}
		if db == nil {
			db = t.store.db
		} else if db != t.store.db {
			return kverrors.New(kverrors.KindUnsupportedOperation, "combined commit participants must belong to the same database")
		}
	}
	return nil
}

func abortAll(participants []*combinedParticipant) {
	for _, p := range participants {
		p.tx.mu.Lock()
		if p.tx.isLive() {
			p.tx.state = Conflicted
		}
		p.tx.mu.Unlock()
	}
}

// participantReady is called by ObjectStore.tryFlatten once entry's parent
// has zero other open children, i.e. entry is flushable except for the
// CombinedTransaction dependency gate. Once every participant has reported
// in, runAtomicFlush performs the cross-store atomic commit.
func (ct *CombinedTransaction) participantReady(store *ObjectStore, entry *TransactionInfo) {
	ct.mu.Lock()
	if ct.finalized {
		ct.mu.Unlock()
		return
	}
	ct.ready++
	allReady := ct.ready == len(ct.participants)
	ct.mu.Unlock()
	if allReady {
		ct.runAtomicFlush()
	}
}

func (ct *CombinedTransaction) fail(err error) {
	ct.mu.Lock()
	if !ct.finalized {
		ct.finalErr = err
		ct.finalized = true
	}
	ct.mu.Unlock()
}

// runAtomicFlush implements spec.md §4.6 steps 1-4: snapshot preprocessing,
// encoding every participant's write-set into one backend batch, a single
// atomic submission, then per-store cleanup so every stack collapses.
//
// Only participants flushing straight to the backend (entry.parent == nil)
// contribute to the shared native batch; a participant whose store still
// had other stack entries below it when this combined commit began merges
// in-memory into its TransactionInfo parent instead (that merge can only
// fail on a re-detected unique-index violation, which is rare since Put
// already enforced uniqueness against the effective state at write time).
func (ct *CombinedTransaction) runAtomicFlush() {
	ct.mu.Lock()
	if ct.finalized {
		ct.mu.Unlock()
		return
	}
	participants := append([]*combinedParticipant(nil), ct.participants...)
	ct.mu.Unlock()

	for _, p := range participants {
		p.store.protectSnapshots(p.entry)
	}

	// baseWork covers every participant flattening straight to its base
	// state (entry.parent == nil), whether that base is a native backend
	// or a purely in-memory primary store; nativeWork is the subset that
	// also has a native table and so must go through one shared
	// ApplyBatch for cross-store atomicity at the engine level.
	type baseWork struct {
		participant *combinedParticipant
		flush       *backendFlush
	}
	var baseWorks []baseWork
	var nativeWorks []baseWork
	var backend mdbx.Store
	for _, p := range participants {
		if p.entry.parent != nil {
			continue
		}
		p.tx.mu.Lock()
		truncated := p.tx.truncated
		p.tx.mu.Unlock()
		if truncated {
			ct.finalizeFailure(participants, kverrors.New(kverrors.KindUnsupportedOperation, "a truncated transaction cannot participate in a combined commit"))
			return
		}
		p.tx.mu.Lock()
		flush, err := p.store.prepareBackendFlush(p.tx)
		p.tx.mu.Unlock()
		if err != nil {
			ct.finalizeFailure(participants, err)
			return
		}
		w := baseWork{participant: p, flush: flush}
		baseWorks = append(baseWorks, w)
		if p.store.backend != nil {
			backend = p.store.backend
			nativeWorks = append(nativeWorks, w)
		}
	}

	if backend != nil && len(nativeWorks) > 0 {
		var combined []mdbx.Mutation
		for _, w := range nativeWorks {
			combined = append(combined, w.flush.muts...)
		}
		if len(combined) > 0 {
			if err := backend.ApplyBatch(combined); err != nil {
				ct.finalizeFailure(participants, err)
				return
			}
		}
	}
	for _, w := range baseWorks {
		if err := w.flush.apply(); err != nil {
			ct.finalizeFailure(participants, err)
			return
		}
	}

	for _, p := range participants {
		if p.entry.parent != nil {
			if err := applyToParentTx(p.entry.parent.tx, p.entry.tx); err != nil {
				ct.finalizeFailure(participants, err)
				return
			}
		}
	}

	for _, p := range participants {
		p.store.collapseStackEntry(p.entry)
		metrics.CommitTotal.WithLabelValues(p.store.name, "committed").Inc()
	}

	ct.mu.Lock()
	ct.finalized = true
	ct.mu.Unlock()
	metrics.CombinedCommitTotal.WithLabelValues("committed").Inc()
	log.Debug("combined transaction committed", "participants", len(participants))
}

func (ct *CombinedTransaction) finalizeFailure(participants []*combinedParticipant, err error) {
	for _, p := range participants {
		p.tx.mu.Lock()
		p.tx.state = Aborted
		p.tx.mu.Unlock()
		metrics.CommitTotal.WithLabelValues(p.store.name, "aborted").Inc()
	}
	ct.fail(err)
	metrics.CombinedCommitTotal.WithLabelValues("aborted").Inc()
	log.Warn("combined transaction aborted", "error", err)
}
