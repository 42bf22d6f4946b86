// Package memindex is the In-Memory Index (spec.md §4.2): a secondary-key
// B+ tree wrapping the object store's primary keys, with key-path
// extraction, uniqueness enforcement, and multi-entry expansion.
package memindex

import (
	"bytes"

	"github.com/erigontech/stackdb/kv/bptree"
	"github.com/erigontech/stackdb/kv/enc"
	"github.com/erigontech/stackdb/kv/keyrange"
	"github.com/erigontech/stackdb/kverrors"
	"github.com/tidwall/btree"
)

// Value is a structured document as committed through the object store; a
// nested map for dot-path/field-sequence extraction, or any codec-encodable
// scalar at the leaves.
type Value = map[string]any

// Config describes one secondary index.
type Config struct {
	Name       string
	KeyPath    string
	Unique     bool
	MultiEntry bool
	Kind       enc.Kind
}

// Index is an in-memory secondary index over one object store.
//
// The B+ tree orders secondary keys and is the source of truth for range
// scans; for non-unique keys the full sorted set of primary keys lives in
// a side map rather than serialized into the tree's record slot, so a
// membership add/remove never needs to re-encode the whole set. The tree
// record itself holds just the lexicographically smallest member, enough
// to answer "is this secondary key present" without consulting the map.
type Index struct {
	cfg   Config
	path  []string
	codec enc.Codec
	tree  *bptree.Tree
	sets  map[string]*btree.Set[string]
}

func New(cfg Config) *Index {
	return &Index{
		cfg:   cfg,
		path:  enc.KeyPath(cfg.KeyPath),
		codec: enc.NewCodec(cfg.Kind),
		tree:  bptree.New(bptree.DefaultOrder),
		sets:  make(map[string]*btree.Set[string]),
	}
}

func (ix *Index) Name() string { return ix.cfg.Name }

// ExtractKeys exposes key-path extraction for callers (kv/txstack's
// uniqueness pre-check) that need the encoded secondary keys a document
// would produce without mutating the index. The bool return is whether the
// key path resolved to a value at all (a missing/absent path is not an
// error, just "this document has no secondary key here"); an encoding
// failure is a real error.
func (ix *Index) ExtractKeys(v Value) ([][]byte, bool, error) { return ix.extractKeys(v) }

func extract(path []string, v Value) (any, bool) {
	var cur any = v
	for _, p := range path {
		m, ok := cur.(Value)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// extractKeys returns the encoded secondary keys a document maps to for
// this index. A multi-entry index expands a slice-valued attribute into
// one key per element; any other value (multi-entry or not) yields exactly
// one key (spec.md §4.2 step 3, read literally: only a sequence value
// triggers expansion).
func (ix *Index) extractKeys(v Value) ([][]byte, bool, error) {
	raw, ok := extract(ix.path, v)
	if !ok {
		return nil, false, nil
	}
	if ix.cfg.MultiEntry {
		if arr, ok := raw.([]any); ok {
			out := make([][]byte, 0, len(arr))
			for _, el := range arr {
				k, err := ix.codec.Encode(el)
				if err != nil {
					return nil, false, kverrors.Wrapf(kverrors.KindConstraintViolation, err, "encode multi-entry key for index %q", ix.cfg.Name)
				}
				out = append(out, k)
			}
			return out, true, nil
		}
	}
	k, err := ix.codec.Encode(raw)
	if err != nil {
		return nil, false, kverrors.Wrapf(kverrors.KindConstraintViolation, err, "encode key for index %q", ix.cfg.Name)
	}
	return [][]byte{k}, true, nil
}

// Put reconciles the secondary keys primaryKey maps to, moving from
// oldValue's key set to newValue's (spec.md §4.2 steps 1-4). oldValue is
// nil for a fresh insert.
func (ix *Index) Put(primaryKey []byte, newValue, oldValue Value) error {
	var oldKeys, newKeys [][]byte
	var err error
	if oldValue != nil {
		oldKeys, _, err = ix.extractKeys(oldValue)
		if err != nil {
			return err
		}
	}
	newKeys, _, err = ix.extractKeys(newValue)
	if err != nil {
		return err
	}

	removed, added := diffKeySets(oldKeys, newKeys)
	for _, sk := range removed {
		ix.removeMember(sk, primaryKey)
	}
	for _, sk := range added {
		if err := ix.addMember(sk, primaryKey); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops every secondary key oldValue mapped to for primaryKey.
// oldValue already passed through Put once, so re-extracting its keys here
// cannot fail; any error is ignored rather than propagated, since Remove has
// no failure mode of its own to report it through.
func (ix *Index) Remove(primaryKey []byte, oldValue Value) {
	keys, _, _ := ix.extractKeys(oldValue)
	for _, sk := range keys {
		ix.removeMember(sk, primaryKey)
	}
}

func diffKeySets(oldKeys, newKeys [][]byte) (removed, added [][]byte) {
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

func (ix *Index) addMember(secondaryKey, primaryKey []byte) error {
	sk := string(secondaryKey)
	set, exists := ix.sets[sk]
	if !exists {
		set = btree.NewSet[string]()
		ix.sets[sk] = set
		ix.tree.Insert(secondaryKey, primaryKey)
		set.Insert(string(primaryKey))
		return nil
	}
	if ix.cfg.Unique {
		if set.Len() == 1 {
			var only string
			set.Scan(func(v string) bool { only = v; return false })
			if only != string(primaryKey) {
				return kverrors.New(kverrors.KindConstraintViolation, "secondary key already bound to a different primary key")
			}
			return nil
		}
	}
	set.Insert(string(primaryKey))
	if rec, ok := ix.tree.Get(secondaryKey); !ok || bytes.Compare(primaryKey, rec) < 0 {
		ix.tree.Remove(secondaryKey)
		ix.tree.Insert(secondaryKey, primaryKey)
	}
	return nil
}

func (ix *Index) removeMember(secondaryKey, primaryKey []byte) {
	sk := string(secondaryKey)
	set, exists := ix.sets[sk]
	if !exists {
		return
	}
	set.Delete(string(primaryKey))
	if set.Len() == 0 {
		delete(ix.sets, sk)
		ix.tree.Remove(secondaryKey)
		return
	}
	if rec, ok := ix.tree.Get(secondaryKey); ok && bytes.Equal(rec, primaryKey) {
		var smallest string
		set.Scan(func(v string) bool { smallest = v; return false })
		ix.tree.Remove(secondaryKey)
		ix.tree.Insert(secondaryKey, []byte(smallest))
	}
}

func (ix *Index) membersAt(secondaryKey []byte) [][]byte {
	set, ok := ix.sets[string(secondaryKey)]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, set.Len())
	set.Scan(func(v string) bool {
		out = append(out, []byte(v))
		return true
	})
	return out
}

// Keys returns every primary key whose secondary key lies in r, in
// ascending secondary-key then ascending primary-key order, bounded by
// limit (limit < 0 = unbounded). Implements keyrange.Source.
func (ix *Index) Keys(_ string, r keyrange.KeyRange, limit int) ([][]byte, error) {
	var out [][]byte
	lo, hasLo, loOpen := r.LowerKey()
	if hasLo {
		ix.tree.GoToLowerBound(lo, loOpen)
	} else {
		ix.tree.GoTop()
	}
	for !ix.tree.EOF() {
		k := ix.tree.CurrentKey()
		if !r.Includes(k) {
			break
		}
		for _, pk := range ix.membersAt(k) {
			if limit >= 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, pk)
		}
		if !ix.tree.Next() {
			break
		}
	}
	return out, nil
}

// MinKeys/MaxKeys return every primary key at the extreme secondary key,
// tie-breaking by returning the whole set at that extreme (spec.md §4.2).
func (ix *Index) MinKeys(_ string) ([][]byte, error) {
	if !ix.tree.GoTop() {
		return nil, nil
	}
	return ix.membersAt(ix.tree.CurrentKey()), nil
}

func (ix *Index) MaxKeys(_ string) ([][]byte, error) {
	if !ix.tree.GoBottom() {
		return nil, nil
	}
	return ix.membersAt(ix.tree.CurrentKey()), nil
}

// Count returns the number of (secondaryKey, primaryKey) pairs satisfying
// r, i.e. the size of the Keys(r, -1) result.
func (ix *Index) Count(r keyrange.KeyRange) (int, error) {
	ks, err := ix.Keys("", r, -1)
	if err != nil {
		return 0, err
	}
	return len(ks), nil
}

// StreamCallback is invoked once per (secondaryKey, primaryKey) pair;
// returning false stops iteration.
type StreamCallback func(secondaryKey, primaryKey []byte) bool

// KeyStream advances the cursor within r, invoking cb once per primary key
// associated with each secondary key it visits, in ascending order
// (reversed when !ascending), matching spec.md §4.2.
func (ix *Index) KeyStream(r keyrange.KeyRange, ascending bool, cb StreamCallback) {
	if ascending {
		ix.streamAscending(r, cb)
		return
	}
	ix.streamDescending(r, cb)
}

func (ix *Index) streamAscending(r keyrange.KeyRange, cb StreamCallback) {
	lo, hasLo, loOpen := r.LowerKey()
	if hasLo {
		ix.tree.GoToLowerBound(lo, loOpen)
	} else {
		ix.tree.GoTop()
	}
	for !ix.tree.EOF() {
		k := ix.tree.CurrentKey()
		if !r.Includes(k) {
			return
		}
		for _, pk := range ix.membersAt(k) {
			if !cb(k, pk) {
				return
			}
		}
		if !ix.tree.Next() {
			return
		}
	}
}

func (ix *Index) streamDescending(r keyrange.KeyRange, cb StreamCallback) {
	hi, hasHi, hiOpen := r.UpperKey()
	if hasHi {
		ix.tree.GoToUpperBound(hi, hiOpen)
	} else {
		ix.tree.GoBottom()
	}
	for !ix.tree.EOF() {
		k := ix.tree.CurrentKey()
		if !r.Includes(k) {
			return
		}
		members := ix.membersAt(k)
		for i := len(members) - 1; i >= 0; i-- {
			if !cb(k, members[i]) {
				return
			}
		}
		if !ix.tree.Prev() {
			return
		}
	}
}

// Truncate empties the index, as required when its owning object store (or
// an enclosing transaction) is truncated.
func (ix *Index) Truncate() {
	ix.tree = bptree.New(bptree.DefaultOrder)
	ix.sets = make(map[string]*btree.Set[string])
}
