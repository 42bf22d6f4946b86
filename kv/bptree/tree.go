// Package bptree is an in-memory B+ tree (spec.md §4.1): an ordered
// key/record store with a doubly-linked leaf chain for fast range scans and
// a single cursor carried on the tree itself.
//
// Keys are compared with bytes.Compare; callers that need typed ordering
// (string/number/boolean/binary) pre-encode with kv/enc so the tree never
// needs to know about value types.
package bptree

import (
	"bytes"
	"sort"

	"github.com/erigontech/stackdb/kv/bptree/internal/mathutil"
)

// DefaultOrder is the branching factor used when callers don't need a
// specific one. m=7 keeps nodes small enough to scan linearly in a single
// cache line's worth of pointers while still giving a shallow tree for the
// record counts secondary indices typically hold.
const DefaultOrder = 7

// SeekMode selects how Seek resolves a key that isn't present exactly.
type SeekMode uint8

const (
	Exact SeekMode = iota
	GE
	LE
)

// Tree is an in-memory B+ tree plus its single live cursor.
type Tree struct {
	order int
	a     arena
	root  ref

	firstLeaf, lastLeaf ref
	size                int

	minLeaf, minInner int

	// cursor state (spec.md §4.1: "currentKey/currentRecord/eof/found")
	curLeaf        ref
	curIdx         int
	curKey         []byte
	curRecord      []byte
	eof            bool
	found          bool
}

// New builds an empty tree of the given order (order < 3 is clamped to 3,
// the smallest order for which split/merge is well defined).
func New(order int) *Tree {
	if order < 3 {
		order = 3
	}
	t := &Tree{
		order:   order,
		root:    nilRef,
		curLeaf: nilRef,
		eof:     true,
		minLeaf: order / 2,
		minInner: mathutil.CeilDiv(order, 2) - 1,
	}
	if t.minInner < 1 {
		t.minInner = 1
	}
	return t
}

func (t *Tree) Len() int { return t.size }

func (t *Tree) maxKeys() int { return t.order - 1 }

// --- cursor accessors ---

func (t *Tree) CurrentKey() []byte    { return t.curKey }
func (t *Tree) CurrentRecord() []byte { return t.curRecord }
func (t *Tree) EOF() bool             { return t.eof }
func (t *Tree) Found() bool           { return t.found }

func (t *Tree) setCursor(leaf ref, idx int) {
	n := t.a.get(leaf)
	if n == nil || idx < 0 || idx >= len(n.keys) {
		t.curLeaf, t.curIdx, t.curKey, t.curRecord = nilRef, 0, nil, nil
		t.eof, t.found = true, false
		return
	}
	t.curLeaf, t.curIdx = leaf, idx
	t.curKey, t.curRecord = n.keys[idx], n.records[idx]
	t.eof, t.found = false, true
}

func (t *Tree) clearCursor() {
	t.curLeaf, t.curIdx, t.curKey, t.curRecord = nilRef, 0, nil, nil
	t.eof, t.found = true, false
}

// descend walks from the root to the leaf that would hold k.
func (t *Tree) descend(k []byte) ref {
	cur := t.root
	for {
		n := t.a.get(cur)
		if n == nil || n.leaf {
			return cur
		}
		i := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(n.keys[i], k) > 0 })
		cur = n.children[i]
	}
}

// Get returns the record stored under k, if any, without moving the cursor.
func (t *Tree) Get(k []byte) ([]byte, bool) {
	if t.root == nilRef {
		return nil, false
	}
	leaf := t.a.get(t.descend(k))
	i, ok := searchLeaf(leaf, k)
	if !ok {
		return nil, false
	}
	return leaf.records[i], true
}

func searchLeaf(n *node, k []byte) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool { return bytes.Compare(n.keys[i], k) >= 0 })
	if i < len(n.keys) && bytes.Equal(n.keys[i], k) {
		return i, true
	}
	return i, false
}

// Insert adds (k, rec). It is a no-op if k already exists (spec.md §4.1);
// callers that need upsert semantics (kv/memindex) do Remove then Insert.
func (t *Tree) Insert(k, rec []byte) bool {
	if t.root == nilRef {
		leaf := &node{leaf: true, keys: [][]byte{k}, records: [][]byte{rec}, prev: nilRef, next: nilRef}
		id := t.a.alloc(leaf)
		t.root, t.firstLeaf, t.lastLeaf = id, id, id
		t.size = 1
		t.setCursor(id, 0)
		return true
	}

	leafID := t.descend(k)
	leaf := t.a.get(leafID)
	i, exists := searchLeaf(leaf, k)
	if exists {
		t.setCursor(leafID, i)
		return false
	}

	leaf.keys = insertAt(leaf.keys, i, k)
	leaf.records = insertRecAt(leaf.records, i, rec)
	t.size++

	if len(leaf.keys) > t.maxKeys() {
		t.splitLeaf(leafID)
		// cursor position may have moved to the new sibling; re-seek.
		t.Seek(k, Exact)
	} else {
		t.setCursor(leafID, i)
	}
	return true
}

func insertAt(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertRecAt(s [][]byte, i int, v []byte) [][]byte {
	return insertAt(s, i, v)
}

func insertRefAt(s []ref, i int, v ref) []ref {
	s = append(s, nilRef)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt(s [][]byte, i int) [][]byte {
	copy(s[i:], s[i+1:])
	return s[:len(s)-1]
}

func removeRefAt(s []ref, i int) []ref {
	copy(s[i:], s[i+1:])
	return s[:len(s)-1]
}

// splitLeaf splits an overfull leaf, copying its median key up as the new
// separator (leaves keep every key; only internal nodes move a key up).
func (t *Tree) splitLeaf(id ref) {
	n := t.a.get(id)
	mid := len(n.keys) / 2

	rightKeys := append([][]byte(nil), n.keys[mid:]...)
	rightRecs := append([][]byte(nil), n.records[mid:]...)
	n.keys = n.keys[:mid:mid]
	n.records = n.records[:mid:mid]

	right := &node{leaf: true, keys: rightKeys, records: rightRecs, parent: n.parent}
	rightID := t.a.alloc(right)

	right.next = n.next
	right.prev = id
	if n.next != nilRef {
		t.a.get(n.next).prev = rightID
	} else {
		t.lastLeaf = rightID
	}
	n.next = rightID

	sep := append([]byte(nil), right.keys[0]...)
	t.insertIntoParent(id, sep, rightID)
}

// insertIntoParent inserts separator key sep with right child rightID after
// left's position in left's parent, splitting that parent (recursively) if
// it overflows. If left has no parent, a new root is created.
func (t *Tree) insertIntoParent(left ref, sep []byte, right ref) {
	leftNode := t.a.get(left)
	parentID := leftNode.parent
	if parentID == nilRef {
		root := &node{leaf: false, keys: [][]byte{sep}, children: []ref{left, right}}
		rootID := t.a.alloc(root)
		leftNode.parent = rootID
		t.a.get(right).parent = rootID
		t.root = rootID
		return
	}

	parent := t.a.get(parentID)
	t.a.get(right).parent = parentID

	i := 0
	for ; i < len(parent.children); i++ {
		if parent.children[i] == left {
			break
		}
	}
	parent.keys = insertAt(parent.keys, i, sep)
	parent.children = insertRefAt(parent.children, i+1, right)

	if len(parent.keys) > t.maxKeys() {
		t.splitInner(parentID)
	}
}

// splitInner splits an overfull internal node, moving its median key up
// (internal separators are not duplicated, unlike leaf keys).
func (t *Tree) splitInner(id ref) {
	n := t.a.get(id)
	mid := len(n.keys) / 2
	upKey := n.keys[mid]

	rightKeys := append([][]byte(nil), n.keys[mid+1:]...)
	rightChildren := append([]ref(nil), n.children[mid+1:]...)
	n.keys = n.keys[:mid:mid]
	n.children = n.children[: mid+1 : mid+1]

	right := &node{leaf: false, keys: rightKeys, children: rightChildren, parent: n.parent}
	rightID := t.a.alloc(right)
	for _, c := range rightChildren {
		t.a.get(c).parent = rightID
	}

	t.insertIntoParent(id, upKey, rightID)
}

// Remove deletes k, if present, rebalancing via sibling borrow or merge so
// every node keeps its minimum occupancy (spec.md §4.1).
func (t *Tree) Remove(k []byte) bool {
	if t.root == nilRef {
		return false
	}
	leafID := t.descend(k)
	leaf := t.a.get(leafID)
	i, exists := searchLeaf(leaf, k)
	if !exists {
		return false
	}
	leaf.keys = removeAt(leaf.keys, i)
	leaf.records = removeRecAt(leaf.records, i)
	t.size--

	t.rebalanceLeaf(leafID)
	t.clearCursor()
	return true
}

func removeRecAt(s [][]byte, i int) [][]byte { return removeAt(s, i) }

func (t *Tree) rebalanceLeaf(id ref) {
	n := t.a.get(id)
	if id == t.root {
		if len(n.keys) == 0 {
			t.root, t.firstLeaf, t.lastLeaf = nilRef, nilRef, nilRef
			t.a.release(id)
		}
		return
	}
	if len(n.keys) >= t.minLeaf {
		return
	}

	parentID := n.parent
	parent := t.a.get(parentID)
	idx := childIndex(parent, id)

	// try borrow from left sibling
	if idx > 0 {
		leftID := parent.children[idx-1]
		left := t.a.get(leftID)
		if len(left.keys) > t.minLeaf {
			borrowed := len(left.keys) - 1
			k := left.keys[borrowed]
			r := left.records[borrowed]
			left.keys = left.keys[:borrowed]
			left.records = left.records[:borrowed]
			n.keys = insertAt(n.keys, 0, k)
			n.records = insertRecAt(n.records, 0, r)
			parent.keys[idx-1] = append([]byte(nil), n.keys[0]...)
			return
		}
	}
	// try borrow from right sibling
	if idx < len(parent.children)-1 {
		rightID := parent.children[idx+1]
		right := t.a.get(rightID)
		if len(right.keys) > t.minLeaf {
			k := right.keys[0]
			r := right.records[0]
			right.keys = removeAt(right.keys, 0)
			right.records = removeRecAt(right.records, 0)
			n.keys = append(n.keys, k)
			n.records = append(n.records, r)
			parent.keys[idx] = append([]byte(nil), right.keys[0]...)
			return
		}
	}

	// merge: prefer merging into the left sibling if one exists.
	if idx > 0 {
		leftID := parent.children[idx-1]
		left := t.a.get(leftID)
		left.keys = append(left.keys, n.keys...)
		left.records = append(left.records, n.records...)
		left.next = n.next
		if n.next != nilRef {
			t.a.get(n.next).prev = leftID
		} else {
			t.lastLeaf = leftID
		}
		t.removeParentEntry(parentID, idx-1)
		t.a.release(id)
		return
	}
	rightID := parent.children[idx+1]
	right := t.a.get(rightID)
	n.keys = append(n.keys, right.keys...)
	n.records = append(n.records, right.records...)
	n.next = right.next
	if right.next != nilRef {
		t.a.get(right.next).prev = id
	} else {
		t.lastLeaf = id
	}
	t.removeParentEntry(parentID, idx)
	t.a.release(rightID)
}

func childIndex(parent *node, id ref) int {
	for i, c := range parent.children {
		if c == id {
			return i
		}
	}
	return -1
}

// removeParentEntry removes separator key at sepIdx and the child after it,
// then rebalances the parent itself (recursively, possibly up to the root).
func (t *Tree) removeParentEntry(parentID ref, sepIdx int) {
	parent := t.a.get(parentID)
	parent.keys = removeAt(parent.keys, sepIdx)
	parent.children = removeRefAt(parent.children, sepIdx+1)

	if parentID == t.root {
		if len(parent.children) == 1 {
			only := parent.children[0]
			t.a.get(only).parent = nilRef
			t.root = only
			t.a.release(parentID)
		}
		return
	}
	if len(parent.keys) >= t.minInner {
		return
	}

	grandID := parent.parent
	grand := t.a.get(grandID)
	idx := childIndex(grand, parentID)

	if idx > 0 {
		leftID := grand.children[idx-1]
		left := t.a.get(leftID)
		if len(left.keys) > t.minInner {
			sep := grand.keys[idx-1]
			borrowed := len(left.children) - 1
			movedChild := left.children[borrowed]
			parent.keys = insertAt(parent.keys, 0, sep)
			parent.children = insertRefAt(parent.children, 0, movedChild)
			t.a.get(movedChild).parent = parentID
			grand.keys[idx-1] = left.keys[len(left.keys)-1]
			left.keys = left.keys[:len(left.keys)-1]
			left.children = left.children[:borrowed]
			return
		}
	}
	if idx < len(grand.children)-1 {
		rightID := grand.children[idx+1]
		right := t.a.get(rightID)
		if len(right.keys) > t.minInner {
			sep := grand.keys[idx]
			movedChild := right.children[0]
			parent.keys = append(parent.keys, sep)
			parent.children = append(parent.children, movedChild)
			t.a.get(movedChild).parent = parentID
			grand.keys[idx] = right.keys[0]
			right.keys = removeAt(right.keys, 0)
			right.children = removeRefAt(right.children, 0)
			return
		}
	}

	if idx > 0 {
		leftID := grand.children[idx-1]
		left := t.a.get(leftID)
		sep := grand.keys[idx-1]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, parent.keys...)
		left.children = append(left.children, parent.children...)
		for _, c := range parent.children {
			t.a.get(c).parent = leftID
		}
		t.removeParentEntry(grandID, idx-1)
		t.a.release(parentID)
		return
	}
	rightID := grand.children[idx+1]
	right := t.a.get(rightID)
	sep := grand.keys[idx]
	parent.keys = append(parent.keys, sep)
	parent.keys = append(parent.keys, right.keys...)
	parent.children = append(parent.children, right.children...)
	for _, c := range right.children {
		t.a.get(c).parent = parentID
	}
	t.removeParentEntry(grandID, idx)
	t.a.release(rightID)
}

// Seek positions the cursor at k (Exact), at the first key >= k (GE), or at
// the last key <= k (LE). Returns whether a matching position was found.
func (t *Tree) Seek(k []byte, mode SeekMode) bool {
	if t.root == nilRef {
		t.clearCursor()
		return false
	}
	leafID := t.descend(k)
	leaf := t.a.get(leafID)
	i, exists := searchLeaf(leaf, k)

	switch mode {
	case Exact:
		if !exists {
			t.clearCursor()
			return false
		}
		t.setCursor(leafID, i)
		return true
	case GE:
		if exists {
			t.setCursor(leafID, i)
			return true
		}
		return t.advanceFrom(leafID, i)
	case LE:
		if exists {
			t.setCursor(leafID, i)
			return true
		}
		return t.retreatFrom(leafID, i-1)
	default:
		t.clearCursor()
		return false
	}
}

// advanceFrom positions the cursor at the first valid key at or after
// (leafID, idx), walking forward across leaf boundaries if needed. Returns
// whether a position was established (not end-of-tree); t.found stays
// false since by construction idx never lands on an exact match here.
func (t *Tree) advanceFrom(leafID ref, idx int) bool {
	for leafID != nilRef {
		n := t.a.get(leafID)
		if idx < len(n.keys) {
			t.setCursor(leafID, idx)
			t.found = false
			return true
		}
		leafID = n.next
		idx = 0
	}
	t.clearCursor()
	return false
}

func (t *Tree) retreatFrom(leafID ref, idx int) bool {
	for leafID != nilRef {
		n := t.a.get(leafID)
		if idx >= 0 && idx < len(n.keys) {
			t.setCursor(leafID, idx)
			t.found = false
			return true
		}
		leafID = t.a.get(leafID).prev
		if leafID != nilRef {
			idx = len(t.a.get(leafID).keys) - 1
		}
	}
	t.clearCursor()
	return false
}

// GoTop positions the cursor at the smallest key.
func (t *Tree) GoTop() bool {
	if t.firstLeaf == nilRef {
		t.clearCursor()
		return false
	}
	t.setCursor(t.firstLeaf, 0)
	return true
}

// GoBottom positions the cursor at the largest key.
func (t *Tree) GoBottom() bool {
	if t.lastLeaf == nilRef {
		t.clearCursor()
		return false
	}
	n := t.a.get(t.lastLeaf)
	t.setCursor(t.lastLeaf, len(n.keys)-1)
	return true
}

// GoToLowerBound positions the cursor at the first key satisfying the
// lower bound (k, open): > k if open, >= k otherwise.
func (t *Tree) GoToLowerBound(k []byte, open bool) bool {
	positioned := t.Seek(k, GE)
	if !open {
		return positioned
	}
	if positioned && bytes.Equal(t.curKey, k) {
		return t.Next()
	}
	return positioned
}

// GoToUpperBound positions the cursor at the last key satisfying the
// upper bound (k, open): < k if open, <= k otherwise.
func (t *Tree) GoToUpperBound(k []byte, open bool) bool {
	positioned := t.Seek(k, LE)
	if !open {
		return positioned
	}
	if positioned && bytes.Equal(t.curKey, k) {
		return t.Prev()
	}
	return positioned
}

// Next advances the cursor by one key; returns false at EOF.
func (t *Tree) Next() bool {
	if t.curLeaf == nilRef {
		return false
	}
	n := t.a.get(t.curLeaf)
	if t.curIdx+1 < len(n.keys) {
		t.setCursor(t.curLeaf, t.curIdx+1)
		return true
	}
	if n.next == nilRef {
		t.clearCursor()
		return false
	}
	t.setCursor(n.next, 0)
	return true
}

// Prev retreats the cursor by one key; returns false at BOF.
func (t *Tree) Prev() bool {
	if t.curLeaf == nilRef {
		return false
	}
	if t.curIdx > 0 {
		t.setCursor(t.curLeaf, t.curIdx-1)
		return true
	}
	n := t.a.get(t.curLeaf)
	if n.prev == nilRef {
		t.clearCursor()
		return false
	}
	prev := t.a.get(n.prev)
	t.setCursor(n.prev, len(prev.keys)-1)
	return true
}

// Skip moves the cursor forward (n>0) or backward (n<0) by n positions.
func (t *Tree) Skip(n int) bool {
	ok := true
	if n > 0 {
		for i := 0; i < n && ok; i++ {
			ok = t.Next()
		}
	} else if n < 0 {
		for i := 0; i > n && ok; i-- {
			ok = t.Prev()
		}
	}
	return ok
}

// Pack rebuilds the tree from a full leaf scan, producing a maximally
// packed tree (every node at its capacity rather than its minimum
// occupancy). Used after bulk deletes to reclaim arena fragmentation.
func (t *Tree) Pack() {
	if t.root == nilRef {
		return
	}
	var keys, recs [][]byte
	for id := t.firstLeaf; id != nilRef; {
		n := t.a.get(id)
		keys = append(keys, n.keys...)
		recs = append(recs, n.records...)
		id = n.next
	}

	fresh := New(t.order)
	leafCap := fresh.maxKeys()
	var leaves []ref
	for i := 0; i < len(keys); i += leafCap {
		end := i + leafCap
		if end > len(keys) {
			end = len(keys)
		}
		n := &node{leaf: true, keys: keys[i:end], records: recs[i:end]}
		leaves = append(leaves, fresh.a.alloc(n))
	}
	for i, id := range leaves {
		n := fresh.a.get(id)
		if i > 0 {
			n.prev = leaves[i-1]
		} else {
			n.prev = nilRef
		}
		if i+1 < len(leaves) {
			n.next = leaves[i+1]
		} else {
			n.next = nilRef
		}
	}
	if len(leaves) == 0 {
		fresh.root, fresh.firstLeaf, fresh.lastLeaf = nilRef, nilRef, nilRef
	} else if len(leaves) == 1 {
		fresh.root = leaves[0]
		fresh.firstLeaf, fresh.lastLeaf = leaves[0], leaves[0]
	} else {
		level := leaves
		for len(level) > 1 {
			level = fresh.packLevel(level)
		}
		fresh.root = level[0]
		fresh.firstLeaf, fresh.lastLeaf = leaves[0], leaves[len(leaves)-1]
	}
	fresh.size = len(keys)

	*t = *fresh
}

// packLevel groups a level of nodes into parents of at most maxKeys+1
// children each, returning the parent level.
func (t *Tree) packLevel(level []ref) []ref {
	capChildren := t.maxKeys() + 1
	var parents []ref
	for i := 0; i < len(level); i += capChildren {
		end := i + capChildren
		if end > len(level) {
			end = len(level)
		}
		children := append([]ref(nil), level[i:end]...)
		keys := make([][]byte, 0, len(children)-1)
		for _, c := range children[1:] {
			keys = append(keys, firstKey(t.a.get(c), &t.a))
		}
		n := &node{leaf: false, keys: keys, children: children}
		id := t.a.alloc(n)
		for _, c := range children {
			t.a.get(c).parent = id
		}
		parents = append(parents, id)
	}
	return parents
}

func firstKey(n *node, a *arena) []byte {
	for !n.leaf {
		n = a.get(n.children[0])
	}
	return n.keys[0]
}
