package bptree

// ref is an index into a Tree's node arena. Leaves are doubly linked via
// ref values rather than pointers (spec.md §9: "use an arena-allocated node
// pool with indices for prev/next rather than owning references, to avoid
// lifetime cycles").
type ref int32

const nilRef ref = -1

type node struct {
	leaf bool

	keys [][]byte

	// leaf-only
	records    [][]byte
	prev, next ref

	// internal-only: len(children) == len(keys)+1
	children []ref

	parent ref
}

// arena owns every node of a Tree. Freed slots are recycled so a long-lived
// tree that churns keys doesn't grow its backing slice unboundedly.
type arena struct {
	nodes []*node
	free  []ref
}

func (a *arena) alloc(n *node) ref {
	if len(a.free) > 0 {
		id := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		a.nodes[id] = n
		return id
	}
	a.nodes = append(a.nodes, n)
	return ref(len(a.nodes) - 1)
}

func (a *arena) release(id ref) {
	if id == nilRef {
		return
	}
	a.nodes[id] = nil
	a.free = append(a.free, id)
}

func (a *arena) get(id ref) *node {
	if id == nilRef {
		return nil
	}
	return a.nodes[id]
}
