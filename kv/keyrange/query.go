package keyrange

import "fmt"

// Op is a Query leaf operator (spec.md §4.4).
type Op uint8

const (
	OpGT Op = iota
	OpGE
	OpLT
	OpLE
	OpEQ
	OpBetween
	OpWithin
	OpMax
	OpMin
)

// Source resolves a leaf predicate against one named index. It is
// satisfied by kv/memindex.Index, kv/mdbx's persistent index, and by the
// Object Store's dispatch-to-current-state facade (spec.md §4.4
// "Execution on an ObjectStore delegates to index.keys(range, limit)").
type Source interface {
	// Keys returns the primary keys matching r, in ascending key order,
	// bounded by limit (limit < 0 = unbounded).
	Keys(indexName string, r KeyRange, limit int) ([][]byte, error)
	// MinKeys/MaxKeys return every primary key at the extreme secondary key
	// (spec.md §4.2 "min/maxKeys ... tie-breaking returns every primary key
	// at that extreme").
	MinKeys(indexName string) ([][]byte, error)
	MaxKeys(indexName string) ([][]byte, error)
}

// Query is a composable AND/OR tree over per-index range/min/max
// predicates (spec.md §4.4).
type Query struct {
	// Leaf fields; zero value if this node is AND/OR.
	index       string
	op          Op
	operand     []byte
	operand2    []byte // upper bound for Between/Within
	withinRange *KeyRange // set only for OpWithin, carries open/closed bounds

	// Combinator fields; nil if this node is a leaf.
	and []*Query
	or  []*Query
}

func leaf(index string, op Op, lo, hi []byte) *Query {
	return &Query{index: index, op: op, operand: lo, operand2: hi}
}

func GT(index string, k []byte) *Query  { return leaf(index, OpGT, k, nil) }
func GE(index string, k []byte) *Query  { return leaf(index, OpGE, k, nil) }
func LT(index string, k []byte) *Query  { return leaf(index, OpLT, k, nil) }
func LE(index string, k []byte) *Query  { return leaf(index, OpLE, k, nil) }
func EQ(index string, k []byte) *Query  { return leaf(index, OpEQ, k, nil) }
func Max(index string) *Query           { return leaf(index, OpMax, nil, nil) }
func Min(index string) *Query           { return leaf(index, OpMin, nil, nil) }

// Between is a closed range [lo, hi]; Within additionally accepts explicit
// open/closed endpoints (mirrors IndexedDB's bound()/between() pair).
func Between(index string, lo, hi []byte) *Query {
	return leaf(index, OpBetween, lo, hi)
}

// Within accepts a full KeyRange, for callers needing open/half-open bounds
// that Between's closed-range shorthand can't express.
func Within(index string, r KeyRange) *Query {
	q := leaf(index, OpWithin, nil, nil)
	q.withinRange = &r
	return q
}

func And(children ...*Query) *Query { return &Query{and: children} }
func Or(children ...*Query) *Query  { return &Query{or: children} }

func (q *Query) leafRange() (KeyRange, error) {
	switch q.op {
	case OpGT:
		return LowerBound(q.operand, true), nil
	case OpGE:
		return LowerBound(q.operand, false), nil
	case OpLT:
		return UpperBound(q.operand, true), nil
	case OpLE:
		return UpperBound(q.operand, false), nil
	case OpEQ:
		return Only(q.operand), nil
	case OpBetween:
		return Bound(q.operand, q.operand2, false, false), nil
	case OpWithin:
		if q.withinRange != nil {
			return *q.withinRange, nil
		}
		return Bound(q.operand, q.operand2, false, false), nil
	default:
		return KeyRange{}, fmt.Errorf("keyrange: op %d has no range form", q.op)
	}
}

// Keys resolves the query against src, applying limit as specified in
// spec.md §4.4: AND intersects then applies limit; OR unions, applying
// limit during accumulation.
func (q *Query) Keys(src Source, limit int) ([][]byte, error) {
	switch {
	case len(q.and) > 0:
		return q.resolveAnd(src, limit)
	case len(q.or) > 0:
		return q.resolveOr(src, limit)
	case q.op == OpMax:
		return src.MaxKeys(q.index)
	case q.op == OpMin:
		return src.MinKeys(q.index)
	default:
		r, err := q.leafRange()
		if err != nil {
			return nil, err
		}
		return src.Keys(q.index, r, limit)
	}
}

func (q *Query) resolveAnd(src Source, limit int) ([][]byte, error) {
	var sets [][][]byte
	for _, child := range q.and {
		ks, err := child.Keys(src, -1)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ks)
	}
	result := intersect(sets)
	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (q *Query) resolveOr(src Source, limit int) ([][]byte, error) {
	seen := make(map[string]struct{})
	var out [][]byte
	for _, child := range q.or {
		ks, err := child.Keys(src, -1)
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			if limit >= 0 && len(out) >= limit {
				return out, nil
			}
			sk := string(k)
			if _, ok := seen[sk]; ok {
				continue
			}
			seen[sk] = struct{}{}
			out = append(out, k)
		}
	}
	return out, nil
}

func intersect(sets [][][]byte) [][]byte {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int, len(sets[0]))
	for _, set := range sets {
		seenInSet := make(map[string]struct{}, len(set))
		for _, k := range set {
			sk := string(k)
			if _, dup := seenInSet[sk]; dup {
				continue
			}
			seenInSet[sk] = struct{}{}
			counts[sk]++
		}
	}
	var out [][]byte
	emitted := make(map[string]struct{})
	for _, k := range sets[0] {
		sk := string(k)
		if _, done := emitted[sk]; done {
			continue
		}
		if counts[sk] == len(sets) {
			out = append(out, k)
			emitted[sk] = struct{}{}
		}
	}
	return out
}
