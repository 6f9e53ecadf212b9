package pgtx

import (
	"fmt"
	"slices"
)

// Plan returns the order in which a backend must apply the queued
// operations: every clone or rename sink comes before its source, so a
// source still holds its pre-transaction state when its sinks read it and
// is only modified or removed afterwards.
//
// The source -> sinks graph is a forest (every object has at most one
// source), so a post-order walk from the roots visits each node once.
// Roots are operations without a source plus sources that are not queued
// operations themselves. The walk keeps an explicit stack to stay flat on
// long clone chains.
//
// Plan returns ErrSourceCycle, listing the objects it could not place,
// when the sources form a cycle.
func (t *Transaction) Plan() ([]ObjectID, error) {
	sinks := make(map[ObjectID][]ObjectID)
	var roots []ObjectID

	for _, id := range t.Objects() {
		src, ok := t.ops[id].Source()
		if !ok {
			roots = append(roots, id)
			continue
		}
		children, seen := sinks[src]
		if !seen {
			// sources outside the transaction become roots, once
			if _, queued := t.ops[src]; !queued {
				roots = append(roots, src)
			}
		}
		sinks[src] = append(children, id)
	}

	// top of the stack is the end of the slice
	stack := make([]ObjectID, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}

	order := make([]ObjectID, 0, len(t.ops))
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		children, internal := sinks[cur]
		if !internal {
			stack = stack[:len(stack)-1]
			if _, queued := t.ops[cur]; queued {
				order = append(order, cur)
			}
			continue
		}
		// cur stays below its children and is emitted once they are done
		delete(sinks, cur)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	if len(order) != len(t.ops) {
		placed := make(map[ObjectID]struct{}, len(order))
		for _, id := range order {
			placed[id] = struct{}{}
		}
		var left []ObjectID
		for id := range t.ops {
			if _, ok := placed[id]; !ok {
				left = append(left, id)
			}
		}
		slices.SortFunc(left, ObjectID.Compare)
		return nil, fmt.Errorf("%w: %v", ErrSourceCycle, left)
	}
	return order, nil
}

// SafeCreateTraverse calls fn for every queued operation in Plan order.
// A source cycle is a caller defect and panics before fn is called.
func (t *Transaction) SafeCreateTraverse(fn func(ObjectID, *ObjectOperation)) {
	order, err := t.Plan()
	if err != nil {
		panic(err)
	}
	for _, id := range order {
		fn(id, t.ops[id])
	}
}
