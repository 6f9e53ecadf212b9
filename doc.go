// Package pgtx batches per-object mutations into transactions that a
// storage backend applies atomically and in a safe order.
//
// A Transaction maps each touched ObjectID to one ObjectOperation. The
// operation records how the object comes into existence (Init), whether it
// is deleted first, attribute and omap changes, a truncate marker, an
// allocation hint and the pending byte range updates. Byte range updates
// live in an intervalmap.Map so overlapping writes, zeros and clone ranges
// are resolved when queued: the later update wins and older ones are split
// around it.
//
// # Building
//
//	tx := pgtx.New()
//	head := pgtx.HeadID(1, "obj")
//	clone := head.WithSnap(4)
//
//	tx.Clone(clone, head)              // preserve the head as snap 4
//	tx.UpdateSnaps(clone, []pgtx.SnapID{4})
//	tx.Write(head, 0, 5, []byte("hello"), 0)
//
// Preconditions on the construction calls are contracts. Breaking one (for
// example renaming from a non temp object or writing to an object removed
// earlier in the transaction) panics with an error wrapping one of the
// Err* sentinels.
//
// # Applying
//
// Plan and SafeCreateTraverse hand the operations to the backend so that
// every clone or rename sink is applied before its source. In the example
// above the clone is applied first and still sees the old head data; the
// head write runs afterwards.
//
//	tx.SafeCreateTraverse(func(id pgtx.ObjectID, op *pgtx.ObjectOperation) {
//		// apply op to id as one unit
//	})
//
// # Thread Safety
//
// A Transaction has no internal locking. Build it on one goroutine and
// consume it once. Ordering concurrent transactions that touch the same
// objects is up to the caller.
package pgtx
