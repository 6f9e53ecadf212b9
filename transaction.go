package pgtx

import (
	"slices"

	"github.com/i5heu/ouroboros-pgtx/pkg/omapcodec"
)

// ObjectContext is cached backend state about an object. A Transaction only
// keeps references to contexts, their lifetime belongs to the backend's
// cache.
type ObjectContext interface {
	ObjectID() ObjectID
}

// Transaction batches the mutations of one logical update across a set of
// objects. It is built by a single goroutine, handed once to a backend
// through Plan or SafeCreateTraverse and then dropped.
//
// Callers must uphold these constraints, they are not all checked:
//  1. Rename sources may only be referenced before the rename onto the
//     destination.
//  2. The source -> destination graph formed by clones and renames must be
//     acyclic (Plan reports ErrSourceCycle otherwise).
//  3. clone_range sources must not be modified by the same transaction.
type Transaction struct {
	ops  map[ObjectID]*ObjectOperation
	obcs map[ObjectID]ObjectContext
}

// New returns an empty transaction.
func New() *Transaction { // A
	return &Transaction{
		ops:  make(map[ObjectID]*ObjectOperation),
		obcs: make(map[ObjectID]ObjectContext),
	}
}

// slot returns the operation for id, creating a no-op entry on first use.
func (t *Transaction) slot(id ObjectID) *ObjectOperation {
	op, ok := t.ops[id]
	if !ok {
		op = NewObjectOperation()
		t.ops[id] = op
	}
	return op
}

// opForModify is slot for every call that edits an object that must not
// already be deleted by this transaction.
func (t *Transaction) opForModify(id ObjectID) *ObjectOperation {
	op := t.slot(id)
	if op.IsDelete() {
		violation(ErrModifyDeleted, id)
	}
	return op
}

// initSlot returns the operation for an object about to be (re)initialized.
func (t *Transaction) initSlot(id ObjectID) *ObjectOperation {
	op := t.slot(id)
	if !op.IsNone() && !op.IsDelete() {
		violation(ErrObjectExists, id)
	}
	return op
}

// AddObjectContext registers obc under its object id.
func (t *Transaction) AddObjectContext(obc ObjectContext) {
	if obc == nil {
		panic(ErrNilObjectContext)
	}
	t.obcs[obc.ObjectID()] = obc
}

// ObjectContext returns the context registered for id.
func (t *Transaction) ObjectContext(id ObjectID) (ObjectContext, bool) {
	obc, ok := t.obcs[id]
	return obc, ok
}

// Create sets up state for a new, empty object.
func (t *Transaction) Create(id ObjectID) {
	op := t.initSlot(id)
	op.Init = InitCreate{}
}

// Clone sets up target as a copy of source.
func (t *Transaction) Clone(target, source ObjectID) {
	op := t.initSlot(target)
	op.Init = InitClone{Source: source}
}

// Rename moves the temp object source onto target. Anything already queued
// for source moves with it and source leaves the transaction.
func (t *Transaction) Rename(target, source ObjectID) {
	if !source.IsTemp() {
		violation(ErrRenameSourceNotTemp, source)
	}
	if target.IsTemp() {
		violation(ErrRenameTargetTemp, target)
	}
	op := t.initSlot(target)

	if queued, ok := t.ops[source]; ok {
		op = queued
		t.ops[target] = op
		delete(t.ops, source)
	}

	op.Init = InitRename{Source: source}
}

// Remove deletes the object, discarding anything queued for it.
func (t *Transaction) Remove(id ObjectID) {
	op := t.opForModify(id)
	if op.HasUpdatedSnaps {
		violation(ErrSnapsAlreadyUpdated, id)
	}
	*op = *NewObjectOperation()
	op.DeleteFirst = true
}

// UpdateSnaps records the snapshot set of a clone object.
func (t *Transaction) UpdateSnaps(id ObjectID, snaps []SnapID) {
	op := t.opForModify(id)
	if op.HasUpdatedSnaps {
		violation(ErrSnapsAlreadyUpdated, id)
	}
	op.UpdatedSnaps = snaps
	op.HasUpdatedSnaps = true
}

// OmapClear drops every omap key and the header, together with omap
// updates queued earlier in this transaction.
func (t *Transaction) OmapClear(id ObjectID) {
	op := t.opForModify(id)
	op.ClearOmap = true
	op.OmapUpdates = nil
	op.OmapHeader = nil
	op.HasOmapHeader = false
}

// Truncate cuts the object at off. Buffer updates past off are dropped. A
// truncate already queued at or below off makes this a no-op. Fresh
// objects do not record the marker since nothing exists past their
// written data.
func (t *Transaction) Truncate(id ObjectID, off uint64) {
	op := t.opForModify(id)
	if op.Truncate != nil && *op.Truncate <= off {
		return
	}
	op.BufferUpdates.Erase(off, ^uint64(0)-off)
	if !op.IsFreshObject() {
		op.Truncate = &off
	}
}

// SetAttrs sets every attribute in attrs.
func (t *Transaction) SetAttrs(id ObjectID, attrs map[string][]byte) {
	op := t.opForModify(id)
	for name, value := range attrs {
		op.AttrUpdates[name] = AttrUpdate{Value: value}
	}
}

// SetAttr sets one attribute. The transaction takes ownership of value.
func (t *Transaction) SetAttr(id ObjectID, name string, value []byte) {
	op := t.opForModify(id)
	op.AttrUpdates[name] = AttrUpdate{Value: value}
}

// RmAttr removes one attribute.
func (t *Transaction) RmAttr(id ObjectID, name string) {
	op := t.opForModify(id)
	op.AttrUpdates[name] = AttrUpdate{Remove: true}
}

// SetAllocHint records the backend allocation hint.
func (t *Transaction) SetAllocHint(
	id ObjectID,
	expectedObjectSize uint64,
	expectedWriteSize uint64,
	flags uint32,
) {
	op := t.opForModify(id)
	op.AllocHint = &AllocHint{
		ExpectedObjectSize: expectedObjectSize,
		ExpectedWriteSize:  expectedWriteSize,
		Flags:              flags,
	}
}

// Write queues data for [off, off+n). data is claimed by the transaction
// and clipped to n bytes.
func (t *Transaction) Write(
	id ObjectID,
	off, n uint64,
	data []byte,
	fadviseFlags uint32,
) {
	op := t.opForModify(id)
	if uint64(len(data)) < n {
		violation(ErrShortWrite, id)
	}
	op.BufferUpdates.Insert(off, n, Write{
		Data:         data[:n],
		FadviseFlags: fadviseFlags,
	})
}

// CloneRange queues a copy of [fromOff, fromOff+n) of from into
// [toOff, toOff+n) of to.
func (t *Transaction) CloneRange(
	from, to ObjectID,
	fromOff, n, toOff uint64,
) {
	op := t.opForModify(to)
	op.BufferUpdates.Insert(toOff, n, CloneRange{
		From:   from,
		Offset: fromOff,
		Len:    n,
	})
}

// Zero queues zeroing of [off, off+n).
func (t *Transaction) Zero(id ObjectID, off, n uint64) {
	op := t.opForModify(id)
	op.BufferUpdates.Insert(off, n, Zero{})
}

// OmapSetKeys queues an encoded map of keys to insert.
func (t *Transaction) OmapSetKeys(id ObjectID, blob []byte) {
	op := t.opForModify(id)
	op.OmapUpdates = append(op.OmapUpdates, OmapUpdate{
		Type: OmapInsert,
		Blob: blob,
	})
}

// OmapSetKeysMap encodes keys with omapcodec and queues them for insert.
func (t *Transaction) OmapSetKeysMap(id ObjectID, keys map[string][]byte) {
	t.OmapSetKeys(id, omapcodec.EncodeKeyValues(keys))
}

// OmapRmKeys queues an encoded set of keys to remove.
func (t *Transaction) OmapRmKeys(id ObjectID, blob []byte) {
	op := t.opForModify(id)
	op.OmapUpdates = append(op.OmapUpdates, OmapUpdate{
		Type: OmapRemove,
		Blob: blob,
	})
}

// OmapRmKeysList encodes keys with omapcodec and queues them for removal.
func (t *Transaction) OmapRmKeysList(id ObjectID, keys []string) {
	t.OmapRmKeys(id, omapcodec.EncodeKeys(keys))
}

// OmapSetHeader replaces the omap header.
func (t *Transaction) OmapSetHeader(id ObjectID, header []byte) {
	op := t.opForModify(id)
	op.OmapHeader = header
	op.HasOmapHeader = true
}

// Nop touches id without changing it, so the object takes part in the
// ordered traversal.
func (t *Transaction) Nop(id ObjectID) {
	t.opForModify(id)
}

// Empty reports whether no object has been touched.
func (t *Transaction) Empty() bool {
	return len(t.ops) == 0
}

// Len returns the number of objects touched.
func (t *Transaction) Len() int {
	return len(t.ops)
}

// Op returns the queued operation for id.
func (t *Transaction) Op(id ObjectID) (*ObjectOperation, bool) {
	op, ok := t.ops[id]
	return op, ok
}

// Objects returns the touched object ids in ObjectID.Compare order.
func (t *Transaction) Objects() []ObjectID {
	ids := make([]ObjectID, 0, len(t.ops))
	for id := range t.ops {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ObjectID.Compare)
	return ids
}

// BytesWritten sums the buffer update lengths of every object. It walks
// every extent on each call.
func (t *Transaction) BytesWritten() uint64 {
	var total uint64
	for _, op := range t.ops {
		total += op.BytesWritten()
	}
	return total
}
