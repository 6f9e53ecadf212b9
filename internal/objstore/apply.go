package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	pgtx "github.com/i5heu/ouroboros-pgtx"
	"github.com/i5heu/ouroboros-pgtx/pkg/omapcodec"
)

// applyState caches the objects one Apply reads. A nil entry is an object
// known not to exist. Only dirty objects are written back.
type applyState struct {
	store   *Store
	txn     *badger.Txn
	log     *slog.Logger
	objects map[pgtx.ObjectID]*object
	dirty   map[pgtx.ObjectID]struct{}
}

func (st *applyState) set(id pgtx.ObjectID, obj *object) {
	st.objects[id] = obj
	st.dirty[id] = struct{}{}
}

func (st *applyState) get(id pgtx.ObjectID) (*object, error) {
	if obj, ok := st.objects[id]; ok {
		return obj, nil
	}
	obj, err := st.store.loadObject(st.txn, id)
	if err != nil {
		return nil, err
	}
	st.objects[id] = obj
	return obj, nil
}

// Apply runs every operation of tx in Plan order inside one badger
// transaction. Clone and rename sinks are applied before their sources, so
// they see the sources as they were before tx.
func (s *Store) Apply(ctx context.Context, tx *pgtx.Transaction) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	order, err := tx.Plan()
	if err != nil {
		return fmt.Errorf("objstore: plan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	logger := s.log.With(logKeyApplyID, uuid.NewString())
	logger.DebugContext(ctx, "applying transaction",
		logKeyOps, len(order),
		logKeyBytes, tx.BytesWritten())

	err = s.db.Update(func(txn *badger.Txn) error {
		st := &applyState{
			store:   s,
			txn:     txn,
			log:     logger,
			objects: make(map[pgtx.ObjectID]*object),
			dirty:   make(map[pgtx.ObjectID]struct{}),
		}
		for _, id := range order {
			if err := ctx.Err(); err != nil {
				return err
			}
			op, _ := tx.Op(id)
			if err := st.apply(ctx, id, op); err != nil {
				return fmt.Errorf("objstore: apply %s: %w", id, err)
			}
		}
		return st.flush()
	})
	if err != nil {
		logger.ErrorContext(ctx, "transaction failed", logKeyError, err)
		return err
	}

	logger.InfoContext(ctx, "transaction applied", logKeyOps, len(order))
	return nil
}

func (st *applyState) apply(
	ctx context.Context,
	id pgtx.ObjectID,
	op *pgtx.ObjectOperation,
) error {
	obj, err := st.get(id)
	if err != nil {
		return err
	}
	if op.DeleteFirst {
		obj = nil
	}

	switch init := op.Init.(type) {
	case pgtx.InitCreate:
		if obj == nil {
			obj = newObject()
		}
	case pgtx.InitClone:
		src, err := st.get(init.Source)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("clone source %s: %w", init.Source, ErrNotFound)
		}
		obj = src.clone()
	case pgtx.InitRename:
		src, err := st.get(init.Source)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("rename source %s: %w", init.Source, ErrNotFound)
		}
		obj = src
		st.set(init.Source, nil)
	}

	st.log.DebugContext(ctx, "applying object",
		logKeyObject, id.String(),
		logKeyInit, op.Init.Kind().String())

	if op.IsDelete() {
		st.set(id, nil)
		return nil
	}
	if obj == nil {
		if changesNothing(op) {
			return nil
		}
		obj = newObject()
	}

	if op.Truncate != nil {
		if err := st.checkSize(0, *op.Truncate); err != nil {
			return err
		}
		obj.resize(*op.Truncate)
	}
	if err := st.applyBuffers(obj, op.BufferUpdates); err != nil {
		return err
	}

	for name, u := range op.AttrUpdates {
		if u.Remove {
			delete(obj.attrs, name)
			continue
		}
		obj.attrs[name] = slices.Clone(u.Value)
	}

	if op.ClearOmap {
		obj.omap = make(map[string][]byte)
		obj.header = nil
	}
	for _, u := range op.OmapUpdates {
		if err := applyOmapUpdate(obj, u); err != nil {
			return err
		}
	}
	if op.HasOmapHeader {
		obj.header = slices.Clone(op.OmapHeader)
		if obj.header == nil {
			obj.header = []byte{}
		}
	}

	if op.HasUpdatedSnaps {
		obj.snaps = slices.Clone(op.UpdatedSnaps)
	}
	if op.AllocHint != nil {
		h := *op.AllocHint
		obj.allocHint = &h
	}

	st.set(id, obj)
	return nil
}

// toEnd reports whether [off, off+n) reaches the top of the offset space,
// which callers use to mean "up to the end of the object".
func toEnd(off, n uint64) bool {
	return n >= ^uint64(0)-off
}

// checkSize rejects ranges that would grow an object past MaxObjectSize.
func (st *applyState) checkSize(off, n uint64) error {
	limit := st.store.cfg.MaxObjectSize
	if n > limit || off > limit-n {
		return fmt.Errorf("%w: [%d, +%d) exceeds %d bytes",
			ErrObjectTooLarge, off, n, limit)
	}
	return nil
}

func (st *applyState) applyBuffers(obj *object, updates *pgtx.BufferMap) error {
	var err error
	updates.Ascend(func(e pgtx.BufferExtent) bool {
		err = st.applyBuffer(obj, e)
		return err == nil
	})
	return err
}

func (st *applyState) applyBuffer(obj *object, e pgtx.BufferExtent) error {
	switch u := e.Val.(type) {
	case pgtx.Write:
		if err := st.checkSize(e.Off, uint64(len(u.Data))); err != nil {
			return err
		}
		return obj.writeAt(e.Off, u.Data)
	case pgtx.Zero:
		n := e.Len
		if toEnd(e.Off, n) {
			n = obj.tail(e.Off)
		}
		if n == 0 {
			return nil
		}
		if err := st.checkSize(e.Off, n); err != nil {
			return err
		}
		return obj.zeroAt(e.Off, n)
	case pgtx.CloneRange:
		src, err := st.get(u.From)
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("clone range source %s: %w", u.From, ErrNotFound)
		}
		n := e.Len
		if toEnd(e.Off, n) || toEnd(u.Offset, n) {
			n = min(n, src.tail(u.Offset))
		}
		if n == 0 {
			return nil
		}
		if err := st.checkSize(e.Off, n); err != nil {
			return err
		}
		return obj.writeAt(e.Off, src.readAt(u.Offset, n))
	}
	return nil
}

// changesNothing reports whether op neither initializes the object nor
// touches any of its state, as queued by Nop.
func changesNothing(op *pgtx.ObjectOperation) bool {
	return op.IsNone() &&
		op.Truncate == nil &&
		op.BufferUpdates.Empty() &&
		len(op.AttrUpdates) == 0 &&
		!op.ClearOmap &&
		len(op.OmapUpdates) == 0 &&
		!op.HasOmapHeader &&
		!op.HasUpdatedSnaps &&
		op.AllocHint == nil
}

func applyOmapUpdate(obj *object, u pgtx.OmapUpdate) error {
	switch u.Type {
	case pgtx.OmapInsert:
		kv, err := omapcodec.DecodeKeyValues(u.Blob)
		if err != nil {
			return fmt.Errorf("omap insert: %w", err)
		}
		for k, v := range kv {
			obj.omap[k] = v
		}
	case pgtx.OmapRemove:
		keys, err := omapcodec.DecodeKeys(u.Blob)
		if err != nil {
			return fmt.Errorf("omap remove: %w", err)
		}
		for _, k := range keys {
			delete(obj.omap, k)
		}
	default:
		return fmt.Errorf("unknown omap update type %d", u.Type)
	}
	return nil
}

// flush writes every dirty object back in a stable order.
func (st *applyState) flush() error {
	ids := make([]pgtx.ObjectID, 0, len(st.dirty))
	for id := range st.dirty {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, pgtx.ObjectID.Compare)
	for _, id := range ids {
		if err := st.store.storeObject(st.txn, id, st.objects[id]); err != nil {
			return fmt.Errorf("objstore: store %s: %w", id, err)
		}
	}
	return nil
}
