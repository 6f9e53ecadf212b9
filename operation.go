package pgtx

import (
	"github.com/i5heu/ouroboros-pgtx/pkg/intervalmap"
)

// InitKind tells how an object comes into existence in a transaction.
type InitKind uint8

const (
	InitKindNone InitKind = iota
	InitKindCreate
	InitKindClone
	InitKindRename
)

func (k InitKind) String() string {
	switch k {
	case InitKindNone:
		return "None"
	case InitKindCreate:
		return "Create"
	case InitKindClone:
		return "Clone"
	case InitKindRename:
		return "Rename"
	default:
		return "Unknown"
	}
}

// Init is one of InitNone, InitCreate, InitClone or InitRename.
type Init interface {
	Kind() InitKind
	isInit()
}

// InitNone means the object existed before the transaction (or is being
// deleted, see ObjectOperation.DeleteFirst).
type InitNone struct{}

// InitCreate creates an empty object.
type InitCreate struct{}

// InitClone creates the object as a copy of Source.
type InitClone struct {
	Source ObjectID
}

// InitRename moves the temp object Source onto this object.
type InitRename struct {
	Source ObjectID
}

func (InitNone) Kind() InitKind   { return InitKindNone }
func (InitCreate) Kind() InitKind { return InitKindCreate }
func (InitClone) Kind() InitKind  { return InitKindClone }
func (InitRename) Kind() InitKind { return InitKindRename }

func (InitNone) isInit()   {}
func (InitCreate) isInit() {}
func (InitClone) isInit()  {}
func (InitRename) isInit() {}

// BufferUpdate is one of Write, Zero or CloneRange.
type BufferUpdate interface {
	isBufferUpdate()
}

// Write replaces the covered bytes with Data.
type Write struct {
	Data         []byte
	FadviseFlags uint32
}

// Zero replaces the covered bytes with zeros.
type Zero struct{}

// CloneRange copies Len bytes starting at Offset of object From.
type CloneRange struct {
	From   ObjectID
	Offset uint64
	Len    uint64
}

func (Write) isBufferUpdate()      {}
func (Zero) isBufferUpdate()       {}
func (CloneRange) isBufferUpdate() {}

// splitBufferUpdate is the intervalmap splitter for buffer updates.
func splitBufferUpdate(off, n uint64, bu BufferUpdate) BufferUpdate {
	switch u := bu.(type) {
	case Write:
		return Write{Data: u.Data[off : off+n], FadviseFlags: u.FadviseFlags}
	case Zero:
		return Zero{}
	case CloneRange:
		return CloneRange{From: u.From, Offset: u.Offset + off, Len: n}
	default:
		panic("pgtx: unknown buffer update type")
	}
}

// BufferMap holds the pending byte range updates of one object.
type BufferMap = intervalmap.Map[uint64, BufferUpdate]

// BufferExtent is one entry of a BufferMap.
type BufferExtent = intervalmap.Extent[uint64, BufferUpdate]

func newBufferMap() *BufferMap {
	return intervalmap.New[uint64, BufferUpdate](splitBufferUpdate)
}

// AttrUpdate sets an xattr to Value, or removes it when Remove is set.
type AttrUpdate struct {
	Value  []byte
	Remove bool
}

// OmapUpdateType selects how an omap blob is applied.
type OmapUpdateType uint8

const (
	OmapRemove OmapUpdateType = iota
	OmapInsert
)

func (t OmapUpdateType) String() string {
	switch t {
	case OmapRemove:
		return "Remove"
	case OmapInsert:
		return "Insert"
	default:
		return "Unknown"
	}
}

// OmapUpdate carries an encoded batch of omap keys. Updates are replayed in
// the order they were queued.
type OmapUpdate struct {
	Type OmapUpdateType
	Blob []byte
}

// AllocHint is advisory sizing information for the backend.
type AllocHint struct {
	ExpectedObjectSize uint64
	ExpectedWriteSize  uint64
	Flags              uint32
}

// ObjectOperation is everything a transaction does to one object. The
// backend applies all of it as a single unit.
type ObjectOperation struct {
	Init        Init
	DeleteFirst bool

	ClearOmap bool
	Truncate  *uint64

	AttrUpdates map[string]AttrUpdate
	OmapUpdates []OmapUpdate

	OmapHeader    []byte
	HasOmapHeader bool

	UpdatedSnaps    []SnapID
	HasUpdatedSnaps bool

	AllocHint *AllocHint

	BufferUpdates *BufferMap
}

// NewObjectOperation returns an operation that does nothing.
func NewObjectOperation() *ObjectOperation {
	return &ObjectOperation{
		Init:          InitNone{},
		AttrUpdates:   make(map[string]AttrUpdate),
		BufferUpdates: newBufferMap(),
	}
}

func (op *ObjectOperation) initKind() InitKind {
	if op.Init == nil {
		return InitKindNone
	}
	return op.Init.Kind()
}

// IsDelete reports whether the operation only deletes the object.
func (op *ObjectOperation) IsDelete() bool {
	return op.initKind() == InitKindNone && op.DeleteFirst
}

// IsNone reports whether the object is neither initialized nor deleted.
func (op *ObjectOperation) IsNone() bool {
	return op.initKind() == InitKindNone && !op.DeleteFirst
}

// IsFreshObject reports whether the object is created, cloned or renamed
// into place by this transaction.
func (op *ObjectOperation) IsFreshObject() bool {
	return op.initKind() != InitKindNone
}

// Source returns the clone or rename source, if any.
func (op *ObjectOperation) Source() (ObjectID, bool) {
	switch i := op.Init.(type) {
	case InitClone:
		return i.Source, true
	case InitRename:
		return i.Source, true
	default:
		return ObjectID{}, false
	}
}

// BytesWritten sums the lengths of the pending buffer updates.
func (op *ObjectOperation) BytesWritten() uint64 {
	var total uint64
	op.BufferUpdates.Ascend(func(e BufferExtent) bool {
		total += e.Len
		return true
	})
	return total
}
