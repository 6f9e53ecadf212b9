package objstore

import (
	"fmt"
	"maps"
	"slices"

	pgtx "github.com/i5heu/ouroboros-pgtx"
)

// object is the decoded state of one stored object.
type object struct {
	data      []byte
	attrs     map[string][]byte
	omap      map[string][]byte
	header    []byte
	snaps     []pgtx.SnapID
	allocHint *pgtx.AllocHint
}

func newObject() *object {
	return &object{
		data:  []byte{},
		attrs: make(map[string][]byte),
		omap:  make(map[string][]byte),
	}
}

func (o *object) clone() *object {
	c := &object{
		data:   slices.Clone(o.data),
		attrs:  maps.Clone(o.attrs),
		omap:   maps.Clone(o.omap),
		header: slices.Clone(o.header),
		snaps:  slices.Clone(o.snaps),
	}
	if o.allocHint != nil {
		h := *o.allocHint
		c.allocHint = &h
	}
	return c
}

// resize grows the data with zeros or cuts it to size.
func (o *object) resize(size uint64) {
	if size <= uint64(len(o.data)) {
		o.data = o.data[:size]
		return
	}
	o.data = append(o.data, make([]byte, size-uint64(len(o.data)))...)
}

// grow extends the data with zeros so that it covers [off, off+n).
func (o *object) grow(off, n uint64) error {
	end := off + n
	if end < off {
		return fmt.Errorf("%w: range %d+%d overflows", ErrObjectTooLarge, off, n)
	}
	if end > uint64(len(o.data)) {
		o.resize(end)
	}
	return nil
}

func (o *object) writeAt(off uint64, b []byte) error {
	if err := o.grow(off, uint64(len(b))); err != nil {
		return err
	}
	copy(o.data[off:], b)
	return nil
}

func (o *object) zeroAt(off, n uint64) error {
	if err := o.grow(off, n); err != nil {
		return err
	}
	clear(o.data[off : off+n])
	return nil
}

// tail returns how many bytes exist at or after off.
func (o *object) tail(off uint64) uint64 {
	if off >= uint64(len(o.data)) {
		return 0
	}
	return uint64(len(o.data)) - off
}

// readAt returns a copy of n bytes at off, zero filled past the end.
func (o *object) readAt(off, n uint64) []byte {
	out := make([]byte, n)
	if off < uint64(len(o.data)) {
		copy(out, o.data[off:])
	}
	return out
}
