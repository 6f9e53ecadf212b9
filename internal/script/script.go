// Package script builds transactions from YAML step lists. It backs the
// pgtxctl command and makes ad hoc transactions easy to write by hand:
//
//	steps:
//	  - op: write
//	    object: {pool: 1, name: greeting}
//	    offset: 0
//	    data: hello
//	  - op: clone
//	    object: {pool: 1, name: greeting, snap: 4}
//	    source: {pool: 1, name: greeting}
package script

import (
	"errors"
	"fmt"
	"os"

	pgtx "github.com/i5heu/ouroboros-pgtx"
	"gopkg.in/yaml.v2"
)

var (
	// ErrContract wraps a transaction contract violation raised by a step.
	ErrContract  = errors.New("script: contract violation")
	ErrUnknownOp = errors.New("script: unknown op")
	ErrMissing   = errors.New("script: missing field")
)

// ObjectRef names an object. A missing snap means the head object.
type ObjectRef struct {
	Pool      int64   `yaml:"pool"`
	Namespace string  `yaml:"namespace"`
	Name      string  `yaml:"name"`
	Snap      *uint64 `yaml:"snap"`
	Temp      bool    `yaml:"temp"`
}

// ID converts the reference into an ObjectID.
func (r ObjectRef) ID() pgtx.ObjectID {
	id := pgtx.ObjectID{
		Pool:      r.Pool,
		Namespace: r.Namespace,
		Name:      r.Name,
		Snap:      pgtx.SnapHead,
		Temp:      r.Temp,
	}
	if r.Snap != nil {
		id.Snap = pgtx.SnapID(*r.Snap)
	}
	return id
}

type Step struct {
	Op     string     `yaml:"op"`
	Object ObjectRef  `yaml:"object"`
	Source *ObjectRef `yaml:"source"`

	Offset    uint64  `yaml:"offset"`
	Length    *uint64 `yaml:"length"`
	SrcOffset uint64  `yaml:"srcOffset"`
	Data      string  `yaml:"data"`
	Fadvise   uint32  `yaml:"fadvise"`

	Name  string `yaml:"name"`
	Value string `yaml:"value"`

	Keys    map[string]string `yaml:"keys"`
	KeyList []string          `yaml:"keyList"`

	Snaps []uint64 `yaml:"snaps"`

	ObjectSize uint64 `yaml:"objectSize"`
	WriteSize  uint64 `yaml:"writeSize"`
	Flags      uint32 `yaml:"flags"`
}

type Script struct {
	Steps []Step `yaml:"steps"`
}

// Load reads a script file.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("script: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML script. Unknown fields are rejected.
func Parse(data []byte) (Script, error) {
	var s Script
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Script{}, fmt.Errorf("script: parse: %w", err)
	}
	return s, nil
}

// Build runs every step against a new transaction. A step breaking a
// transaction contract is reported as an error wrapping ErrContract and the
// offending pgtx sentinel.
func (s Script) Build() (*pgtx.Transaction, error) { // A
	tx := pgtx.New()
	for i, step := range s.Steps {
		if err := runStep(tx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	return tx, nil
}

func runStep(tx *pgtx.Transaction, step Step) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cv := pgtx.AsContractViolation(r)
		if cv == nil {
			panic(r)
		}
		err = fmt.Errorf("%w: %w", ErrContract, cv)
	}()

	id := step.Object.ID()
	source := func() (pgtx.ObjectID, error) {
		if step.Source == nil {
			return pgtx.ObjectID{}, fmt.Errorf("%w: source", ErrMissing)
		}
		return step.Source.ID(), nil
	}
	length := func(fallback uint64) uint64 {
		if step.Length != nil {
			return *step.Length
		}
		return fallback
	}

	switch step.Op {
	case "create":
		tx.Create(id)
	case "clone":
		src, err := source()
		if err != nil {
			return err
		}
		tx.Clone(id, src)
	case "rename":
		src, err := source()
		if err != nil {
			return err
		}
		tx.Rename(id, src)
	case "remove":
		tx.Remove(id)
	case "update_snaps":
		snaps := make([]pgtx.SnapID, len(step.Snaps))
		for i, s := range step.Snaps {
			snaps[i] = pgtx.SnapID(s)
		}
		tx.UpdateSnaps(id, snaps)
	case "write":
		data := []byte(step.Data)
		tx.Write(id, step.Offset, length(uint64(len(data))), data, step.Fadvise)
	case "zero":
		if step.Length == nil {
			return fmt.Errorf("%w: length", ErrMissing)
		}
		tx.Zero(id, step.Offset, *step.Length)
	case "clone_range":
		src, err := source()
		if err != nil {
			return err
		}
		if step.Length == nil {
			return fmt.Errorf("%w: length", ErrMissing)
		}
		tx.CloneRange(src, id, step.SrcOffset, *step.Length, step.Offset)
	case "truncate":
		tx.Truncate(id, step.Offset)
	case "setattr":
		tx.SetAttr(id, step.Name, []byte(step.Value))
	case "rmattr":
		tx.RmAttr(id, step.Name)
	case "alloc_hint":
		tx.SetAllocHint(id, step.ObjectSize, step.WriteSize, step.Flags)
	case "omap_setkeys":
		kv := make(map[string][]byte, len(step.Keys))
		for k, v := range step.Keys {
			kv[k] = []byte(v)
		}
		tx.OmapSetKeysMap(id, kv)
	case "omap_rmkeys":
		tx.OmapRmKeysList(id, step.KeyList)
	case "omap_setheader":
		tx.OmapSetHeader(id, []byte(step.Value))
	case "omap_clear":
		tx.OmapClear(id)
	case "nop":
		tx.Nop(id)
	default:
		return fmt.Errorf("%w %q", ErrUnknownOp, step.Op)
	}
	return nil
}
