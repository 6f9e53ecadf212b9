package pgtx

import (
	"errors"
	"fmt"
)

// Contract violations. Transaction methods panic with an error wrapping one
// of these when a caller breaks a precondition; recover and test with
// errors.Is to identify the violation.
var (
	ErrObjectExists        = errors.New("pgtx: object already initialized in transaction")
	ErrModifyDeleted       = errors.New("pgtx: modification of object deleted in transaction")
	ErrRenameSourceNotTemp = errors.New("pgtx: rename source is not a temp object")
	ErrRenameTargetTemp    = errors.New("pgtx: rename target is a temp object")
	ErrSnapsAlreadyUpdated = errors.New("pgtx: snaps already updated in transaction")
	ErrShortWrite          = errors.New("pgtx: write buffer shorter than length")
	ErrNilObjectContext    = errors.New("pgtx: nil object context")
	ErrSourceCycle         = errors.New("pgtx: clone/rename sources form a cycle")
)

// violation panics with err annotated by the offending object.
func violation(err error, id ObjectID) {
	panic(fmt.Errorf("%w: %s", err, id))
}

// AsContractViolation extracts the error carried by a recovered panic
// value. It returns nil when r is not a contract violation raised by this
// package.
func AsContractViolation(r any) error {
	err, ok := r.(error)
	if !ok {
		return nil
	}
	for _, target := range []error{
		ErrObjectExists,
		ErrModifyDeleted,
		ErrRenameSourceNotTemp,
		ErrRenameTargetTemp,
		ErrSnapsAlreadyUpdated,
		ErrShortWrite,
		ErrNilObjectContext,
		ErrSourceCycle,
	} {
		if errors.Is(err, target) {
			return err
		}
	}
	return nil
}
