package kv

import (
	"fmt"

	"catalyzed-crm/internal/platform/errors"
)

// Guard runs fn and returns its failure as a storage error. A panic inside fn
// (a driver bug, a nil handle) is recovered the same way so it never crosses
// the caller's boundary.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.KindStorage, op, fmt.Sprintf("recovered panic: %v", r))
		}
	}()
	if ferr := fn(); ferr != nil {
		return errors.Wrap(errors.KindStorage, op, "storage access failed", ferr)
	}
	return nil
}
