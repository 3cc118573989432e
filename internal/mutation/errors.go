package mutation

import (
	"errors"
	"fmt"
)

// ErrFileNotFound is returned when a record has no attachment with the given id.
var ErrFileNotFound = errors.New("attached file not found")

// LegacyFileID addresses the single file URL older records carry.
const LegacyFileID = "legacy"

// CreationFailedError reports that the attachment of a new record could not
// be uploaded, so the record was not created.
type CreationFailedError struct {
	Err error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("record creation failed: %v", e.Err)
}

func (e *CreationFailedError) Unwrap() error { return e.Err }
