package attendance

import (
	"errors"
	"fmt"
)

// ErrPreconditionRejected is the parent of every rejection. A rejected action
// leaves the record untouched; it is reported, never treated as a failure.
var ErrPreconditionRejected = errors.New("action rejected")

var (
	ErrAlreadyCheckedIn = fmt.Errorf("%w: already checked in today", ErrPreconditionRejected)
	ErrNotCheckedIn     = fmt.Errorf("%w: not checked in today", ErrPreconditionRejected)
	ErrOnBreak          = fmt.Errorf("%w: break must be ended before checking out", ErrPreconditionRejected)
	ErrDayClosed        = fmt.Errorf("%w: already checked out today", ErrPreconditionRejected)
)

// ErrPersistence marks a storage write that failed after the in-memory change
// was committed. The record stays dirty until a later write succeeds.
var ErrPersistence = errors.New("attendance record not persisted")

// ErrNotLoaded is returned for actions while the stored records could not be
// read. Writing then could overwrite a day that is already closed in storage.
var ErrNotLoaded = errors.New("attendance records not loaded")
