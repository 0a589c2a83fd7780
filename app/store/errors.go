package store

import "errors"

var (
	// ErrDecode reported when the backing file is unreadable, truncated or produced by an incompatible encoding
	ErrDecode = errors.New("can't decode schedule")
	// ErrBackendFault reported when the backing file was loaded but faults on the first access
	ErrBackendFault = errors.New("schedule backend fault")
	// ErrWriteFailure reported when the entries table of a fresh schedule can't be created
	ErrWriteFailure = errors.New("can't write schedule")
)
