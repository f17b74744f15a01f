package soho

import "errors"

// Sentinel errors returned by the loader and channel combiner. Provider and
// per-file parse failures are never surfaced through Load; those degrade to
// an empty table and empty metadata.
var (
	// ErrInvalidDate marks an unparseable or inverted start/end date.
	ErrInvalidDate = errors.New("soho: invalid date")

	// ErrInvalidOption marks an unrecognized dataset identifier,
	// pos_timestamp value, or resample frequency.
	ErrInvalidOption = errors.New("soho: invalid option")

	// ErrInvalidRange marks an out-of-bounds or inverted channel range
	// passed to the channel combiner. This is a programmer error and is
	// surfaced immediately.
	ErrInvalidRange = errors.New("soho: invalid channel range")
)
