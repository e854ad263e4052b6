package watch

import "errors"

// ErrFetchFailed is returned when every render attempt of one check failed.
// It ends the check, not the process.
var ErrFetchFailed = errors.New("fetch failed")
