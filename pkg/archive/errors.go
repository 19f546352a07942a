// Package archive extracts supported archive and compressed formats into a
// scratch directory.
package archive

import "errors"

// Sentinel errors for package archive.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// ErrUnsupportedFormat is returned for paths that are not a known archive.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrFormatUnavailable is returned when a known format has been disabled
	// or its handler cannot run in this build.
	ErrFormatUnavailable = errors.New("archive support not available")

	// ErrUnsafePath is returned for entries that would land outside the
	// extraction directory.
	ErrUnsafePath = errors.New("archive entry escapes extraction directory")
)
