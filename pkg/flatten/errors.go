package flatten

import "errors"

var (
	// ErrSourceNotFound is returned when the source path does not exist.
	ErrSourceNotFound = errors.New("source path does not exist")

	// ErrNotArchive is returned when the source is a file that is not a
	// supported archive.
	ErrNotArchive = errors.New("source is neither a directory nor a supported archive")

	// ErrOutputNotEmpty is returned when the output directory already has
	// entries, or is not a directory at all.
	ErrOutputNotEmpty = errors.New("output directory is not empty")

	// ErrNotText is returned by the line splitter for content that cannot be
	// split on line boundaries.
	ErrNotText = errors.New("content is not line-splittable text")
)
