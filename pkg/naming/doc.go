// Package naming maps files from a nested source tree onto collision-free
// names in a single flat directory.
//
// Every source directory is given a short deterministic identifier which is
// used as a filename prefix. Identifiers are either ranks (the 1-based
// position of the directory in the sorted list of all directories, zero
// padded, with the root at zero) or truncated SHA-256 digests of the
// directory path that are widened whenever two directories would share one.
//
// The Allocator composes "{identifier}_{stem}{extension}", appends ".txt" to
// a fixed set of manifest and log extensions, and breaks any remaining
// collision with a "_NNN" counter. The Ledger records which identifier stands
// for which directory and is written next to the output as
// .path_mappings.txt so every output name can be traced back.
package naming
