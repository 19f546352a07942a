package naming

import (
	"fmt"
	"strings"
	"sync"
)

// ConsolidatedStem is the stem of a consolidated log document.
const ConsolidatedStem = "CONSOLIDATED_LOGS"

// ConsolidatedExt is the original extension of a consolidated log document;
// it is remapped like any other ".log" file.
const ConsolidatedExt = ".log"

// Options configures an Allocator.
type Options struct {
	// TxtExtensions lists extensions, with or without the leading dot, that
	// get ".txt" appended. Matching is case-insensitive.
	TxtExtensions []string
	// RootPrefix prefixes files from the scan root with the root identifier.
	RootPrefix bool
}

// Allocator hands out unique output names. It is safe for concurrent use,
// although callers that need deterministic collision suffixes must allocate
// from a single goroutine in a fixed order.
type Allocator struct {
	ids        *Identifiers
	txt        map[string]bool
	rootPrefix bool
	ledger     *Ledger

	mu   sync.Mutex
	used map[string]struct{}
}

// NewAllocator creates an Allocator over a complete identifier table.
func NewAllocator(ids *Identifiers, opts Options) *Allocator {
	txt := make(map[string]bool, len(opts.TxtExtensions))
	for _, ext := range opts.TxtExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		txt[ext] = true
	}
	return &Allocator{
		ids:        ids,
		txt:        txt,
		rootPrefix: opts.RootPrefix,
		ledger:     NewLedger(),
		used:       make(map[string]struct{}),
	}
}

// Reserve marks names as taken without recording them, e.g. the ledger file
// itself, so no source file can be allocated over them.
func (a *Allocator) Reserve(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range names {
		a.used[foldName(name)] = struct{}{}
	}
}

// Ledger returns the identifier ledger filled by this allocator.
func (a *Allocator) Ledger() *Ledger {
	return a.ledger
}

// Identifiers returns the identifier table.
func (a *Allocator) Identifiers() *Identifiers {
	return a.ids
}

// Allocate returns the unique output name for originalName found in the
// directory dirKey.
func (a *Allocator) Allocate(originalName, dirKey string) string {
	stem, ext := SplitExt(originalName)
	return a.allocate(stem, ext, dirKey, a.rootPrefix)
}

// AllocatePart returns the unique output name for the 1-based part of a
// split file, "{id}_{stem}_partNNN{ext}".
func (a *Allocator) AllocatePart(originalName, dirKey string, part int) string {
	stem, ext := SplitExt(originalName)
	return a.allocate(fmt.Sprintf("%s_part%03d", stem, part), ext, dirKey, a.rootPrefix)
}

// AllocateConsolidated returns the name of the consolidated log document for
// dirKey. The root document never carries a prefix.
func (a *Allocator) AllocateConsolidated(dirKey string) string {
	return a.allocate(ConsolidatedStem, ConsolidatedExt, dirKey, false)
}

// AllocateConsolidatedPart names a part of a split consolidated document.
func (a *Allocator) AllocateConsolidatedPart(dirKey string, part int) string {
	return a.allocate(fmt.Sprintf("%s_part%03d", ConsolidatedStem, part), ConsolidatedExt, dirKey, false)
}

// RemapExt appends ".txt" to ext when it is one of the remapped extensions.
// The original extension is kept: ".yaml" becomes ".yaml.txt".
func (a *Allocator) RemapExt(ext string) string {
	if a.txt[strings.ToLower(ext)] {
		return ext + ".txt"
	}
	return ext
}

func (a *Allocator) allocate(stem, ext, dirKey string, prefixRoot bool) string {
	dirKey = NormalizeKey(dirKey)
	ext = a.RemapExt(ext)

	id, ok := a.ids.Lookup(dirKey)
	if !ok {
		// Directories unknown to the table fold into the root, as a
		// misconfigured caller is better served by a unique name than a panic.
		id, dirKey = a.ids.Root(), RootKey
	}

	prefixed := dirKey != RootKey || prefixRoot
	candidate := stem + ext
	if prefixed {
		candidate = id + "_" + candidate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := a.resolveConflict(candidate)
	a.used[foldName(name)] = struct{}{}
	if prefixed {
		a.ledger.Record(id, dirKey)
	}
	return name
}

// resolveConflict appends "_NNN" before the final extension of candidate
// until the name is unused. Caller holds a.mu.
func (a *Allocator) resolveConflict(candidate string) string {
	if _, taken := a.used[foldName(candidate)]; !taken {
		return candidate
	}

	stem, ext := SplitExt(candidate)
	for counter := 1; ; counter++ {
		name := fmt.Sprintf("%s_%03d%s", stem, counter, ext)
		if _, taken := a.used[foldName(name)]; !taken {
			return name
		}
	}
}

// foldName keys the used set case-insensitively so that no two outputs can
// land on the same file on case-insensitive filesystems.
func foldName(name string) string {
	return strings.ToLower(name)
}

// SplitExt splits a file name into stem and final extension. A leading dot
// does not start an extension and a trailing dot is not one, so ".bashrc"
// and "notes." have no extension.
func SplitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i:]
}
