package naming

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// LedgerFileName is the ledger written at the output root.
const LedgerFileName = ".path_mappings.txt"

const ledgerHeader = "# PREFIX -> SOURCE_PATH"

// Entry is one identifier to directory mapping.
type Entry struct {
	ID  string
	Key string // RootKey for the scan root
}

// Label returns the directory key as written in the ledger.
func (e Entry) Label() string {
	if e.Key == RootKey {
		return RootLabel
	}
	return e.Key
}

// Ledger collects identifier to directory mappings for every directory that
// contributed an output name carrying its identifier.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]string)}
}

// Record adds a mapping; recording the same pair again is a no-op.
func (l *Ledger) Record(id, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = key
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the mappings sorted by identifier.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for id, key := range l.entries {
		out = append(out, Entry{ID: id, Key: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WriteTo serializes the ledger as a header line, a blank line and one
// "{id} -> {path}" line per entry. Paths that would not survive a line
// based read are written as Go quoted strings.
func (l *Ledger) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64

	n, err := fmt.Fprintf(bw, "%s\n\n", ledgerHeader)
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, e := range l.Entries() {
		label := RootLabel
		if e.Key != RootKey {
			label = quoteKey(e.Key)
		}
		n, err := fmt.Fprintf(bw, "%s -> %s\n", e.ID, label)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// ParseLedger reads a ledger written by WriteTo.
func ParseLedger(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, label, ok := strings.Cut(line, " -> ")
		if !ok || id == "" {
			return nil, fmt.Errorf("ledger line %d: malformed mapping %q", lineNo, line)
		}
		if strings.HasPrefix(label, `"`) {
			unquoted, err := strconv.Unquote(label)
			if err != nil {
				return nil, fmt.Errorf("ledger line %d: malformed quoted path %q", lineNo, label)
			}
			label = unquoted
		} else if label == RootLabel {
			label = RootKey
		}
		entries = append(entries, Entry{ID: id, Key: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

// quoteKey quotes directory keys that ParseLedger could not read back
// verbatim.
func quoteKey(key string) string {
	if key == RootLabel ||
		strings.HasPrefix(key, `"`) ||
		strings.TrimSpace(key) != key ||
		strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return strconv.Quote(key)
	}
	return key
}

// Resolve returns the source directory of an output name using ledger
// entries. Names without a known identifier prefix resolve to the root when
// unprefixedRoot is set.
func Resolve(entries []Entry, outputName string, unprefixedRoot bool) (Entry, bool) {
	// Prefer the longest matching identifier; widened hash identifiers extend
	// a shorter one.
	var best Entry
	found := false
	for _, e := range entries {
		if strings.HasPrefix(outputName, e.ID+"_") && len(e.ID) > len(best.ID) {
			best, found = e, true
		}
	}
	if found {
		return best, true
	}
	if unprefixedRoot {
		return Entry{Key: RootKey}, true
	}
	return Entry{}, false
}
