package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// RootKey is the directory key of files that live directly in the scan root.
const RootKey = ""

// RootLabel stands in for the root directory key in the ledger.
const RootLabel = "(root directory)"

// Scheme names a directory identifier derivation.
type Scheme string

const (
	SchemeRank Scheme = "rank"
	SchemeHash Scheme = "hash"
)

// Collision records a truncated hash that had to be widened.
type Collision struct {
	Key      string // Directory key that was widened
	Other    string // Directory key that already owned the short identifier
	Short    string // The contested identifier
	Assigned string // The widened identifier given to Key
}

// Identifiers is an immutable directory key to identifier table.
type Identifiers struct {
	scheme Scheme
	root   string
	byKey  map[string]string
	byID   map[string]string
}

// NormalizeKey converts a relative directory path into a directory key:
// slash separated, cleaned, and RootKey for the scan root itself.
func NormalizeKey(dir string) string {
	dir = filepath.ToSlash(dir)
	dir = path.Clean("/" + dir)
	return strings.TrimPrefix(dir, "/")
}

func uniqueSortedKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = NormalizeKey(k)
		if k == RootKey || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RankIdentifiers numbers the distinct non-root keys alphabetically from 1.
// All identifiers share a width of max(2, digits(len(keys))) and the root is
// all zeros, so the identifiers sort in the same order as their directories.
func RankIdentifiers(keys []string) *Identifiers {
	sorted := uniqueSortedKeys(keys)

	width := len(strconv.Itoa(len(sorted)))
	if width < 2 {
		width = 2
	}

	ids := &Identifiers{
		scheme: SchemeRank,
		root:   strings.Repeat("0", width),
		byKey:  make(map[string]string, len(sorted)+1),
		byID:   make(map[string]string, len(sorted)+1),
	}
	ids.add(RootKey, ids.root)
	for i, key := range sorted {
		ids.add(key, fmt.Sprintf("%0*d", width, i+1))
	}
	return ids
}

// HashIdentifiers derives identifiers from the SHA-256 of each key truncated
// to width hex digits. Keys are processed in sorted order; a key whose short
// digest is already taken is widened one digit at a time until it is unique.
// The widenings are returned so the caller can report them.
func HashIdentifiers(keys []string, width int) (*Identifiers, []Collision) {
	sorted := uniqueSortedKeys(keys)
	if width < 1 {
		width = 8
	}
	if width > sha256.Size*2 {
		width = sha256.Size * 2
	}

	ids := &Identifiers{
		scheme: SchemeHash,
		root:   strings.Repeat("0", width),
		byKey:  make(map[string]string, len(sorted)+1),
		byID:   make(map[string]string, len(sorted)+1),
	}
	ids.add(RootKey, ids.root)

	var collisions []Collision
	for _, key := range sorted {
		sum := sha256.Sum256([]byte(key))
		digest := hex.EncodeToString(sum[:])

		short := digest[:width]
		id := short
		for w := width + 1; ; w++ {
			owner, taken := ids.byID[id]
			if !taken {
				break
			}
			if w > len(digest) {
				// Two distinct keys with identical SHA-256 digests.
				panic(fmt.Sprintf("naming: unresolvable identifier collision between %q and %q", key, owner))
			}
			id = digest[:w]
		}
		if id != short {
			collisions = append(collisions, Collision{Key: key, Other: ids.byID[short], Short: short, Assigned: id})
		}
		ids.add(key, id)
	}
	return ids, collisions
}

func (ids *Identifiers) add(key, id string) {
	ids.byKey[key] = id
	ids.byID[id] = key
}

// Scheme returns the scheme the table was built with.
func (ids *Identifiers) Scheme() Scheme { return ids.scheme }

// Root returns the root identifier.
func (ids *Identifiers) Root() string { return ids.root }

// Len returns the number of identifiers, root included.
func (ids *Identifiers) Len() int { return len(ids.byKey) }

// Lookup returns the identifier for a directory key.
func (ids *Identifiers) Lookup(key string) (string, bool) {
	id, ok := ids.byKey[NormalizeKey(key)]
	return id, ok
}

// Key returns the directory key an identifier stands for.
func (ids *Identifiers) Key(id string) (string, bool) {
	key, ok := ids.byID[id]
	return key, ok
}
