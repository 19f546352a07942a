// Package filter decides which discovered files are OS metadata, junk, empty,
// or user-excluded, and therefore never reach the output directory.
package filter

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Reason explains why a file was skipped.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonMetadataDir Reason = "metadata-directory"
	ReasonAppleDouble Reason = "appledouble"
	ReasonJunkFile    Reason = "os-junk-file"
	ReasonExcluded    Reason = "excluded"
)

// AppleDoublePrefix marks macOS resource-fork sidecar files and directories.
const AppleDoublePrefix = "._"

// MetadataDirs are platform trash, recycle and indexing directories.
var MetadataDirs = map[string]bool{
	"__MACOSX":                  true,
	"$RECYCLE.BIN":              true,
	".Trashes":                  true,
	".fseventsd":                true,
	".Spotlight-V100":           true,
	".TemporaryItems":           true,
	"System Volume Information": true,
}

// JunkFiles are exact (case-sensitive) OS junk file names.
var JunkFiles = map[string]bool{
	".DS_Store":       true,
	".Trashes":        true,
	".fseventsd":      true,
	".Spotlight-V100": true,
	".TemporaryItems": true,
	"Thumbs.db":       true,
	"desktop.ini":     true,
	".directory":      true,
}

// Pattern is a compiled exclude glob.
type Pattern struct {
	Glob   string // doublestar glob matched against the slash-separated relative path
	Negate bool   // Pattern started with '!' and re-includes matching paths
	Line   string // Original pattern line
	LineNo int    // Line number in the source (1-based)
}

// Filter is the skip predicate applied before any name is allocated.
type Filter struct {
	patterns []*Pattern
	logger   *zap.Logger
}

// New creates a Filter with only the built-in metadata rules.
func New(logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{logger: logger}
}

// CompileLines adds exclude patterns. Blank lines and '#' comments are ignored.
func (f *Filter) CompileLines(lines ...string) {
	for i, line := range lines {
		p, ok := parsePatternLine(line)
		if !ok {
			continue
		}
		p.LineNo = i + 1
		f.patterns = append(f.patterns, p)
		f.logger.Debug("Compiled exclude pattern",
			zap.Int("lineNo", p.LineNo),
			zap.String("pattern", p.Line),
			zap.String("glob", p.Glob),
			zap.Bool("negate", p.Negate))
	}
}

// CompileFile reads an ignore file with one pattern per line.
func (f *Filter) CompileFile(filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		f.logger.Error("Failed to read ignore file", zap.String("filePath", filePath), zap.Error(err))
		return err
	}

	lines := strings.Split(string(content), "\n")
	f.CompileLines(lines...)
	f.logger.Debug("Compiled ignore file", zap.String("filePath", filePath), zap.Int("lineCount", len(lines)))
	return nil
}

// Patterns returns the number of compiled exclude patterns.
func (f *Filter) Patterns() int {
	return len(f.patterns)
}

// ShouldSkip reports whether the file at relPath (relative to the scan root)
// with the given size must be left out of the output.
func (f *Filter) ShouldSkip(relPath string, size int64) (Reason, bool) {
	relPath = normalizePath(relPath)
	parts := strings.Split(relPath, "/")

	if reason := metadataReason(parts); reason != ReasonNone {
		return reason, true
	}
	if JunkFiles[parts[len(parts)-1]] {
		return ReasonJunkFile, true
	}
	if size == 0 {
		return ReasonEmpty, true
	}
	if f.matches(relPath) {
		return ReasonExcluded, true
	}
	return ReasonNone, false
}

// IsMetadataPath reports whether any component of the slash-separated path is
// a metadata directory or carries the AppleDouble prefix.
func IsMetadataPath(relPath string) bool {
	return metadataReason(strings.Split(normalizePath(relPath), "/")) != ReasonNone
}

func metadataReason(parts []string) Reason {
	for _, part := range parts {
		if MetadataDirs[part] {
			return ReasonMetadataDir
		}
		if strings.HasPrefix(part, AppleDoublePrefix) {
			return ReasonAppleDouble
		}
	}
	return ReasonNone
}

// matches applies the exclude patterns in order; the last match wins.
func (f *Filter) matches(relPath string) bool {
	matched := false
	for _, p := range f.patterns {
		ok, err := doublestar.Match(p.Glob, relPath)
		if err != nil {
			f.logger.Warn("Invalid exclude pattern", zap.String("pattern", p.Line), zap.Error(err))
			continue
		}
		if ok {
			matched = !p.Negate
		}
	}
	return matched
}

// parsePatternLine turns a gitignore-style line into a doublestar glob.
// Patterns without a slash match at any depth; a trailing slash matches
// everything below the directory.
func parsePatternLine(line string) (*Pattern, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, false
	}

	p := &Pattern{Line: line}
	if strings.HasPrefix(trimmed, "!") {
		p.Negate = true
		trimmed = strings.TrimPrefix(trimmed, "!")
	}
	if strings.HasPrefix(trimmed, `\#`) || strings.HasPrefix(trimmed, `\!`) {
		trimmed = trimmed[1:]
	}

	dirOnly := strings.HasSuffix(trimmed, "/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil, false
	}
	if !strings.Contains(trimmed, "/") && !strings.HasPrefix(trimmed, "**") {
		trimmed = "**/" + trimmed
	}
	if dirOnly {
		trimmed += "/**"
	}
	if !doublestar.ValidatePattern(trimmed) {
		return nil, false
	}

	p.Glob = trimmed
	return p, true
}

func normalizePath(p string) string {
	p = filepath.ToSlash(p)
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
