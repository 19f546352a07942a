package flatten

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	logSuffix         = ".log"
	previousLogSuffix = ".previous.log"
	ruleWidth         = 80
)

// IsConsolidationCandidate reports whether a file name qualifies for log
// consolidation: it ends in ".log", case-insensitively. This includes the
// ".previous.log" variant.
func IsConsolidationCandidate(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), logSuffix)
}

// logSortKey splits a log file name into its logical base name and the
// priority of its suffix: 0 for ".previous.log", 1 for ".log", 2 otherwise.
func logSortKey(name string) (base string, priority int) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, previousLogSuffix):
		return name[:len(name)-len(previousLogSuffix)], 0
	case strings.HasSuffix(lower, logSuffix):
		return name[:len(name)-len(logSuffix)], 1
	}
	return name, 2
}

// SortMembers orders consolidation members by parent directory, base name
// and suffix priority, so a previous log precedes the current one.
func SortMembers(members []SourceEntry) {
	sort.SliceStable(members, func(i, j int) bool {
		di, dj := path.Dir(members[i].RelPath), path.Dir(members[j].RelPath)
		if di != dj {
			return di < dj
		}
		bi, pi := logSortKey(members[i].Name())
		bj, pj := logSortKey(members[j].Name())
		if bi != bj {
			return bi < bj
		}
		if pi != pj {
			return pi < pj
		}
		return members[i].Name() < members[j].Name()
	})
}

// Consolidator merges log files into a single annotated document.
type Consolidator struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewConsolidator creates a Consolidator reading members from fs.
func NewConsolidator(fs afero.Fs, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{fs: fs, logger: logger}
}

// countingWriter remembers write failures so they can be told apart from
// read failures in io.Copy.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	if err != nil {
		cw.err = err
	}
	return n, err
}

func (cw *countingWriter) writeString(s string) {
	if cw.err == nil {
		_, _ = io.WriteString(cw, s)
	}
}

// Write sorts members in place and writes the consolidated document to w.
// A member that cannot be read is replaced by an inline error marker; only
// failures writing to w are returned.
func (c *Consolidator) Write(w io.Writer, members []SourceEntry) (int64, error) {
	SortMembers(members)

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	cw.writeString(fmt.Sprintf("# Contains %d log files:\n", len(members)))
	for _, m := range members {
		cw.writeString(fmt.Sprintf("#   %s\n", m.RelPath))
	}
	cw.writeString("\n" + strings.Repeat("=", ruleWidth) + "\n\n")

	for i, m := range members {
		cw.writeString(fmt.Sprintf("--- %s ---\n\n", m.RelPath))
		if cw.err != nil {
			break
		}

		if err := c.copyMember(cw, m); err != nil {
			if cw.err != nil {
				break
			}
			c.logger.Warn("Failed to read log for consolidation", zap.String("relPath", m.RelPath), zap.Error(err))
			cw.writeString(fmt.Sprintf("[ERROR: Could not read file content: %v]\n", err))
		}

		// No separator after the last member
		if i < len(members)-1 {
			cw.writeString("\n\n")
		}
	}

	if cw.err != nil {
		return cw.n, cw.err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// copyMember streams one member, decoding it as UTF-8 (or UTF-16 when a byte
// order mark says so) and replacing invalid sequences with U+FFFD.
func (c *Consolidator) copyMember(w io.Writer, m SourceEntry) (err error) {
	f, err := c.fs.Open(m.AbsPath)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	_, err = io.Copy(w, transform.NewReader(f, decoder))
	return err
}
