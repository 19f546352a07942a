package flatten

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mgflat/pkg/config"
)

// PartNamer returns the output name of a 1-based part.
type PartNamer func(part int) string

// SplitResult describes the parts written for one file.
type SplitResult struct {
	Parts []string // Output names in part order
	Bytes int64    // Total bytes written
}

// Splitter divides oversized files into numbered parts in an output
// directory.
type Splitter struct {
	fs     afero.Fs
	dir    string
	limit  int64
	mode   config.SplitMode
	logger *zap.Logger
}

// NewSplitter creates a Splitter writing parts into dir on fs. A limit of
// zero disables splitting.
func NewSplitter(fs afero.Fs, dir string, limit int64, mode config.SplitMode, logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = config.SplitLines
	}
	return &Splitter{fs: fs, dir: dir, limit: limit, mode: mode, logger: logger}
}

// Needed reports whether a file of the given size must be split.
func (s *Splitter) Needed(size int64) bool {
	return s.limit > 0 && size > s.limit
}

// Split writes src from srcFs as parts named by name. In line mode every part
// holds whole lines and stays within the limit unless a single line exceeds
// it; content that is not text yields ErrNotText before anything is written.
// On failure the parts written so far are removed.
func (s *Splitter) Split(ctx context.Context, srcFs afero.Fs, src string, name PartNamer) (res SplitResult, err error) {
	if s.mode == config.SplitLines {
		text, err := looksLikeText(srcFs, src)
		if err != nil {
			return SplitResult{}, err
		}
		if !text {
			return SplitResult{}, ErrNotText
		}
	}

	in, err := srcFs.Open(src)
	if err != nil {
		return SplitResult{}, err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	pw := &partWriter{fs: s.fs, dir: s.dir, name: name}
	defer func() {
		err = multierr.Append(err, pw.close())
		if err != nil {
			s.logger.Debug("Removing partial split output", zap.String("src", src), zap.Strings("parts", pw.parts))
			pw.removeAll()
			res = SplitResult{}
		}
	}()

	br := bufio.NewReader(in)
	switch s.mode {
	case config.SplitBytes:
		err = s.splitBytes(ctx, br, pw)
	default:
		err = s.splitLines(ctx, br, pw)
	}
	if err != nil {
		return SplitResult{}, fmt.Errorf("failed to split %s: %w", filepath.Base(src), err)
	}
	return SplitResult{Parts: pw.parts, Bytes: pw.total}, nil
}

// splitLines accumulates whole lines until the next one would overflow the
// budget of the current part.
func (s *Splitter) splitLines(ctx context.Context, br *bufio.Reader, pw *partWriter) error {
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			if pw.open() && pw.size+int64(len(line)) > s.limit {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := pw.close(); err != nil {
					return err
				}
			}
			if err := pw.write(line); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// splitBytes cuts fixed byte ranges regardless of content.
func (s *Splitter) splitBytes(ctx context.Context, br *bufio.Reader, pw *partWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := pw.next(); err != nil {
			return err
		}
		if _, err := io.CopyN(pw, br, s.limit); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if err := pw.close(); err != nil {
			return err
		}
	}
}

// partWriter writes sequential part files, opening each lazily.
type partWriter struct {
	fs    afero.Fs
	dir   string
	name  PartNamer
	cur   afero.File
	size  int64
	total int64
	parts []string
}

func (pw *partWriter) open() bool {
	return pw.cur != nil
}

func (pw *partWriter) next() error {
	if err := pw.close(); err != nil {
		return err
	}
	name := pw.name(len(pw.parts) + 1)
	f, err := pw.fs.OpenFile(filepath.Join(pw.dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	pw.cur, pw.size = f, 0
	pw.parts = append(pw.parts, name)
	return nil
}

func (pw *partWriter) Write(p []byte) (int, error) {
	n, err := pw.cur.Write(p)
	pw.size += int64(n)
	pw.total += int64(n)
	return n, err
}

func (pw *partWriter) write(p []byte) error {
	if !pw.open() {
		if err := pw.next(); err != nil {
			return err
		}
	}
	_, err := pw.Write(p)
	return err
}

func (pw *partWriter) close() error {
	if pw.cur == nil {
		return nil
	}
	err := pw.cur.Close()
	pw.cur = nil
	return err
}

func (pw *partWriter) removeAll() {
	for _, name := range pw.parts {
		_ = pw.fs.Remove(filepath.Join(pw.dir, name))
	}
}
