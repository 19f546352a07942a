// Package flatten rewrites a nested directory tree, or an archive of one,
// into a single flat output directory with collision-free, traceable names.
package flatten

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mgflat/pkg/archive"
	"mgflat/pkg/filter"
	"mgflat/pkg/naming"
)

// Summary reports what a run did.
type Summary struct {
	Source       string
	Output       string
	Processed    int   // Source files whose content reached the output
	Skipped      int   // Filtered files plus per-file failures
	Consolidated int   // Log files merged into consolidated documents
	Parts        int   // Part files written by the splitter
	BytesWritten int64 // Bytes written for file content
	Directories  int   // Directory identifiers allocated, root included
	Ledger       bool  // Whether the ledger file was written
	Duration     time.Duration
}

// Driver runs one flattening pass. A Driver must not be reused.
type Driver struct {
	opts    Options
	fs      afero.Fs
	logger  *zap.Logger
	metrics *metrics
	outputs *outputIndex
}

// New creates a Driver. Zero-valued options get defaults.
func New(opts Options, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults(logger)
	return &Driver{
		opts:    opts,
		fs:      opts.Fs,
		logger:  logger,
		metrics: newMetrics(),
		outputs: newOutputIndex(),
	}
}

// Registry exposes the run's metrics.
func (d *Driver) Registry() *prometheus.Registry {
	return d.metrics.registry
}

// Outputs returns, for every source file that reached the output, the
// relative source path and the output names holding its content.
func (d *Driver) Outputs() map[string][]string {
	return d.outputs.snapshot()
}

// Run validates the source and output, extracts the source if it is an
// archive, and flattens it into the output directory. Fatal errors abort the
// run before any output is written; per-file failures are logged and counted
// as skipped.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	if d.opts.Source == "" {
		return nil, fmt.Errorf("%w: no source given", ErrSourceNotFound)
	}
	if d.opts.Output == "" {
		return nil, errors.New("no output directory given")
	}

	src, err := filepath.Abs(d.opts.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	out, err := filepath.Abs(d.opts.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path: %w", err)
	}

	info, err := d.fs.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	isArchive := !info.IsDir()
	if isArchive {
		if _, err := d.opts.Extractor.Check(src); err != nil {
			if errors.Is(err, archive.ErrUnsupportedFormat) {
				return nil, fmt.Errorf("%w: %s", ErrNotArchive, src)
			}
			return nil, err
		}
	} else if _, ok := d.fs.(*afero.OsFs); ok {
		if real, err := filepath.EvalSymlinks(src); err == nil {
			src = real
		}
	}

	if err := d.checkOutput(out); err != nil {
		return nil, err
	}

	srcFs, root, exclude := d.fs, src, ""
	if isArchive {
		scratch, err := os.MkdirTemp("", "mgflat-"+d.opts.RunID+"-")
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(scratch); err != nil {
				d.logger.Warn("Failed to remove scratch directory", zap.String("path", scratch), zap.Error(err))
			}
		}()

		if err := d.opts.Extractor.Extract(ctx, src, scratch); err != nil {
			return nil, fmt.Errorf("failed to extract archive: %w", err)
		}
		srcFs, root = afero.NewOsFs(), scratch
	} else if isWithin(src, out) {
		exclude = out
	}

	if err := d.fs.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	d.logger.Info("Flattening source",
		zap.String("source", src),
		zap.String("output", out),
		zap.Bool("archive", isArchive),
		zap.Bool("consolidate", d.opts.Consolidate),
		zap.Int64("splitSize", d.opts.SplitSize))

	entries, err := scan(ctx, srcFs, root, exclude, d.opts.Filter, func(rel string, reason filter.Reason) {
		d.metrics.fileSkipped(reason)
	}, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	ids := d.identifiers(entries)
	alloc := naming.NewAllocator(ids, d.opts.Naming)
	alloc.Reserve(naming.LedgerFileName, TreeFileName)
	splitter := NewSplitter(d.fs, out, d.opts.SplitSize, d.opts.SplitMode, d.logger)

	rest := entries
	if d.opts.Consolidate {
		var groups map[string][]SourceEntry
		var keys []string
		groups, keys, rest = groupLogs(entries)
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			d.consolidateGroup(ctx, srcFs, out, alloc, splitter, key, groups[key])
		}
	}

	jobs, err := d.plan(ctx, srcFs, alloc, splitter, rest)
	if err != nil {
		return nil, err
	}

	err = copyFilesConcurrently(ctx, srcFs, d.fs, out, jobs, d.opts.Workers, func(res copyResult) {
		if res.err != nil {
			d.metrics.fileSkipped(skipReasonError)
			return
		}
		d.metrics.fileProcessed()
		d.metrics.bytesWritten(res.bytes)
		d.outputs.add(res.job.entry.RelPath, res.job.name)
	}, d.logger)
	if err != nil {
		return nil, fmt.Errorf("copy interrupted: %w", err)
	}

	ledgerWritten, err := d.writeLedger(out, alloc)
	if err != nil {
		return nil, err
	}

	if d.opts.Tree {
		if err := d.writeTree(out, filepath.Base(src), entries); err != nil {
			d.logger.Error("Failed to write source tree", zap.Error(err))
		}
	}

	if d.opts.MetricsFile != "" {
		if err := d.metrics.writeTextfile(d.opts.MetricsFile); err != nil {
			d.logger.Error("Failed to write metrics file", zap.String("path", d.opts.MetricsFile), zap.Error(err))
		}
	}

	summary := &Summary{
		Source:       src,
		Output:       out,
		Processed:    int(d.metrics.nProcessed.Load()),
		Skipped:      int(d.metrics.nSkipped.Load()),
		Consolidated: int(d.metrics.nConsolidated.Load()),
		Parts:        int(d.metrics.nParts.Load()),
		BytesWritten: d.metrics.nBytes.Load(),
		Directories:  ids.Len(),
		Ledger:       ledgerWritten,
		Duration:     time.Since(start),
	}
	d.logger.Info("Successfully flattened source",
		zap.String("output", out),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("consolidated", summary.Consolidated),
		zap.Int("parts", summary.Parts),
		zap.String("written", units.HumanSize(float64(summary.BytesWritten))),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// checkOutput accepts a missing or empty directory.
func (d *Driver) checkOutput(out string) error {
	info, err := d.fs.Stat(out)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputNotEmpty, out)
	}

	empty, err := afero.IsEmpty(d.fs, out)
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	if !empty {
		return fmt.Errorf("%w: %s", ErrOutputNotEmpty, out)
	}
	return nil
}

// identifiers builds the directory identifier table over the surviving
// entries only, so filtered directories never get one.
func (d *Driver) identifiers(entries []SourceEntry) *naming.Identifiers {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.DirKey)
	}

	if d.opts.Scheme == naming.SchemeHash {
		ids, collisions := naming.HashIdentifiers(keys, d.opts.HashWidth)
		for _, c := range collisions {
			d.logger.Warn("Widened colliding directory identifier",
				zap.String("directory", c.Key),
				zap.String("other", c.Other),
				zap.String("short", c.Short),
				zap.String("assigned", c.Assigned))
		}
		return ids
	}
	return naming.RankIdentifiers(keys)
}

// plan allocates names in walk order. Oversized files are split right away;
// everything else becomes a copy job for the pool.
func (d *Driver) plan(ctx context.Context, srcFs afero.Fs, alloc *naming.Allocator, splitter *Splitter, entries []SourceEntry) ([]copyJob, error) {
	jobs := make([]copyJob, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if splitter.Needed(e.Size) {
			res, err := splitter.Split(ctx, srcFs, e.AbsPath, func(part int) string {
				return alloc.AllocatePart(e.Name(), e.DirKey, part)
			})
			switch {
			case err == nil:
				d.logger.Debug("Split file",
					zap.String("relPath", e.RelPath),
					zap.Int("parts", len(res.Parts)),
					zap.Int64("bytes", res.Bytes))
				d.metrics.fileProcessed()
				d.metrics.partsWritten(len(res.Parts))
				d.metrics.bytesWritten(res.Bytes)
				d.outputs.add(e.RelPath, res.Parts...)
				continue
			case errors.Is(err, ErrNotText):
				d.logger.Warn("File is not line-splittable text, copying whole",
					zap.String("relPath", e.RelPath),
					zap.Int64("size", e.Size))
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				d.logger.Error("Failed to split file", zap.String("relPath", e.RelPath), zap.Error(err))
				d.metrics.fileSkipped(skipReasonError)
				continue
			}
		}

		name := alloc.Allocate(e.Name(), e.DirKey)
		d.logger.Debug("Queued file", zap.String("relPath", e.RelPath), zap.String("name", name))
		jobs = append(jobs, copyJob{entry: e, name: name})
	}
	return jobs, nil
}

// groupLogs separates consolidation groups with at least two members from
// the other entries. Single log files stay in rest, in walk order.
func groupLogs(entries []SourceEntry) (groups map[string][]SourceEntry, keys []string, rest []SourceEntry) {
	counts := make(map[string]int)
	for _, e := range entries {
		if IsConsolidationCandidate(e.Name()) {
			counts[e.DirKey]++
		}
	}

	groups = make(map[string][]SourceEntry)
	for _, e := range entries {
		if IsConsolidationCandidate(e.Name()) && counts[e.DirKey] > 1 {
			groups[e.DirKey] = append(groups[e.DirKey], e)
			continue
		}
		rest = append(rest, e)
	}

	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return groups, keys, rest
}

// consolidateGroup writes one consolidated document, splitting it when it
// exceeds the split size. Failures count every member as skipped.
func (d *Driver) consolidateGroup(ctx context.Context, srcFs afero.Fs, out string, alloc *naming.Allocator, splitter *Splitter, key string, members []SourceEntry) {
	logger := d.logger.With(zap.String("directory", key), zap.Int("members", len(members)))
	fail := func(msg string, err error) {
		logger.Error(msg, zap.Error(err))
		for range members {
			d.metrics.fileSkipped(skipReasonError)
		}
	}

	tmp, err := afero.TempFile(d.fs, out, ".mgflat-consolidate-*.tmp")
	if err != nil {
		fail("Failed to create consolidation file", err)
		return
	}
	tmpName := tmp.Name()

	n, err := NewConsolidator(srcFs, d.logger).Write(tmp, members)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		fail("Failed to write consolidated logs", multierr.Append(err, d.fs.Remove(tmpName)))
		return
	}

	var names []string
	if splitter.Needed(n) {
		res, err := splitter.Split(ctx, d.fs, tmpName, func(part int) string {
			return alloc.AllocateConsolidatedPart(key, part)
		})
		switch {
		case err == nil:
			names = res.Parts
			d.metrics.partsWritten(len(res.Parts))
		case errors.Is(err, ErrNotText):
			logger.Warn("Consolidated logs are not line-splittable text, writing whole", zap.Int64("size", n))
		default:
			fail("Failed to split consolidated logs", multierr.Append(err, d.fs.Remove(tmpName)))
			return
		}
	}

	if names != nil {
		if err := d.fs.Remove(tmpName); err != nil {
			logger.Warn("Failed to remove consolidation file", zap.String("path", tmpName), zap.Error(err))
		}
	} else {
		// A failed rename leaves the name allocated and its identifier in
		// the ledger; names allocated later must not depend on I/O outcomes.
		name := alloc.AllocateConsolidated(key)
		if err := d.fs.Rename(tmpName, filepath.Join(out, name)); err != nil {
			fail("Failed to move consolidated logs into place", multierr.Append(err, d.fs.Remove(tmpName)))
			return
		}
		names = []string{name}
	}

	d.metrics.filesConsolidated(len(members))
	d.metrics.bytesWritten(n)
	for _, m := range members {
		d.metrics.fileProcessed()
		d.outputs.add(m.RelPath, names...)
	}
	logger.Info("Consolidated log files", zap.String("name", names[0]), zap.Int("outputs", len(names)))
}

// writeLedger persists the identifier ledger when any output name carries an
// identifier. The root is always listed in a written ledger.
func (d *Driver) writeLedger(out string, alloc *naming.Allocator) (written bool, err error) {
	ledger := alloc.Ledger()
	if ledger.Len() == 0 {
		d.logger.Debug("No prefixed output names, skipping ledger")
		return false, nil
	}
	ledger.Record(alloc.Identifiers().Root(), naming.RootKey)

	p := filepath.Join(out, naming.LedgerFileName)
	f, err := d.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to create ledger: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if _, err := ledger.WriteTo(f); err != nil {
		return false, fmt.Errorf("failed to write ledger: %w", err)
	}
	d.logger.Info("Wrote path mappings", zap.String("path", p), zap.Int("entries", ledger.Len()))
	return true, nil
}

func (d *Driver) writeTree(out, rootLabel string, entries []SourceEntry) (err error) {
	relPaths := make([]string, 0, len(entries))
	for _, e := range entries {
		relPaths = append(relPaths, e.RelPath)
	}

	f, err := d.fs.OpenFile(filepath.Join(out, TreeFileName), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))
	return writeTree(f, rootLabel, buildTree(relPaths, d.outputs.snapshot()))
}

// isWithin reports whether target lies strictly below dir.
func isWithin(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// outputIndex maps relative source paths to their output names.
type outputIndex struct {
	mu    sync.Mutex
	names map[string][]string
}

func newOutputIndex() *outputIndex {
	return &outputIndex{names: make(map[string][]string)}
}

func (o *outputIndex) add(rel string, names ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names[rel] = append(o.names[rel], names...)
}

func (o *outputIndex) snapshot() map[string][]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string][]string, len(o.names))
	for k, v := range o.names {
		out[k] = append([]string(nil), v...)
	}
	return out
}
