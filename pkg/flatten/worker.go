package flatten

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// copyJob copies one source file to an already allocated output name.
type copyJob struct {
	entry SourceEntry
	name  string
}

// copyResult is reported once per job.
type copyResult struct {
	job   copyJob
	bytes int64
	err   error
}

// copyFilesConcurrently runs jobs on a bounded worker pool. Per-file failures
// are reported through onDone and never stop the pool; only cancellation of
// ctx does.
func copyFilesConcurrently(ctx context.Context, src, dst afero.Fs, outDir string, jobs []copyJob, maxWorkers int, onDone func(copyResult), logger *zap.Logger) error {
	if len(jobs) == 0 {
		return nil
	}
	logger.Debug("Initializing copy pool", zap.Int("workers", maxWorkers), zap.Int("jobs", len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := copyFile(src, dst, job.entry.AbsPath, filepath.Join(outDir, job.name), job.entry.ModTime)
			if err != nil {
				logger.Error("Failed to copy file",
					zap.String("relPath", job.entry.RelPath),
					zap.String("name", job.name),
					zap.Error(err))
			} else {
				logger.Debug("Copied file",
					zap.String("relPath", job.entry.RelPath),
					zap.String("name", job.name),
					zap.Int64("bytes", n))
			}
			onDone(copyResult{job: job, bytes: n, err: err})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// The loop may have stopped scheduling without any worker observing it.
	return ctx.Err()
}

// copyFile copies src to a new file dst and restores the modification time.
// A partially written dst is removed.
func copyFile(srcFs, dstFs afero.Fs, src, dst string, modTime time.Time) (n int64, err error) {
	in, err := srcFs.Open(src)
	if err != nil {
		return 0, err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	n, err = io.Copy(out, in)
	err = multierr.Append(err, out.Close())
	if err != nil {
		return n, multierr.Append(fmt.Errorf("failed to copy %s: %w", src, err), dstFs.Remove(dst))
	}

	if !modTime.IsZero() {
		// Best effort.
		_ = dstFs.Chtimes(dst, modTime, modTime)
	}
	return n, nil
}
