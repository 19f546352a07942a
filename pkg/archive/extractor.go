package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// nestedSuffix is appended to a decompressed payload while it is being
// unpacked into a directory of the same name.
const nestedSuffix = ".nested-archive"

// Extractor unpacks archives using a Registry. Decompressed payloads of
// single-stream formats are re-inspected and unpacked again when they are
// themselves archives, up to MaxDepth levels.
type Extractor struct {
	registry *Registry
	maxDepth int
	logger   *zap.Logger
}

// NewExtractor creates an Extractor. A nil registry uses NewRegistry().
func NewExtractor(registry *Registry, maxDepth int, logger *zap.Logger) *Extractor {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Extractor{registry: registry, maxDepth: maxDepth, logger: logger}
}

// Registry returns the handler registry.
func (e *Extractor) Registry() *Registry {
	return e.registry
}

// IsArchive reports whether the path name denotes a known archive format.
func (e *Extractor) IsArchive(path string) bool {
	_, ok := Detect(path)
	return ok
}

// Check verifies that src is an archive with an available handler without
// touching the filesystem beyond the name.
func (e *Extractor) Check(src string) (Format, error) {
	format, ok := Detect(src)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
	}
	if _, err := e.registry.Get(format); err != nil {
		return "", err
	}
	return format, nil
}

// Extract unpacks src into dest, which must exist.
func (e *Extractor) Extract(ctx context.Context, src, dest string) error {
	format, err := e.Check(src)
	if err != nil {
		return err
	}
	e.logger.Info("Extracting archive", zap.String("archive", filepath.Base(src)), zap.String("format", string(format)))
	return e.extract(ctx, src, filepath.Base(src), format, dest, 0)
}

func (e *Extractor) extract(ctx context.Context, src, name string, format Format, dest string, depth int) error {
	h, err := e.registry.Get(format)
	if err != nil {
		return err
	}

	switch h := h.(type) {
	case TreeHandler:
		w := &entryWriter{dest: dest, logger: e.logger}
		if err := h.ExtractTree(ctx, src, w); err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
		e.logger.Debug("Extracted archive", zap.String("archive", name), zap.Int("files", w.files), zap.Int("depth", depth))
		return nil
	case StreamHandler:
		return e.decompress(ctx, h, src, name, dest, depth)
	default:
		return fmt.Errorf("%w: %s handler cannot extract", ErrFormatUnavailable, format)
	}
}

// decompress writes the payload of a single-stream file into dest and
// unpacks it further when it is an archive and the depth budget allows.
func (e *Extractor) decompress(ctx context.Context, h StreamHandler, src, name, dest string, depth int) error {
	payloadName := TrimExt(name)
	if payloadName == name || payloadName == "" {
		payloadName = name + ".out"
	}
	payload := filepath.Join(dest, payloadName)

	if err := decompressFile(h, src, payload); err != nil {
		return fmt.Errorf("failed to decompress %s: %w", name, err)
	}
	e.logger.Debug("Decompressed payload", zap.String("archive", name), zap.String("payload", payloadName))

	nested, ok := Detect(payloadName)
	if !ok {
		sniffed, found, err := Sniff(payload)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", payloadName, err)
		}
		nested, ok = sniffed, found
	}
	if !ok {
		return nil
	}
	if depth >= e.maxDepth {
		e.logger.Warn("Nested archive left packed: nesting limit reached",
			zap.String("payload", payloadName), zap.Int("maxDepth", e.maxDepth))
		return nil
	}
	if _, err := e.registry.Get(nested); err != nil {
		e.logger.Warn("Nested archive left packed", zap.String("payload", payloadName), zap.Error(err))
		return nil
	}

	staged := payload + nestedSuffix
	if err := os.Rename(payload, staged); err != nil {
		return err
	}
	nestedDir := filepath.Join(dest, TrimExt(payloadName))
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		return err
	}

	e.logger.Info("Extracting nested archive", zap.String("payload", payloadName), zap.String("format", string(nested)), zap.Int("depth", depth+1))
	err := e.extract(ctx, staged, payloadName, nested, nestedDir, depth+1)
	return multierr.Append(err, os.Remove(staged))
}

func decompressFile(h StreamHandler, src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(in))

	rc, err := h.NewReader(in)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rc))

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: payload %s already exists", ErrUnsafePath, filepath.Base(dest))
		}
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(out))

	_, err = io.Copy(out, rc)
	return err
}
