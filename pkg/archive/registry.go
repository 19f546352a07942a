package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler is implemented by every format handler.
type Handler interface {
	// Format returns the format this handler extracts.
	Format() Format

	// Available returns nil when the handler can run, or an error wrapping
	// ErrFormatUnavailable explaining what is missing.
	Available() error
}

// TreeHandler extracts multi-entry archives (zip, tar, 7z, rar).
type TreeHandler interface {
	Handler
	ExtractTree(ctx context.Context, src string, w *entryWriter) error
}

// StreamHandler decompresses a single-stream format (gzip, bzip2, xz, zstd).
type StreamHandler interface {
	Handler
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Registry manages format handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Format]Handler
	disabled map[Format]bool
}

// NewRegistry creates a registry with every built-in handler.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[Format]Handler),
		disabled: make(map[Format]bool),
	}

	// Single-stream formats
	r.Register(gzipHandler{})
	r.Register(bzip2Handler{})
	r.Register(xzHandler{})
	r.Register(zstdHandler{})

	// Tree formats
	r.Register(zipHandler{})
	r.Register(tarHandler{format: FormatTar})
	r.Register(tarHandler{format: FormatTarGz, stream: gzipHandler{}})
	r.Register(tarHandler{format: FormatTarBz2, stream: bzip2Handler{}})
	r.Register(tarHandler{format: FormatTarXz, stream: xzHandler{}})
	r.Register(tarHandler{format: FormatTarZst, stream: zstdHandler{}})
	r.Register(sevenZipHandler{})
	r.Register(rarHandler{})

	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Format()] = h
}

// Disable marks formats as unavailable. Unknown format names are an error.
func (r *Registry) Disable(formats ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range formats {
		f := Format(name)
		if _, ok := r.handlers[f]; !ok {
			return fmt.Errorf("%w: cannot disable %q", ErrUnsupportedFormat, name)
		}
		r.disabled[f] = true
	}
	return nil
}

// Get returns the handler for a format if it is registered and available.
func (r *Registry) Get(f Format) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if r.disabled[f] {
		return nil, fmt.Errorf("%w: %s support has been disabled", ErrFormatUnavailable, f)
	}
	if err := h.Available(); err != nil {
		return nil, err
	}
	return h, nil
}

// Formats lists the registered formats and whether each one is available.
func (r *Registry) Formats() map[Format]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Format]bool, len(r.handlers))
	for f, h := range r.handlers {
		out[f] = !r.disabled[f] && h.Available() == nil
	}
	return out
}

// LogFormats writes the format table at debug level.
func (r *Registry) LogFormats(logger *zap.Logger) {
	formats := r.Formats()
	names := make([]string, 0, len(formats))
	for f := range formats {
		names = append(names, string(f))
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Debug("Archive format", zap.String("format", name), zap.Bool("available", formats[Format(name)]))
	}
}
