package convert

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
)

const MediaTypePDF = "application/pdf"

var ErrNoTransformer = errors.New("no transformer available")

// Converter renders one source format into PDF.
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]byte, error)
}

type ConverterFunc func(ctx context.Context, data []byte) ([]byte, error)

func (f ConverterFunc) Convert(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

// Registry dispatches conversions to PDF by source media type.
type Registry struct {
	mu         sync.RWMutex
	converters map[string]Converter
}

func NewRegistry() *Registry {
	return &Registry{converters: make(map[string]Converter)}
}

// NewDefaultRegistry registers the built-in text, CSV, image and
// spreadsheet converters.
func NewDefaultRegistry(opts PDFOptions) *Registry {
	r := NewRegistry()
	r.Register("text/plain", NewTextConverter(opts))
	r.Register("text/csv", NewCSVConverter(opts))
	img := NewImageConverter(opts)
	r.Register("image/png", img)
	r.Register("image/jpeg", img)
	r.Register(MediaTypeXLSX, NewSpreadsheetConverter(opts))
	return r
}

func (r *Registry) Register(mediaType string, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[normalize(mediaType)] = c
}

func (r *Registry) lookup(src, target string) (Converter, bool) {
	if normalize(target) != MediaTypePDF {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[normalize(src)]
	return c, ok
}

func (r *Registry) CanTransform(src, target string) bool {
	_, ok := r.lookup(src, target)
	return ok
}

func (r *Registry) Transform(ctx context.Context, src string, data []byte, target string) ([]byte, error) {
	c, ok := r.lookup(src, target)
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoTransformer, src, target)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := c.Convert(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", src, err)
	}
	return out, nil
}

func normalize(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}
