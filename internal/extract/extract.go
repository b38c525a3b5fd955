// Package extract turns uploaded files into raw text segments.
package extract

import (
	"context"
	"errors"

	"github.com/raphaelgruber/kintel/internal/config"
)

// ErrUnsupportedFormat is returned for files an extractor cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Extractor reads a file and returns its text elements in document order.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}

// New picks the hosted partitioning service when an API key is configured
// and the local reader otherwise.
func New(cfg config.Config) Extractor {
	if cfg.UnstructuredAPIKey != "" {
		return NewUnstructured(cfg.UnstructuredAPIURL, cfg.UnstructuredAPIKey)
	}
	return NewLocal()
}
