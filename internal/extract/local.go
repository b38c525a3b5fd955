package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/kintel/internal/parser"
)

// Local reads plain text, Markdown and CSV files without a remote service.
type Local struct{}

// NewLocal creates a local extractor.
func NewLocal() *Local { return &Local{} }

// Extract returns one segment per paragraph for text, per section for
// Markdown and per row for CSV.
func (Local) Extract(_ context.Context, path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown", ".csv":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch ext {
	case ".md", ".markdown":
		return parser.ParseMarkdown(string(data)).Segments(), nil
	case ".csv":
		return csvRows(string(data))
	default:
		return paragraphs(string(data)), nil
	}
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// csvRows renders each data row as "header: value" pairs so column names
// travel with the values into the embedding.
func csvRows(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	out := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		pairs := make([]string, 0, len(row))
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			pairs = append(pairs, name+": "+v)
		}
		if len(pairs) > 0 {
			out = append(out, strings.Join(pairs, "; "))
		}
	}
	return out, nil
}
