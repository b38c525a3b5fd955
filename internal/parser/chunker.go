package parser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/kintel/internal/models"
)

// Embedder is the subset of the embedding service the chunker needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkConfig defines semantic chunking parameters.
type ChunkConfig struct {
	// BufferSize: number of neighbouring sentences on each side folded into
	// a sentence's comparison window.
	BufferSize int
	// ThresholdAmount: multiplier applied to the interquartile range.
	ThresholdAmount float64
	// MinSize: minimum chunk size in characters. Smaller groups merge with
	// their neighbours.
	MinSize int
}

// DefaultChunkConfig returns the production chunking parameters.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		BufferSize:      1,
		ThresholdAmount: 1.5,
		MinSize:         250,
	}
}

// SemanticChunker splits text where consecutive sentence windows drift apart
// in embedding space.
type SemanticChunker struct {
	embedder Embedder
	config   ChunkConfig
}

// NewSemanticChunker creates a chunker backed by embedder.
func NewSemanticChunker(embedder Embedder, config ChunkConfig) *SemanticChunker {
	if config.BufferSize < 0 {
		config.BufferSize = 0
	}
	if config.ThresholdAmount <= 0 {
		config.ThresholdAmount = DefaultChunkConfig().ThresholdAmount
	}
	return &SemanticChunker{embedder: embedder, config: config}
}

// Chunk splits every segment, merges pieces under the size floor across
// segment boundaries and numbers the result 1..N in source order. An
// embedding failure fails the whole call.
func (c *SemanticChunker) Chunk(ctx context.Context, segments []string) ([]models.Chunk, error) {
	var texts []string
	for i, segment := range segments {
		split, err := c.SplitText(ctx, segment)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		texts = append(texts, split...)
	}

	merged := mergeUndersized(texts, c.config.MinSize)
	chunks := make([]models.Chunk, len(merged))
	for i, text := range merged {
		chunks[i] = models.Chunk{Content: text, SequenceIndex: i + 1}
	}
	return chunks, nil
}

// mergeUndersized folds every piece shorter than minSize into the following
// one. A short final piece joins the previous chunk instead.
func mergeUndersized(texts []string, minSize int) []string {
	var out []string
	pending := ""
	for _, t := range texts {
		if pending != "" {
			t = pending + "\n" + t
			pending = ""
		}
		if utf8.RuneCountInString(t) < minSize {
			pending = t
			continue
		}
		out = append(out, t)
	}
	if pending != "" {
		if len(out) > 0 {
			out[len(out)-1] += "\n" + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

// SplitText chunks a single piece of text.
func (c *SemanticChunker) SplitText(ctx context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return sentences, nil
	}

	windows := combineSentences(sentences, c.config.BufferSize)
	vectors, err := c.embedder.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("embed sentence windows: %w", err)
	}
	if len(vectors) != len(windows) {
		return nil, fmt.Errorf("embed sentence windows: got %d vectors for %d windows", len(vectors), len(windows))
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - cosineSimilarity(vectors[i], vectors[i+1])
	}
	threshold := interquartileThreshold(distances, c.config.ThresholdAmount)

	var chunks []string
	start := 0
	for i, d := range distances {
		if d <= threshold {
			continue
		}
		group := strings.Join(sentences[start:i+1], " ")
		if utf8.RuneCountInString(group) < c.config.MinSize {
			// too small: keep accumulating into the next group
			continue
		}
		chunks = append(chunks, group)
		start = i + 1
	}

	if start < len(sentences) {
		tail := strings.Join(sentences[start:], " ")
		if len(chunks) > 0 && utf8.RuneCountInString(tail) < c.config.MinSize {
			chunks[len(chunks)-1] += " " + tail
		} else {
			chunks = append(chunks, tail)
		}
	}

	return chunks, nil
}

// combineSentences builds one comparison window per sentence from the
// sentence and up to buffer neighbours on each side.
func combineSentences(sentences []string, buffer int) []string {
	windows := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-buffer)
		hi := min(len(sentences), i+buffer+1)
		windows[i] = strings.Join(sentences[lo:hi], " ")
	}
	return windows
}

// interquartileThreshold returns mean(d) + amount*(Q3-Q1).
func interquartileThreshold(distances []float64, amount float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	var sum float64
	for _, d := range distances {
		sum += d
	}
	mean := sum / float64(len(distances))

	sorted := slices.Clone(distances)
	slices.Sort(sorted)
	iqr := percentile(sorted, 75) - percentile(sorted, 25)
	return mean + amount*iqr
}

// percentile computes the p-th percentile of sorted values using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ErrEmptyDocument is returned when extraction yields no text at all.
var ErrEmptyDocument = errors.New("document contains no text")

// SplitSentences splits text after '.', '?' or '!' followed by whitespace.
// The terminator stays with its sentence; empty pieces are dropped.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
