package service

import (
	"context"
	"fmt"
	"strings"
)

const topicsPrompt = `I am building a RAG based application and this is a document provided by the user. Can you please give me topics being covered in the document? Please write everything in order and do not miss topics. Mention the most important headings being covered in the document which will help in retrieval later.
        Respond as a comma-separated string.
        %s
        `

// Summarizer asks the model for the ordered topic list of a whole document.
type Summarizer struct {
	model Generator
}

func NewSummarizer(model Generator) *Summarizer {
	return &Summarizer{model: model}
}

// Summarize returns the comma-separated topics covered by fullText.
func (s *Summarizer) Summarize(ctx context.Context, fullText string) (string, error) {
	resp, err := s.model.Generate(ctx, fmt.Sprintf(topicsPrompt, fullText))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return resp.Flatten(), nil
}

// joinChunks is the text the summarizer sees: chunk contents joined by a
// single space.
func joinChunks(contents []string) string {
	return strings.Join(contents, " ")
}
