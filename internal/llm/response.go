package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ResponseKind tags which field of a Response is populated.
type ResponseKind int

const (
	KindText ResponseKind = iota
	KindList
	KindOther
)

// Response is a model reply normalised into one of three shapes: a single
// text, a list of parts, or an opaque value such as tool calls.
type Response struct {
	Kind  ResponseKind
	Text  string
	List  []any
	Other any
}

// TextResponse builds a KindText response.
func TextResponse(s string) Response { return Response{Kind: KindText, Text: s} }

// ListResponse builds a KindList response.
func ListResponse(parts ...any) Response { return Response{Kind: KindList, List: parts} }

// OtherResponse builds a KindOther response.
func OtherResponse(v any) Response { return Response{Kind: KindOther, Other: v} }

// Flatten renders the response as plain text. Text is returned verbatim,
// string parts of a list are joined with ", " and non-string parts dropped,
// anything else is formatted with %v.
func (r Response) Flatten() string {
	switch r.Kind {
	case KindText:
		return r.Text
	case KindList:
		parts := make([]string, 0, len(r.List))
		for _, p := range r.List {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		if r.Other == nil {
			return ""
		}
		return fmt.Sprintf("%v", r.Other)
	}
}

var errNoChoices = errors.New("no response choices")

// responseFromContent maps a langchaingo reply onto Response. Several
// candidate choices become a list; a choice with only tool calls becomes
// Other.
func responseFromContent(resp *llms.ContentResponse) (Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, errNoChoices
	}
	if len(resp.Choices) > 1 {
		parts := make([]any, 0, len(resp.Choices))
		for _, c := range resp.Choices {
			parts = append(parts, c.Content)
		}
		return ListResponse(parts...), nil
	}

	choice := resp.Choices[0]
	if choice.Content == "" && len(choice.ToolCalls) > 0 {
		return OtherResponse(choice.ToolCalls), nil
	}
	return TextResponse(choice.Content), nil
}
