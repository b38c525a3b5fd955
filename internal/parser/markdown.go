// Package parser turns extracted document text into embedding-ready chunks.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownDoc is a Markdown file split at its headings.
type MarkdownDoc struct {
	Frontmatter map[string]any
	Title       string

	// Preamble is the text before the first heading.
	Preamble string
	Sections []Section
}

// Section is a heading and the text beneath it up to the next heading.
type Section struct {
	Level   int
	Heading string
	Content string
}

var headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ParseMarkdown parses frontmatter and heading structure. Malformed
// frontmatter is ignored.
func ParseMarkdown(content string) *MarkdownDoc {
	doc := &MarkdownDoc{Frontmatter: map[string]any{}}

	body := content
	if strings.HasPrefix(content, "---\n") {
		if end := strings.Index(content[4:], "\n---"); end > 0 {
			if err := yaml.Unmarshal([]byte(content[4:4+end]), &doc.Frontmatter); err != nil {
				doc.Frontmatter = map[string]any{}
			}
			body = strings.TrimPrefix(content[4+end+4:], "\n")
		}
	}

	var current *Section
	var buf strings.Builder
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if current == nil {
			doc.Preamble = text
			return
		}
		current.Content = text
		doc.Sections = append(doc.Sections, *current)
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := headingRegex.FindStringSubmatch(line); m != nil {
			flush()
			current = &Section{Level: len(m[1]), Heading: strings.TrimSpace(m[2])}
			if current.Level == 1 && doc.Title == "" {
				doc.Title = current.Heading
			}
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()

	if t, ok := doc.Frontmatter["title"].(string); ok && t != "" {
		doc.Title = t
	}
	return doc
}

// Segments returns the preamble followed by one segment per non-empty
// section, each prefixed with its heading.
func (d *MarkdownDoc) Segments() []string {
	var segments []string
	if d.Preamble != "" {
		segments = append(segments, d.Preamble)
	}
	for _, s := range d.Sections {
		if s.Content == "" {
			continue
		}
		segments = append(segments, s.Heading+"\n"+s.Content)
	}
	return segments
}
