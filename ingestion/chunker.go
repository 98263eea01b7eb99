package ingestion

import (
	"fmt"
	"strings"

	"github.com/clearpath/support-agent/store"
	"github.com/clearpath/support-agent/tokens"
)

// separators tried in priority order when splitting text: paragraph breaks
// first, then lines, sentences, and finally bare words.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits page text into token-bounded chunks and injects the current
// section headings as a context header, so a chunk stays interpretable when
// retrieved without its neighbors.
type Chunker struct {
	counter       tokens.Counter
	chunkTokens   int
	overlapTokens int

	// headerStack carries the active heading hierarchy across pages of the
	// document being chunked.
	headerStack []Heading
}

func NewChunker(counter tokens.Counter, chunkTokens, overlapTokens int) *Chunker {
	if chunkTokens <= 0 {
		chunkTokens = 300
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &Chunker{
		counter:       counter,
		chunkTokens:   chunkTokens,
		overlapTokens: overlapTokens,
	}
}

// Reset clears the heading stack before a new document.
func (c *Chunker) Reset() {
	c.headerStack = nil
}

// ChunkPage produces the chunks for one page, updating the heading stack
// first so chunks inherit the section they fall under. Chunk ids follow the
// {document}_{page}_{index} convention.
func (c *Chunker) ChunkPage(documentName string, page Page) []store.Chunk {
	for _, h := range page.Headings {
		c.pushHeading(h)
	}

	if strings.TrimSpace(page.Text) == "" {
		return nil
	}

	header := c.contextHeader()
	parts := c.split(page.Text)

	chunks := make([]store.Chunk, 0, len(parts))
	for idx, part := range parts {
		text := part
		if header != "" {
			text = fmt.Sprintf("[Context: %s] %s", header, part)
		}
		chunks = append(chunks, store.Chunk{
			ID:            fmt.Sprintf("%s_%d_%d", documentName, page.Number, idx),
			Text:          text,
			DocumentName:  documentName,
			PageNumber:    page.Number,
			TokenCount:    c.counter.Count(text),
			ContextHeader: header,
		})
	}
	return chunks
}

// pushHeading replaces any heading at the same or deeper level: a new H2
// closes the previous H2 and everything under it.
func (c *Chunker) pushHeading(h Heading) {
	kept := c.headerStack[:0]
	for _, existing := range c.headerStack {
		if existing.Level < h.Level {
			kept = append(kept, existing)
		}
	}
	c.headerStack = append(kept, h)
}

func (c *Chunker) contextHeader() string {
	if len(c.headerStack) == 0 {
		return ""
	}
	parts := make([]string, len(c.headerStack))
	for i, h := range c.headerStack {
		parts[i] = h.Text
	}
	return strings.Join(parts, " > ")
}

// split breaks text on the first separator it contains, packing parts
// greedily up to the token budget and seeding each new chunk with an overlap
// tail from the previous one.
func (c *Chunker) split(text string) []string {
	for _, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}

		parts := strings.Split(text, sep)
		var chunks []string
		var current string

		for _, part := range parts {
			if part == "" {
				continue
			}
			part += sep

			candidate := current + part
			if c.counter.Count(candidate) <= c.chunkTokens {
				current = candidate
				continue
			}

			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			if len(chunks) > 0 && c.overlapTokens > 0 {
				current = c.overlapTail(chunks[len(chunks)-1]) + part
			} else {
				current = part
			}
		}

		if trimmed := strings.TrimSpace(current); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		return chunks
	}

	if trimmed := strings.TrimSpace(text); trimmed != "" {
		return []string{trimmed}
	}
	return nil
}

// overlapTail returns the trailing words of a chunk up to the overlap token
// budget, so consecutive chunks share context across the boundary.
func (c *Chunker) overlapTail(chunk string) string {
	words := strings.Fields(chunk)
	if len(words) == 0 {
		return ""
	}

	start := len(words)
	for start > 0 {
		candidate := strings.Join(words[start-1:], " ")
		if c.counter.Count(candidate) > c.overlapTokens {
			break
		}
		start--
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ") + " "
}
