package ingestion

import (
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Heading is a candidate section title found on a page, with a hierarchy
// level derived from its font size (1 is most prominent).
type Heading struct {
	Text  string
	Level int
}

// Page holds the extracted text and headings of one PDF page. Page numbers
// are 1-indexed.
type Page struct {
	Number   int
	Text     string
	Headings []Heading
}

// LoadPDF extracts page texts and headings from a PDF file. Pages that fail
// text extraction are skipped rather than failing the whole document.
func LoadPDF(path string) ([]Page, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer file.Close()

	total := reader.NumPage()
	pages := make([]Page, 0, total)
	for num := 1; num <= total; num++ {
		p := reader.Page(num)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}

		pages = append(pages, Page{
			Number:   num,
			Text:     text,
			Headings: pageHeadings(p),
		})
	}

	return pages, nil
}

const (
	headingMinFontSize = 12
	h1FontSize         = 18
	h2FontSize         = 14
)

// pageHeadings finds headings by font size: text drawn above 12pt on a page
// of mostly body text is treated as a section title. Fragments sharing a
// baseline are joined into one line first.
func pageHeadings(p pdf.Page) (headings []Heading) {
	defer func() {
		// Malformed content streams panic inside the parser; a page
		// without headings is an acceptable outcome.
		_ = recover()
	}()

	content := p.Content()

	var line strings.Builder
	var lineSize float64
	lastY := math.Inf(1)

	flush := func() {
		text := strings.TrimSpace(line.String())
		line.Reset()
		size := lineSize
		lineSize = 0
		if size <= headingMinFontSize || len(text) <= 2 {
			return
		}
		level := 3
		if size > h1FontSize {
			level = 1
		} else if size > h2FontSize {
			level = 2
		}
		headings = append(headings, Heading{Text: text, Level: level})
	}

	for _, t := range content.Text {
		if !math.IsInf(lastY, 1) && math.Abs(t.Y-lastY) > 0.5 {
			flush()
		}
		line.WriteString(t.S)
		if t.FontSize > lineSize {
			lineSize = t.FontSize
		}
		lastY = t.Y
	}
	flush()

	return headings
}
