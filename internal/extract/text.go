package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/worker"
)

// Confidence assigned to text-native sources
const (
	plainConfidence = 1.0
	htmlConfidence  = 0.97 // Markup flattening can merge adjacent cells
	pdfConfidence   = 0.95 // Text layer ordering is not guaranteed
)

// PDFReader returns the plain text of each page of a PDF
type PDFReader func(content []byte) ([]string, error)

// TextStrategy handles text-bearing files: plain text, HTML and PDF
type TextStrategy struct {
	readPDF PDFReader
}

// TextOption configures a TextStrategy
type TextOption func(*TextStrategy)

// WithPDFReader replaces the PDF text-layer reader
func WithPDFReader(r PDFReader) TextOption {
	return func(s *TextStrategy) { s.readPDF = r }
}

// NewTextStrategy creates the default text strategy
func NewTextStrategy(opts ...TextOption) *TextStrategy {
	s := &TextStrategy{readPDF: ReadPDFPages}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TextStrategy) Name() string { return "text" }

// Extract detects the format from the declared content type, falling back to sniffing
func (s *TextStrategy) Extract(ctx context.Context, doc model.Document) (model.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return model.ExtractedText{}, err
	}

	switch detectTextFormat(doc.ContentType, doc.Content) {
	case "pdf":
		return s.extractPDF(doc.Content)
	case "html":
		return extractHTML(doc.Content)
	default:
		return extractPlain(doc.Content)
	}
}

func detectTextFormat(contentType string, content []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mt == "application/pdf":
			return "pdf"
		case mt == "text/html" || mt == "application/xhtml+xml":
			return "html"
		case strings.HasPrefix(mt, "text/"):
			return "plain"
		}
	}
	if bytes.HasPrefix(content, []byte("%PDF-")) {
		return "pdf"
	}
	sniffed := http.DetectContentType(content)
	if strings.HasPrefix(sniffed, "text/html") {
		return "html"
	}
	return "plain"
}

func extractPlain(content []byte) (model.ExtractedText, error) {
	if !utf8.Valid(content) {
		return model.ExtractedText{}, worker.Permanent(fmt.Errorf("%w: content is not valid UTF-8 text", model.ErrMalformedDocument))
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	var b textBuilder
	for _, para := range strings.Split(text, "\n\n") {
		b.add(strings.TrimSpace(para), plainConfidence, "\n\n")
	}
	return b.result("text:plain"), nil
}

// extractHTML flattens visible text into one segment per block. Table rows
// become "cell | cell | cell" lines so figures stay next to their labels.
func extractHTML(content []byte) (model.ExtractedText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return model.ExtractedText{}, worker.Permanent(fmt.Errorf("parse html: %w", err))
	}

	doc.Find("script, style, noscript, iframe, template").Remove()
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			if t := collapseSpace(cell.Text()); t != "" {
				cells = append(cells, t)
			}
		})
		row.ReplaceWithHtml("<p>" + html.EscapeString(strings.Join(cells, " | ")) + "</p>")
	})

	var b textBuilder
	for _, n := range doc.Nodes {
		collectBlocks(n, &b)
	}
	return b.result("text:html"), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "section": true, "article": true, "blockquote": true,
	"pre": true, "table": true, "ul": true, "ol": true, "header": true, "footer": true,
	"br": true, "td": true, "th": true, "dd": true, "dt": true, "body": true,
}

// collectBlocks walks the tree emitting one segment per run of inline text
func collectBlocks(root *html.Node, b *textBuilder) {
	var line strings.Builder
	flush := func() {
		b.add(collapseSpace(line.String()), htmlConfidence, "\n")
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			line.WriteString(n.Data)
			line.WriteByte(' ')
			return
		case html.ElementNode:
			if blockElements[n.Data] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (s *TextStrategy) extractPDF(content []byte) (model.ExtractedText, error) {
	pages, err := s.readPDF(content)
	if err != nil {
		return model.ExtractedText{}, worker.Permanent(fmt.Errorf("read pdf: %w", err))
	}

	var b textBuilder
	for _, page := range pages {
		b.add(strings.TrimSpace(page), pdfConfidence, "\n\n")
	}
	if len(b.buf) == 0 {
		return model.ExtractedText{}, worker.Permanent(fmt.Errorf("pdf has no text layer; submit it as an image for OCR"))
	}
	return b.result("text:pdf"), nil
}

// ReadPDFPages reads the text layer of every page
func ReadPDFPages(content []byte) (pages []string, err error) {
	defer func() {
		// The PDF parser panics on some malformed inputs
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
