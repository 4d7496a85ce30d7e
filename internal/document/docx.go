package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	wordNamespace         = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	markupCompatNamespace = "http://schemas.openxmlformats.org/markup-compatibility/2006"
	wordDocumentPart      = "word/document.xml"
	// maxDocumentPart bounds the decompressed size of word/document.xml.
	maxDocumentPart = 256 << 20
)

// extractDOCX returns the text of every non-empty paragraph in the main
// document part, joined by newlines.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == wordDocumentPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("DOCX archive has no %s", wordDocumentPart)
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", wordDocumentPart, err)
	}
	defer rc.Close()

	paragraphs, err := wordParagraphs(io.LimitReader(rc, maxDocumentPart))
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n"), nil
}

// wordParagraphs walks a WordprocessingML body and collects paragraph text.
// Runs inside w:t contribute text; w:tab and w:br map to tab and newline.
// Paragraphs nested in a text box are emitted on their own when they close,
// and the enclosing paragraph keeps its text on both sides of the box.
// mc:Fallback subtrees repeat their mc:Choice sibling and are skipped.
func wordParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		open       []*strings.Builder
		inText     bool
		sawBody    bool
	)
	current := func() *strings.Builder {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed %s: %w", wordDocumentPart, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space == markupCompatNamespace && el.Name.Local == "Fallback" {
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("malformed %s: %w", wordDocumentPart, err)
				}
				continue
			}
			if el.Name.Space != wordNamespace {
				continue
			}
			switch el.Name.Local {
			case "body":
				sawBody = true
			case "p":
				open = append(open, &strings.Builder{})
			case "t":
				inText = true
			case "tab":
				if b := current(); b != nil {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if b := current(); b != nil {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if el.Name.Space != wordNamespace {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b := current()
				if b == nil {
					continue
				}
				open = open[:len(open)-1]
				if text := b.String(); strings.TrimSpace(text) != "" {
					paragraphs = append(paragraphs, text)
				}
			}
		case xml.CharData:
			if b := current(); b != nil && inText {
				b.Write(el)
			}
		}
	}

	if !sawBody {
		return nil, fmt.Errorf("malformed %s: no document body", wordDocumentPart)
	}
	return paragraphs, nil
}
