package document

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/documentingest/internal/telemetry"
)

// Extractor turns document bytes of a known format into plain text.
type Extractor struct{}

// NewExtractor returns an Extractor for PDF and DOCX.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses data as format. A malformed document is an error; no
// partial text is returned.
func (e *Extractor) Extract(data []byte, format Format) (string, error) {
	start := time.Now()
	defer func() {
		telemetry.ExtractDuration.WithLabelValues(format.String()).Observe(time.Since(start).Seconds())
	}()

	switch format {
	case FormatPDF:
		return extractPDF(data)
	case FormatWordXML:
		return extractDOCX(data)
	default:
		return "", fmt.Errorf("no extractor for format %s", format)
	}
}
