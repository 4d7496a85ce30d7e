package document

import (
	"mime"
	"path"
	"strings"
)

// MIME types recognised by the pipeline.
const (
	MIMEPDF         = "application/pdf"
	MIMEDOCX        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEOctetStream = "application/octet-stream"
)

// Format is the closed set of document formats the extractor understands.
type Format int

const (
	FormatUnknown Format = iota
	FormatPDF
	FormatWordXML
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatWordXML:
		return "docx"
	default:
		return "unknown"
	}
}

// MIMEType returns the canonical content type for f.
func (f Format) MIMEType() string {
	switch f {
	case FormatPDF:
		return MIMEPDF
	case FormatWordXML:
		return MIMEDOCX
	default:
		return ""
	}
}

// ParseFormat resolves a content type header against the allow-list.
// Parameters such as charset are ignored.
func ParseFormat(contentType string) (Format, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case MIMEPDF:
		return FormatPDF, true
	case MIMEDOCX:
		return FormatWordXML, true
	default:
		return FormatUnknown, false
	}
}

// GuessContentType maps a file extension to a content type. It returns the
// empty string when the extension is not recognised.
func GuessContentType(name string) string {
	// Query strings and fragments are not part of the file name.
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return MIMEPDF
	case ".docx":
		return MIMEDOCX
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return ""
}

// resolveContentType prefers the reported type unless it is missing or
// generic, in which case the name's extension decides.
func resolveContentType(reported, name string) string {
	if mediaType, _, err := mime.ParseMediaType(reported); err == nil && mediaType != MIMEOctetStream {
		return reported
	}
	return GuessContentType(name)
}
