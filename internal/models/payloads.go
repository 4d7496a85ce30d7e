package models

// These structs define the JSON payloads for the HTTP and CloudEvent
// functions in front of the document processor.

// ProcessDocumentRequest is the input for the document-processor function.
// Exactly one of URL or Content must be set.
type ProcessDocumentRequest struct {
	URL           string `json:"url,omitempty"`
	Content       []byte `json:"content,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ArchiveFolder string `json:"archiveFolder,omitempty"`
}

// ProcessDocumentResponse is the output of the document-processor function.
type ProcessDocumentResponse struct {
	Status     string `json:"status"`
	Reference  string `json:"reference"`
	CacheKey   string `json:"cacheKey"`
	Text       string `json:"text"`
	Characters int    `json:"characters"`
	ArchiveURI string `json:"archiveUri,omitempty"`
}

// ErrorResponse is written for failed HTTP invocations.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// SweepCacheResponse is the output of the cache-sweeper function.
type SweepCacheResponse struct {
	Status  string `json:"status"`
	Deleted int    `json:"deleted"`
}

// GCSEvent is the payload of a GCS object-finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}
