package model

// Document is a raw document handed to the ingestion pipeline by the
// document-extraction collaborator. Content is consumed during
// processing and never stored itself, only its chunks are.
type Document struct {
	Path    string `json:"path"`
	EventID string `json:"event_id"`
	Content string `json:"content,omitempty"`
}
