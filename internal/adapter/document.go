// Copyright 2025 James Ross
package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/medkg/ingestcore/internal/payload"
)

// Document is the unit produced by ingestion: a canonical identifier, the
// source name, optional URI/content, provenance metadata, and the typed
// payload that parse() narrowed the raw record into. Raw is required —
// NewDocument fails rather than constructing a Document that could not
// carry its source-specific record.
type Document struct {
	DocID    string
	Source   string
	URI      string
	Content  string
	Metadata map[string]string
	Raw      payload.Payload
}

// NewDocument builds a Document, failing if raw is nil. Ownership of the
// constructed Document belongs to the adapter that calls this until it is
// handed off to the pipeline's write stage.
func NewDocument(docID, source string, raw payload.Payload) (Document, error) {
	if raw == nil {
		return Document{}, fmt.Errorf("adapter: document %q/%q requires a raw payload", source, docID)
	}
	if docID == "" {
		return Document{}, fmt.Errorf("adapter: document for source %q requires a non-empty doc_id", source)
	}
	return Document{
		DocID:    docID,
		Source:   source,
		Raw:      raw,
		Metadata: make(map[string]string),
	}, nil
}

// ContentHash returns the SHA-256 hex digest of raw bytes, the form every
// document's metadata["content_hash"] must carry per the provenance
// invariant enforced in internal/payload.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
