package store

import (
	"encoding/json"
	"fmt"

	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
)

// marshalDocument converts a document to canonical JSON TEXT for
// storage. The struct is lowered to a generic tree first; canonical
// serialization then fixes key order and number formatting so that two
// archives of the same run are byte-identical.
func marshalDocument(doc document.Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	data, err := msg.MarshalCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// unmarshalDocument parses archived canonical JSON back into a typed
// document.
func unmarshalDocument(body string) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return document.Document{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
