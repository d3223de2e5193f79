package models

import (
	"encoding/json"
	"fmt"
)

// Collection names in the document store.
const (
	CollectionUsers         = "users"
	CollectionBoxes         = "boxes"
	CollectionMessages      = "messages"
	CollectionNotifications = "notifications"
)

// ToDocument converts a model into its generic document form: a map holding
// only JSON-compatible values (string, float64, bool, nil, []any, map[string]any).
func ToDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// ToValue converts any model value (typically a slice of models) into its
// generic JSON-compatible form, for use inside partial updates.
func ToValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}

// FromDocument decodes a generic document into out. The document ID is
// supplied separately because some stores keep it out of the body.
func FromDocument(id string, doc map[string]any, out any) error {
	body := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	if id != "" {
		body["id"] = id
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document %s: %w", id, err)
	}
	return nil
}
