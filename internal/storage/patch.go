package storage

import (
	"fmt"
	"slices"
)

// ArrayUnion is an update value that adds elements to an array field without
// replacing concurrent additions made by other writers. Elements already
// present are skipped.
type ArrayUnion []any

// Union builds an ArrayUnion of values.
func Union(values ...any) ArrayUnion {
	return ArrayUnion(values)
}

// Merge returns a copy of doc with patch applied: top-level fields are
// replaced, ArrayUnion values are merged into the existing array.
func Merge(doc, patch Document) Document {
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		if u, ok := v.(ArrayUnion); ok {
			existing, _ := out[k].([]any)
			merged := slices.Clone(existing)
			for _, e := range u {
				e = cloneValue(normalize(e))
				if !slices.ContainsFunc(merged, func(x any) bool { return valuesEqual(x, e) }) {
					merged = append(merged, e)
				}
			}
			if merged == nil {
				merged = []any{}
			}
			out[k] = merged
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Resolve turns a document meant for Set into a plain body: ArrayUnion
// values become ordinary arrays.
func Resolve(doc Document) Document {
	return Merge(nil, doc)
}

// ValidateWrites checks a batch before any backend touches it.
func ValidateWrites(writes []WriteOp) error {
	for i, w := range writes {
		if w.Collection == "" || w.ID == "" {
			return fmt.Errorf("write %d: collection and id required", i)
		}
		switch w.Kind {
		case WriteSet, WriteUpdate:
		default:
			return fmt.Errorf("write %d: unsupported kind %q", i, w.Kind)
		}
	}
	return nil
}

// Clone deep-copies a document so that callers never share maps or slices
// with a backend.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any(Clone(Document(x)))
	case Document:
		return map[string]any(Clone(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case ArrayUnion:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return normalize(v)
}
