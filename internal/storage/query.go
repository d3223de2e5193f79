package storage

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Op is a filter operator.
type Op string

const (
	// OpEqual matches documents whose field equals the value.
	OpEqual Op = "=="
	// OpArrayContains matches documents whose array field contains the value.
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Order sorts query results by a field.
type Order struct {
	Field      string `json:"field"`
	Descending bool   `json:"desc,omitempty"`
}

// Query selects documents from one collection.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    *Order   `json:"orderBy,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Collection starts a query over all documents of a collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

// Where returns a copy of q with an added filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderByDesc returns a copy of q sorted by field, largest first.
func (q Query) OrderByDesc(field string) Query {
	q.OrderBy = &Order{Field: field, Descending: true}
	return q
}

// OrderByAsc returns a copy of q sorted by field, smallest first.
func (q Query) OrderByAsc(field string) Query {
	q.OrderBy = &Order{Field: field}
	return q
}

// WithLimit returns a copy of q returning at most n documents.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Validate checks that q is well formed.
func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.New("query: collection required")
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return errors.New("query: filter field required")
		}
		switch f.Op {
		case OpEqual, OpArrayContains:
		default:
			return fmt.Errorf("query: unsupported operator %q", f.Op)
		}
	}
	if q.OrderBy != nil && q.OrderBy.Field == "" {
		return errors.New("query: order field required")
	}
	if q.Limit < 0 {
		return errors.New("query: limit must not be negative")
	}
	return nil
}

// String renders q for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	if q.OrderBy != nil {
		dir := "asc"
		if q.OrderBy.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// Matches reports whether doc satisfies every filter of q.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		v, ok := lookup(doc, f.Field)
		switch f.Op {
		case OpEqual:
			if !ok || !valuesEqual(v, f.Value) {
				return false
			}
		case OpArrayContains:
			arr, isArr := v.([]any)
			if !ok || !isArr {
				return false
			}
			if !slices.ContainsFunc(arr, func(e any) bool { return valuesEqual(e, f.Value) }) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, orders and limits records according to q. Ties in the sort
// order, and unordered queries, fall back to ascending ID so results are
// deterministic across backends. The input slice is not modified.
func (q Query) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r.Data) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		if q.OrderBy != nil {
			av, _ := lookup(a.Data, q.OrderBy.Field)
			bv, _ := lookup(b.Data, q.OrderBy.Field)
			c := compareValues(av, bv)
			if q.OrderBy.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// lookup resolves a dotted field path inside a document.
func lookup(doc Document, field string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(field, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// normalize maps numeric types onto float64 and named documents onto plain
// maps so that values coming from different decoders compare equal.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case Document:
		return map[string]any(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func valuesEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false
		}
		if at, bt, ok := parseTimes(as, bs); ok {
			return at.Equal(bt)
		}
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func parseTimes(a, b string) (time.Time, time.Time, bool) {
	at, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	bt, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return at, bt, true
}

// typeRank orders values of different kinds: missing/nil < bool < number <
// string < everything else.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func compareValues(a, b any) int {
	a, b = normalize(a), normalize(b)
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		return cmp.Compare(av, b.(float64))
	case string:
		bv := b.(string)
		// Timestamps are stored as RFC 3339 text, which does not sort
		// lexically when fractional seconds differ in length.
		if at, bt, ok := parseTimes(av, bv); ok {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	}
	return 0
}
