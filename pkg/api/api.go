// Package api defines the CommonBox document-store wire protocol shared by
// the server and the remote client.
//
// Unary calls are Connect RPCs whose request and response messages are
// google.protobuf.Struct values. Realtime subscriptions run over a WebSocket:
// the client sends a SubscribeRequest frame and the server pushes
// SnapshotFrame frames.
package api

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/internal/storage"
)

const (
	DocumentServiceName = "commonbox.v1.DocumentService"
	AuthServiceName     = "commonbox.v1.AuthService"

	GetProcedure    = "/" + DocumentServiceName + "/Get"
	QueryProcedure  = "/" + DocumentServiceName + "/Query"
	CommitProcedure = "/" + DocumentServiceName + "/Commit"

	SignUpProcedure = "/" + AuthServiceName + "/SignUp"
	SignInProcedure = "/" + AuthServiceName + "/SignIn"
	WhoAmIProcedure = "/" + AuthServiceName + "/WhoAmI"

	// SubscribePath is the WebSocket endpoint for realtime queries.
	SubscribePath = "/v1/subscribe"

	// ArrayUnionKey marks an array-union value inside an update patch.
	ArrayUnionKey = "$arrayUnion"
)

// SubscribeRequest is the first frame a client sends on a subscription socket.
type SubscribeRequest struct {
	Query storage.Query `json:"query"`
}

// SnapshotFrame is pushed by the server whenever the subscribed query's
// result may have changed.
type SnapshotFrame struct {
	Records []storage.Record `json:"records"`
	Error   string           `json:"error,omitempty"`
}

// Session is returned by SignUp and SignIn.
type Session struct {
	Token       string
	UserID      string
	Email       string
	DisplayName string
}

var errMalformed = errors.New("malformed message")

// EncodeDocument converts a document to a Struct. ArrayUnion values are
// wrapped as {"$arrayUnion": [...]}.
func EncodeDocument(doc storage.Document) (*structpb.Struct, error) {
	m, err := toWireMap(doc)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// DecodeDocument converts a Struct back to a document, restoring ArrayUnion
// markers.
func DecodeDocument(s *structpb.Struct) storage.Document {
	if s == nil {
		return storage.Document{}
	}
	return storage.Document(fromWireMap(s.AsMap()))
}

// EncodeGetRequest builds the Get request message.
func EncodeGetRequest(collection, id string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"collection": collection, "id": id})
}

// DecodeGetRequest parses a Get request message.
func DecodeGetRequest(s *structpb.Struct) (collection, id string, err error) {
	m := s.AsMap()
	collection, _ = m["collection"].(string)
	id, _ = m["id"].(string)
	if collection == "" || id == "" {
		return "", "", fmt.Errorf("%w: collection and id required", errMalformed)
	}
	return collection, id, nil
}

// EncodeGetResponse wraps a document in the Get response message.
func EncodeGetResponse(doc storage.Document) (*structpb.Struct, error) {
	m, err := toWireMap(doc)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"data": m})
}

// DecodeGetResponse extracts the document from a Get response message.
func DecodeGetResponse(s *structpb.Struct) storage.Document {
	data, _ := s.AsMap()["data"].(map[string]any)
	return storage.Document(fromWireMap(data))
}

// EncodeQuery builds the Query request message.
func EncodeQuery(q storage.Query) (*structpb.Struct, error) {
	m, err := queryToMap(q)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"query": m})
}

// DecodeQuery parses a Query request message.
func DecodeQuery(s *structpb.Struct) (storage.Query, error) {
	m, _ := s.AsMap()["query"].(map[string]any)
	if m == nil {
		return storage.Query{}, fmt.Errorf("%w: query required", errMalformed)
	}
	q := QueryFromMap(m)
	if err := q.Validate(); err != nil {
		return storage.Query{}, err
	}
	return q, nil
}

// EncodeRecords builds the Query response message.
func EncodeRecords(records []storage.Record) (*structpb.Struct, error) {
	list, err := recordsToList(records)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"records": list})
}

// DecodeRecords parses the Query response message.
func DecodeRecords(s *structpb.Struct) []storage.Record {
	list, _ := s.AsMap()["records"].([]any)
	return RecordsFromList(list)
}

// EncodeWrites builds the Commit request message.
func EncodeWrites(writes []storage.WriteOp) (*structpb.Struct, error) {
	list := make([]any, 0, len(writes))
	for _, w := range writes {
		data, err := toWireMap(w.Data)
		if err != nil {
			return nil, fmt.Errorf("encode write %s/%s: %w", w.Collection, w.ID, err)
		}
		list = append(list, map[string]any{
			"kind":       string(w.Kind),
			"collection": w.Collection,
			"id":         w.ID,
			"data":       data,
		})
	}
	return structpb.NewStruct(map[string]any{"writes": list})
}

// DecodeWrites parses the Commit request message.
func DecodeWrites(s *structpb.Struct) ([]storage.WriteOp, error) {
	list, _ := s.AsMap()["writes"].([]any)
	writes := make([]storage.WriteOp, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: write %d is not an object", errMalformed, i)
		}
		kind, _ := m["kind"].(string)
		collection, _ := m["collection"].(string)
		id, _ := m["id"].(string)
		data, _ := m["data"].(map[string]any)
		writes = append(writes, storage.WriteOp{
			Kind:       storage.WriteKind(kind),
			Collection: collection,
			ID:         id,
			Data:       storage.Document(fromWireMap(data)),
		})
	}
	if err := storage.ValidateWrites(writes); err != nil {
		return nil, err
	}
	return writes, nil
}

// EncodeCredentials builds a SignUp or SignIn request message.
func EncodeCredentials(email, password, displayName string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	})
}

// DecodeCredentials parses a SignUp or SignIn request message.
func DecodeCredentials(s *structpb.Struct) (email, password, displayName string) {
	m := s.AsMap()
	email, _ = m["email"].(string)
	password, _ = m["password"].(string)
	displayName, _ = m["displayName"].(string)
	return email, password, displayName
}

// EncodeSession builds an auth response message. Token may be empty for
// WhoAmI.
func EncodeSession(sess Session) (*structpb.Struct, error) {
	m := map[string]any{
		"identity": map[string]any{
			"userId":      sess.UserID,
			"email":       sess.Email,
			"displayName": sess.DisplayName,
		},
	}
	if sess.Token != "" {
		m["token"] = sess.Token
	}
	return structpb.NewStruct(m)
}

// DecodeSession parses an auth response message.
func DecodeSession(s *structpb.Struct) (Session, error) {
	m := s.AsMap()
	ident, _ := m["identity"].(map[string]any)
	var sess Session
	sess.Token, _ = m["token"].(string)
	sess.UserID, _ = ident["userId"].(string)
	sess.Email, _ = ident["email"].(string)
	sess.DisplayName, _ = ident["displayName"].(string)
	if sess.UserID == "" {
		return Session{}, fmt.Errorf("%w: identity missing", errMalformed)
	}
	return sess, nil
}

// QueryFromMap builds a query from its JSON-object form.
func QueryFromMap(m map[string]any) storage.Query {
	var q storage.Query
	q.Collection, _ = m["collection"].(string)
	if filters, ok := m["filters"].([]any); ok {
		for _, f := range filters {
			fm, _ := f.(map[string]any)
			field, _ := fm["field"].(string)
			op, _ := fm["op"].(string)
			q.Filters = append(q.Filters, storage.Filter{Field: field, Op: storage.Op(op), Value: fm["value"]})
		}
	}
	if order, ok := m["orderBy"].(map[string]any); ok {
		field, _ := order["field"].(string)
		desc, _ := order["desc"].(bool)
		q.OrderBy = &storage.Order{Field: field, Descending: desc}
	}
	if limit, ok := m["limit"].(float64); ok {
		q.Limit = int(limit)
	}
	return q
}

// RecordsFromList parses a list of {"id","data"} objects.
func RecordsFromList(list []any) []storage.Record {
	records := make([]storage.Record, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]any)
		id, _ := m["id"].(string)
		data, _ := m["data"].(map[string]any)
		records = append(records, storage.Record{ID: id, Data: storage.Document(fromWireMap(data))})
	}
	return records
}

func queryToMap(q storage.Query) (map[string]any, error) {
	m := map[string]any{"collection": q.Collection}
	if len(q.Filters) > 0 {
		filters := make([]any, 0, len(q.Filters))
		for _, f := range q.Filters {
			v, err := toWire(f.Value)
			if err != nil {
				return nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
			}
			filters = append(filters, map[string]any{"field": f.Field, "op": string(f.Op), "value": v})
		}
		m["filters"] = filters
	}
	if q.OrderBy != nil {
		m["orderBy"] = map[string]any{"field": q.OrderBy.Field, "desc": q.OrderBy.Descending}
	}
	if q.Limit > 0 {
		m["limit"] = q.Limit
	}
	return m, nil
}

func recordsToList(records []storage.Record) ([]any, error) {
	list := make([]any, 0, len(records))
	for _, r := range records {
		data, err := toWireMap(r.Data)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		list = append(list, map[string]any{"id": r.ID, "data": data})
	}
	return list, nil
}

func toWireMap(doc map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		w, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = w
	}
	return out, nil
}

func toWire(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64, float32, int, int32, int64, uint32, uint64:
		return x, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case storage.ArrayUnion:
		list, err := toWire([]any(x))
		if err != nil {
			return nil, err
		}
		return map[string]any{ArrayUnionKey: list}, nil
	case storage.Document:
		return toWireMap(x)
	case map[string]any:
		return toWireMap(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			w, err := toWire(e)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func fromWireMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromWire(v)
	}
	return out
}

func fromWire(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if list, ok := x[ArrayUnionKey].([]any); ok && len(x) == 1 {
			out := make(storage.ArrayUnion, len(list))
			for i, e := range list {
				out[i] = fromWire(e)
			}
			return out
		}
		return fromWireMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromWire(e)
		}
		return out
	}
	return v
}
