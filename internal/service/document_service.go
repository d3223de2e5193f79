package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/internal/middleware"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/pkg/api"
)

var errPrivateCollection = errors.New("collection is not accessible")

// DocumentService implements the Connect DocumentService on top of a
// storage.Store. It holds no domain rules: any signed-in caller may read and
// write any public collection.
type DocumentService struct {
	store  storage.Store
	logger *slog.Logger
}

// NewDocumentService creates a new DocumentService with the given storage backend.
func NewDocumentService(store storage.Store, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{store: store, logger: logger}
}

// Mount registers the service's procedures on mux.
func (s *DocumentService) Mount(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(api.GetProcedure, connect.NewUnaryHandler(api.GetProcedure, s.Get, opts...))
	mux.Handle(api.QueryProcedure, connect.NewUnaryHandler(api.QueryProcedure, s.Query, opts...))
	mux.Handle(api.CommitProcedure, connect.NewUnaryHandler(api.CommitProcedure, s.Commit, opts...))
}

// Get retrieves a document by collection and ID.
func (s *DocumentService) Get(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	collection, id, err := api.DecodeGetRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	doc, err := s.store.Get(ctx, collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		s.logger.Error("Get failed", "collection", collection, "id", id, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	msg, err := api.EncodeGetResponse(doc)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Query returns the documents matching a query.
func (s *DocumentService) Query(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	q, err := api.DecodeQuery(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := checkCollection(q.Collection); err != nil {
		return nil, err
	}

	records, err := s.store.Query(ctx, q)
	if err != nil {
		s.logger.Error("Query failed", "query", q.String(), "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	msg, err := api.EncodeRecords(records)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Commit applies a batch of writes atomically.
func (s *DocumentService) Commit(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	writes, err := api.DecodeWrites(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	for _, w := range writes {
		if err := checkCollection(w.Collection); err != nil {
			return nil, err
		}
	}

	if err := s.store.Commit(ctx, writes); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		s.logger.Error("Commit failed", "writes", len(writes), "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.Debug("Commit applied",
		"writes", len(writes),
		"collections", storage.Collections(writes),
		"user_id", middleware.GetUserID(ctx),
	)

	msg, err := structpb.NewStruct(nil)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// checkCollection rejects collections reserved for the server.
func checkCollection(name string) error {
	if strings.HasPrefix(name, "_") {
		return connect.NewError(connect.CodePermissionDenied, fmt.Errorf("%s: %w", name, errPrivateCollection))
	}
	return nil
}
