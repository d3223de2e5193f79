package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/pkg/api"
)

const subscribeTimeout = 10 * time.Second

// HandleSubscribe returns an HTTP handler that authenticates the caller,
// upgrades to WebSocket, reads one api.SubscribeRequest and then streams
// api.SnapshotFrame frames for that query until either side closes.
//
// The token comes from the Authorization header, or from the "token" query
// parameter for clients that cannot set headers.
func HandleSubscribe(hub *Hub, store storage.Store, jwtManager *auth.JWTManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if errors.Is(err, auth.ErrMissingToken) {
			token, err = r.URL.Query().Get("token"), nil
		}
		if err != nil || token == "" {
			http.Error(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		claims, err := jwtManager.Validate(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // Allow connections from any origin (native clients)
		})
		if err != nil {
			hub.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()

		q, err := readSubscribe(ctx, conn)
		if err != nil {
			hub.logger.Debug("Rejected subscription", "user_id", claims.UserID, "error", err)
			conn.Close(ws.StatusPolicyViolation, err.Error())
			return
		}

		client := NewClient(hub, conn, claims.UserID)
		sub, err := store.Subscribe(ctx, q, func(s storage.Snapshot) {
			frame, err := json.Marshal(api.SnapshotFrame{Records: s.Records})
			if err != nil {
				hub.logger.Error("Encode snapshot failed", "query", q.String(), "error", err)
				return
			}
			client.Push(frame)
		})
		if err != nil {
			hub.logger.Error("Subscribe failed", "query", q.String(), "error", err)
			conn.Close(ws.StatusInternalError, "subscribe failed")
			return
		}
		defer sub.Close()

		hub.logger.Debug("Subscription opened", "user_id", claims.UserID, "query", q.String())
		client.Run(ctx)
		hub.logger.Debug("Subscription closed", "user_id", claims.UserID, "query", q.String())
	}
}

func readSubscribe(ctx context.Context, conn *ws.Conn) (storage.Query, error) {
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	var req api.SubscribeRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		return storage.Query{}, err
	}
	if err := req.Query.Validate(); err != nil {
		return storage.Query{}, err
	}
	if strings.HasPrefix(req.Query.Collection, "_") {
		return storage.Query{}, errors.New("collection is not accessible")
	}
	return req.Query, nil
}
