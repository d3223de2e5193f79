package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/pkg/api"
)

// Ensure RemoteClient implements Collaborator
var _ Collaborator = (*RemoteClient)(nil)

// RemoteClient talks to the AuthService of a CommonBox server and keeps the
// session token for the document store client.
type RemoteClient struct {
	identityFeed

	signUp *connect.Client[structpb.Struct, structpb.Struct]
	signIn *connect.Client[structpb.Struct, structpb.Struct]
	whoAmI *connect.Client[structpb.Struct, structpb.Struct]

	mu    sync.Mutex
	token string
}

// NewRemoteClient creates an auth client for the server at baseURL.
func NewRemoteClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RemoteClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &RemoteClient{
		signUp: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+api.SignUpProcedure, opts...),
		signIn: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+api.SignInProcedure, opts...),
		whoAmI: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+api.WhoAmIProcedure, opts...),
	}
}

// Token returns the current session token, or "" when signed out.
func (c *RemoteClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *RemoteClient) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	return c.authenticate(ctx, c.signUp, email, password, displayName)
}

func (c *RemoteClient) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	return c.authenticate(ctx, c.signIn, email, password, "")
}

// SignOut forgets the token. Tokens are stateless, so the server is not
// contacted.
func (c *RemoteClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.publish(nil)
	return nil
}

// Resume restores a session from a previously issued token.
func (c *RemoteClient) Resume(ctx context.Context, token string) (*Identity, error) {
	msg, err := structpb.NewStruct(nil)
	if err != nil {
		return nil, err
	}
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)

	resp, err := c.whoAmI.CallUnary(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	sess, err := api.DecodeSession(resp.Msg)
	if err != nil {
		return nil, err
	}
	sess.Token = token
	return c.accept(sess), nil
}

func (c *RemoteClient) authenticate(ctx context.Context, client *connect.Client[structpb.Struct, structpb.Struct], email, password, displayName string) (*Identity, error) {
	msg, err := api.EncodeCredentials(email, password, displayName)
	if err != nil {
		return nil, err
	}
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, mapError(err)
	}
	sess, err := api.DecodeSession(resp.Msg)
	if err != nil {
		return nil, err
	}
	if sess.Token == "" {
		return nil, fmt.Errorf("server returned no token for %s", sess.UserID)
	}
	return c.accept(sess), nil
}

func (c *RemoteClient) accept(sess api.Session) *Identity {
	c.mu.Lock()
	c.token = sess.Token
	c.mu.Unlock()

	ident := &Identity{UserID: sess.UserID, Email: sess.Email, DisplayName: sess.DisplayName}
	c.publish(ident)
	return ident
}

// mapError turns Connect status codes back into this package's sentinels.
func mapError(err error) error {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code() {
	case connect.CodeAlreadyExists:
		return ErrEmailExists
	case connect.CodeUnauthenticated:
		if strings.Contains(ce.Message(), ErrInvalidToken.Error()) {
			return ErrInvalidToken
		}
		return ErrInvalidCredentials
	case connect.CodeInvalidArgument:
		switch ce.Message() {
		case ErrWeakPassword.Error():
			return ErrWeakPassword
		case ErrInvalidEmail.Error():
			return ErrInvalidEmail
		}
		return errors.New(ce.Message())
	}
	return err
}
