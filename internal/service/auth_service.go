package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/middleware"
	"github.com/mmynk/commonbox/pkg/api"
)

// AuthService implements the AuthService RPC interface.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		logger:        logger,
	}
}

// Mount registers the service's procedures on mux.
func (s *AuthService) Mount(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(api.SignUpProcedure, connect.NewUnaryHandler(api.SignUpProcedure, s.SignUp, opts...))
	mux.Handle(api.SignInProcedure, connect.NewUnaryHandler(api.SignInProcedure, s.SignIn, opts...))
	mux.Handle(api.WhoAmIProcedure, connect.NewUnaryHandler(api.WhoAmIProcedure, s.WhoAmI, opts...))
}

// SignUp creates a new account and returns a session token.
func (s *AuthService) SignUp(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	email, password, displayName := api.DecodeCredentials(req.Msg)
	s.logger.Info("SignUp request", "email", email)

	account, err := s.authenticator.Register(ctx, email, displayName, password)
	if err != nil {
		s.logger.Warn("Registration failed", "email", email, "error", err)
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			return nil, connect.NewError(connect.CodeAlreadyExists, err)
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail):
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.Info("Account registered", "user_id", account.ID, "email", account.Email)
	return s.session(account)
}

// SignIn authenticates an account and returns a session token.
func (s *AuthService) SignIn(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	email, password, _ := api.DecodeCredentials(req.Msg)
	s.logger.Info("SignIn request", "email", email)

	if email == "" || password == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, auth.ErrInvalidCredentials)
	}

	account, err := s.authenticator.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Warn("Login failed", "email", email, "error", err)
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidCredentials)
	}

	return s.session(account)
}

// WhoAmI returns the identity behind the caller's token.
func (s *AuthService) WhoAmI(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
	}

	account, err := s.authenticator.Lookup(ctx, userID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if account == nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
	}

	msg, err := api.EncodeSession(api.Session{
		UserID:      account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func (s *AuthService) session(account *auth.Account) (*connect.Response[structpb.Struct], error) {
	token, err := s.jwtManager.Generate(account)
	if err != nil {
		s.logger.Error("Failed to generate token", "user_id", account.ID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	msg, err := api.EncodeSession(api.Session{
		Token:       token,
		UserID:      account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
