package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Resolver authenticates a websocket handshake and fails closed.
// The token is read from the session cookie, then the Authorization header,
// then the "token" query parameter.
type Resolver struct {
	log        *slog.Logger
	tokens     Tokens
	users      repositories.IUserRepository
	cookieName string
}

func NewResolver(log *slog.Logger, tokens Tokens, users repositories.IUserRepository, cookieName string) *Resolver {
	return &Resolver{log: log, tokens: tokens, users: users, cookieName: cookieName}
}

// Authenticate returns the identity behind the request's credential.
// The user record is loaded so the display name is known for the connection's lifetime.
func (r *Resolver) Authenticate(ctx context.Context, req *http.Request) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	token := r.tokenFromRequest(req)
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", errors.ErrUnauthenticated)
	}
	claims, err := r.tokens.Validate(token)
	if err != nil {
		r.log.Warn("Rejected handshake token", "remote", req.RemoteAddr, "error", err)
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	user, err := r.users.GetUser(domain.UserID(claims.UserID))
	if err != nil {
		r.log.Warn("Token subject not found", "user_id", claims.UserID, "error", err)
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}
	return user.Identity(), nil
}

func (r *Resolver) tokenFromRequest(req *http.Request) string {
	if req == nil {
		return ""
	}
	if r.cookieName != "" {
		if cookie, err := req.Cookie(r.cookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}
	if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(req.URL.Query().Get("token"))
}
