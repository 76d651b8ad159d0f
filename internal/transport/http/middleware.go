// internal/transport/http/middleware.go
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/NoimitLi/smart-campus-server/internal/token"
	"github.com/NoimitLi/smart-campus-server/pkg/ctxkeys"
)

// TokenVerifier — минимальный контракт проверки access-токена.
type TokenVerifier interface {
	VerifyAccess(raw string) (*token.Claims, error)
}

type Middleware struct {
	verifier TokenVerifier
}

func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// JWT требует валидный access-токен в Authorization: Bearer и кладёт
// claims в контекст запроса.
func (m *Middleware) JWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			Unauthorized(w, "invalid or missing access token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxkeys.UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, ctxkeys.RoleKey, claims.RoleID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*token.Claims, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header || raw == "" {
		return nil, errMissingToken
	}
	return m.verifier.VerifyAccess(raw)
}

var errMissingToken = errors.New("missing bearer token")

// UserID достаёт id аутентифицированного пользователя из контекста.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxkeys.UserIDKey).(string)
	return id, ok && id != ""
}
