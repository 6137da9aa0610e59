package authmux

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
)

type contextKey string

const userContextKey contextKey = "authmux.user"

// ContextWithUser returns a context carrying the authenticated user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, or nil if the request was
// not authenticated.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// BearerAuth loads the user identified by an Authorization bearer access
// token into the request context. With Required set, requests without a
// valid token are rejected; otherwise they pass through unauthenticated.
type BearerAuth struct {
	Issuer   *TokenIssuer
	Users    UserStore
	Required bool

	// Session, when set, records the authenticated user id so session-aware
	// hosts can piggyback on the bearer authentication. The host must wrap
	// the handler in Session.LoadAndSave; scs panics on a request whose
	// context carries no session data.
	Session *scs.SessionManager
}

// Wrap returns the middleware handler.
func (m *BearerAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if m.Required {
				writeError(w, ErrAuthenticationFailed)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.Issuer.VerifyAccess(token)
		if err != nil {
			if m.Required {
				writeError(w, ErrAuthenticationFailed)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.Users.GetUserByID(r.Context(), userID)
		if err != nil {
			slog.Warn("bearer token subject not found", "user", userID, "err", err)
			if m.Required {
				writeError(w, ErrAuthenticationFailed)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if m.Session != nil {
			m.Session.Put(r.Context(), "userId", user.ID)
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
