// Package grpc authenticates gRPC requests with authmux access tokens
// carried in the standard authorization metadata entry.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/authmux/authmux"
)

type contextKey string

const userIDKey contextKey = "authmux.grpc.userId"

// UserIDFromContext returns the authenticated user id, or empty when the
// request carried no valid token.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// IsAuthenticated reports whether the context carries an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	Issuer *authmux.TokenIssuer

	// RequireAuth when true rejects requests without a valid access token.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods don't require auth even when RequireAuth is true.
	// Keys are full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config requiring auth for all methods
// except the listed public ones.
func NewInterceptorConfig(issuer *authmux.TokenIssuer, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Issuer:        issuer,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// UnaryAuthInterceptor returns a unary interceptor that validates the
// bearer access token and places the subject in the handler context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns the stream counterpart of
// UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	userID := ""
	if token := bearerFromMetadata(ctx); token != "" {
		id, err := c.Issuer.VerifyAccess(token)
		if err == nil {
			userID = id
		}
	}

	if c.RequireAuth && !c.PublicMethods[fullMethod] && userID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	return ctx, nil
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	parts := strings.SplitN(values[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// wrappedStream overrides the stream context so handlers see the
// authenticated user.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

// TokenToOutgoingContext attaches an access token to an outgoing call, for
// service-to-service hops that forward the caller's identity.
func TokenToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+accessToken)
}
