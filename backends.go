package authmux

import (
	"context"
	"log/slog"
)

// Backend is a pluggable authentication strategy. Capabilities are optional
// interfaces: a backend that can resolve credentials implements
// Authenticator, one that can start a second-factor challenge implements
// ChallengeGenerator. The resolver checks for the capability it needs
// instead of assuming every backend supports everything.
type Backend interface {
	Name() string
}

// Authenticator resolves submitted identity+credential fields to a user.
// Returning (nil, nil) means "this backend cannot resolve these fields" and
// lets the chain continue; an error aborts the chain.
type Authenticator interface {
	Backend
	Authenticate(ctx context.Context, fields map[string]string) (*User, error)
}

// ChallengeGenerator starts a second-factor challenge (sends a code,
// prepares a TOTP prompt) for the user matching the submitted fields.
type ChallengeGenerator interface {
	Backend
	GenerateChallenge(ctx context.Context, fields map[string]string) (*User, error)
}

// Resolver walks an ordered backend chain. Order defines priority; the
// first backend to return a user short-circuits the rest.
type Resolver struct {
	Backends []Backend
}

// NewResolver builds a resolver over the given chain.
func NewResolver(backends ...Backend) *Resolver {
	return &Resolver{Backends: backends}
}

// stripBlanks removes empty values so a blank field is never treated as an
// identity or credential match attempt.
func stripBlanks(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		if k == FieldEmail {
			v = NormalizeEmail(v)
		}
		out[k] = v
	}
	return out
}

// Resolve runs the Authenticate capability across the chain.
//
// No backend resolves a user -> ErrAuthenticationFailed. No backend
// implements the capability at all -> ErrBackendNotFound, which callers can
// distinguish from a credential failure.
func (r *Resolver) Resolve(ctx context.Context, fields map[string]string) (*User, error) {
	fields = stripBlanks(fields)
	found := false
	for _, b := range r.Backends {
		auth, ok := b.(Authenticator)
		if !ok {
			continue
		}
		found = true
		user, err := auth.Authenticate(ctx, fields)
		if err != nil {
			// A backend error is not a mismatch; it propagates. Backends
			// signal "cannot resolve" by returning (nil, nil).
			slog.Warn("backend error during authenticate", "backend", b.Name(), "err", err)
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	if !found {
		return nil, ErrBackendNotFound
	}
	return nil, ErrAuthenticationFailed
}

// Challenge runs the GenerateChallenge capability across the chain with the
// same short-circuit and not-found semantics as Resolve.
func (r *Resolver) Challenge(ctx context.Context, fields map[string]string) (*User, error) {
	fields = stripBlanks(fields)
	found := false
	for _, b := range r.Backends {
		gen, ok := b.(ChallengeGenerator)
		if !ok {
			continue
		}
		found = true
		user, err := gen.GenerateChallenge(ctx, fields)
		if err != nil {
			slog.Warn("backend error during challenge", "backend", b.Name(), "err", err)
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	if !found {
		return nil, ErrBackendNotFound
	}
	return nil, ErrAuthenticationFailed
}
