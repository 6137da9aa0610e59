package authmux

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes.
const (
	TokenExpiryAccess  = 15 * time.Minute
	TokenExpiryRefresh = 7 * 24 * time.Hour
)

// TokenPair is the issuance response: an access token plus a refresh token,
// both opaque signed strings with embedded expiry.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthRule gates token issuance for a resolved user. The default rule
// requires the user to be active.
type AuthRule func(user *User) bool

// DefaultAuthRule allows active users only.
func DefaultAuthRule(user *User) bool {
	return user != nil && user.IsActive
}

// TokenIssuer mints and validates JWT access/refresh pairs. Refresh, verify
// and blacklist are delegated lifecycle transitions on the refresh token's
// jti; the access token carries no server-side state.
type TokenIssuer struct {
	SecretKey string
	Issuer    string
	Audience  string

	AccessTokenExpiry  time.Duration // defaults to 15 minutes
	RefreshTokenExpiry time.Duration // defaults to 7 days

	// Rule must hold for issuance. Defaults to DefaultAuthRule.
	Rule AuthRule

	// UpdateLastLogin records issuance time on the user, best-effort.
	UpdateLastLogin bool
	Users           UserStore

	// Blacklist enables the blacklist endpoint and refresh rotation.
	// Nil means the blacklist feature is not installed.
	Blacklist BlacklistStore
}

// EnsureDefaults fills zero values with usable defaults.
func (t *TokenIssuer) EnsureDefaults() *TokenIssuer {
	if t.AccessTokenExpiry <= 0 {
		t.AccessTokenExpiry = TokenExpiryAccess
	}
	if t.RefreshTokenExpiry <= 0 {
		t.RefreshTokenExpiry = TokenExpiryRefresh
	}
	if t.Rule == nil {
		t.Rule = DefaultAuthRule
	}
	return t
}

// Issue mints a token pair for an already-resolved user. The configured
// rule must hold; an inactive user never produces a token string. The
// last-login write is best-effort and never fails the issuance.
func (t *TokenIssuer) Issue(ctx context.Context, user *User) (*TokenPair, error) {
	t.EnsureDefaults()
	if !t.Rule(user) {
		return nil, ErrAuthenticationFailed
	}

	access, err := t.signToken(user.ID, "access", t.AccessTokenExpiry, "")
	if err != nil {
		return nil, err
	}
	refresh, err := t.signToken(user.ID, "refresh", t.RefreshTokenExpiry, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if t.UpdateLastLogin && t.Users != nil {
		now := time.Now().UTC()
		user.LastLogin = &now
		if err := t.Users.SaveUser(ctx, user); err != nil {
			slog.Warn("failed to record last login", "user", user.ID, "err", err)
		}
	}

	return &TokenPair{
		Token:        access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.AccessTokenExpiry.Seconds()),
	}, nil
}

// Refresh validates a refresh token and mints a new pair. With a blacklist
// store installed the consumed token is blacklisted (rotation); without
// one, the old refresh token stays valid until expiry.
func (t *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	t.EnsureDefaults()
	claims, err := t.parse(refreshToken, "refresh")
	if err != nil {
		return nil, err
	}

	jti, _ := claims["jti"].(string)
	if err := t.checkBlacklist(ctx, jti); err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrAuthenticationFailed
	}

	if t.Blacklist != nil && jti != "" {
		exp, err := claims.GetExpirationTime()
		if err == nil && exp != nil {
			if err := t.Blacklist.BlacklistJTI(ctx, jti, exp.Time); err != nil {
				return nil, err
			}
		}
	}

	access, err := t.signToken(sub, "access", t.AccessTokenExpiry, "")
	if err != nil {
		return nil, err
	}
	refresh, err := t.signToken(sub, "refresh", t.RefreshTokenExpiry, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		Token:        access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.AccessTokenExpiry.Seconds()),
	}, nil
}

// Verify validates a token of either type and returns the subject. Refresh
// tokens are additionally checked against the blacklist.
func (t *TokenIssuer) Verify(ctx context.Context, tokenString string) (string, error) {
	t.EnsureDefaults()
	claims, err := t.parse(tokenString, "")
	if err != nil {
		return "", err
	}
	if typ, _ := claims["type"].(string); typ == "refresh" {
		jti, _ := claims["jti"].(string)
		if err := t.checkBlacklist(ctx, jti); err != nil {
			return "", err
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrAuthenticationFailed
	}
	return sub, nil
}

// VerifyAccess validates an access token specifically; used by the bearer
// middleware and the grpc interceptor.
func (t *TokenIssuer) VerifyAccess(tokenString string) (string, error) {
	t.EnsureDefaults()
	claims, err := t.parse(tokenString, "access")
	if err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrAuthenticationFailed
	}
	return sub, nil
}

// BlacklistToken records a refresh token's jti until the token would have
// expired. Without a blacklist store the feature is not installed and the
// call reports ErrNotImplemented.
func (t *TokenIssuer) BlacklistToken(ctx context.Context, refreshToken string) error {
	t.EnsureDefaults()
	if t.Blacklist == nil {
		return ErrNotImplemented
	}
	claims, err := t.parse(refreshToken, "refresh")
	if err != nil {
		return err
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return ErrAuthenticationFailed
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ErrAuthenticationFailed
	}
	return t.Blacklist.BlacklistJTI(ctx, jti, exp.Time)
}

func (t *TokenIssuer) checkBlacklist(ctx context.Context, jti string) error {
	if t.Blacklist == nil || jti == "" {
		return nil
	}
	listed, err := t.Blacklist.IsBlacklisted(ctx, jti)
	if err != nil {
		return err
	}
	if listed {
		return ErrTokenBlacklisted
	}
	return nil
}

func (t *TokenIssuer) signToken(userID, tokenType string, expiry time.Duration, jti string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": tokenType,
		"iat":  now.Unix(),
		"exp":  now.Add(expiry).Unix(),
	}
	if t.Issuer != "" {
		claims["iss"] = t.Issuer
	}
	if t.Audience != "" {
		claims["aud"] = t.Audience
	}
	if jti != "" {
		claims["jti"] = jti
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parse validates signature, expiry, the configured issuer and audience,
// and (when wantType is non-empty) the embedded token type.
func (t *TokenIssuer) parse(tokenString, wantType string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(t.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrAuthenticationFailed
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	if t.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != t.Issuer {
			return nil, ErrAuthenticationFailed
		}
	}
	if t.Audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return nil, ErrAuthenticationFailed
		}
		found := false
		for _, a := range aud {
			if a == t.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrAuthenticationFailed
		}
	}
	if wantType != "" {
		if typ, _ := claims["type"].(string); typ != wantType {
			return nil, ErrAuthenticationFailed
		}
	}
	return claims, nil
}
