package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const identityKey contextKey = "lab_identity"

// Claims are the token claims issued to hospital staff. Role, HospitalID and
// UserID are the values the hospital backend expects in its paths.
type Claims struct {
	jwt.RegisteredClaims
	Role       string   `json:"role"`
	Roles      []string `json:"roles"`
	HospitalID int      `json:"hospitalID"`
	UserID     int      `json:"userID"`
}

// Identity is the authenticated caller. Token is the raw bearer token, which
// is forwarded to the hospital backend.
type Identity struct {
	Subject    string
	Role       string
	Roles      []string
	HospitalID int
	UserID     int
	Token      string
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 tokens; development and tests only.
	SigningKey []byte
}

// JWTMiddleware authenticates the bearer token and stores the caller Identity
// on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var jwks *JWKSCache
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
	} else {
		jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSTTL)
	}
	keyFunc := func(ctx context.Context) jwt.Keyfunc {
		if jwks != nil {
			return jwks.keyFunc(ctx)
		}
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc(c.Request().Context()), opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.HospitalID == 0 || claims.UserID == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "token lacks hospital or user id")
			}

			id := Identity{
				Subject:    claims.Subject,
				Role:       claims.Role,
				Roles:      claims.Roles,
				HospitalID: claims.HospitalID,
				UserID:     claims.UserID,
				Token:      tokenStr,
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as the given
// identity. A bearer token, when present, is still forwarded.
func DevAuthMiddleware(dev Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := dev
			if tok, err := bearerToken(c.Request()); err == nil {
				id.Token = tok
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid authorization format")
	}
	return parts[1], nil
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// RolesFromContext returns the caller's roles, including the primary role.
func RolesFromContext(ctx context.Context) []string {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	roles := append([]string{}, id.Roles...)
	if id.Role != "" {
		roles = append(roles, id.Role)
	}
	return roles
}
