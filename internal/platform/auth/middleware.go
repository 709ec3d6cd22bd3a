package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// DevUserID is the subject assigned to unauthenticated requests in
// development mode.
const DevUserID = "dev-user"

// Claims is the token payload. The subject becomes the user id recorded on
// crisis alerts, so tokens without one are rejected.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HS256. Standalone deployments and
	// tests only; production tokens come from the JWKS issuer.
	SigningKey []byte
}

var (
	errMissingToken = echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	errTokenFormat  = echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	errInvalidToken = echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
)

// verifier parses and checks one token. The context bounds any key fetch.
type verifier func(ctx context.Context, raw string) (*Claims, error)

func newVerifier(cfg JWTConfig) verifier {
	method := "RS256"
	var keys *KeySet
	if len(cfg.SigningKey) > 0 {
		method = "HS256"
	} else {
		keys = NewKeySet(cfg.JWKSURL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{method}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, raw string) (*Claims, error) {
		keyFunc := func(token *jwt.Token) (interface{}, error) {
			if keys == nil {
				return cfg.SigningKey, nil
			}
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return keys.Key(ctx, kid)
		}

		claims := &Claims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			return nil, err
		}
		if claims.Subject == "" {
			return nil, errors.New("token has no subject")
		}
		return claims, nil
	}
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errTokenFormat
	}
	return strings.TrimSpace(token), nil
}

// JWTMiddleware validates bearer tokens, HS256 with SigningKey when one is
// configured and RS256 against the JWKS endpoint otherwise. Public paths
// are let through untouched.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := newVerifier(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipAuth(c) {
				return next(c)
			}
			raw, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			ctx := c.Request().Context()
			claims, err := verify(ctx, raw)
			if err != nil {
				return errInvalidToken
			}
			c.SetRequest(c.Request().WithContext(withIdentity(ctx, claims.Subject, claims.Roles)))
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token run as DevUserID with the admin role; requests with a
// token are validated with cfg when a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		validated := jwtMW(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" && len(cfg.SigningKey) > 0 {
				return validated(c)
			}
			c.SetRequest(c.Request().WithContext(withIdentity(c.Request().Context(), DevUserID, []string{RoleAdmin})))
			return next(c)
		}
	}
}

func withIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
