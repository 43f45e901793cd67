package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/rentown/internal/platform/errors"
)

type contextKey string

const callerIDKey contextKey = "caller_id"

// Authenticator validates bearer tokens and resolves the caller identity.
//
// The token subject is the caller id the engine compares against the
// agreement parties. Tokens are HMAC-signed with a shared secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator with the given signing secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller id on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID, err := a.callerFromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey, callerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) callerFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.New(apperrors.CodeUnauthorized, "invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return "", apperrors.Wrap(apperrors.CodeUnauthorized, "invalid token", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "token subject is required")
	}
	return subject, nil
}

// CallerID returns the authenticated caller id from the request context.
func CallerID(ctx context.Context) string {
	callerID, _ := ctx.Value(callerIDKey).(string)
	return callerID
}
