package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/printcraft/printcraft/internal/api"
)

type contextKey string

const UserClaimsKey contextKey = "user_claims"

// Middleware rejects requests without a valid bearer token.
func Middleware(jwt *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := parseBearer(jwt, authHeader)
			if err != nil {
				api.HandleError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserClaimsKey, claims)))
		})
	}
}

// Optional attaches claims when a bearer token is present. A request with no
// Authorization header passes through anonymously; a present but invalid
// token is still rejected.
func Optional(jwt *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := parseBearer(jwt, authHeader)
			if err != nil {
				api.HandleError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserClaimsKey, claims)))
		})
	}
}

func parseBearer(jwt *JWTManager, header string) (*AccessClaims, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, api.ErrUnauthorized
	}
	claims, err := jwt.ValidateAccessToken(parts[1])
	if err != nil {
		return nil, api.ErrInvalidToken
	}
	return claims, nil
}

func GetUserClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*AccessClaims)
	return claims
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	claims := GetUserClaims(ctx)
	if claims == nil {
		return 0, false
	}
	return claims.UserID, true
}
