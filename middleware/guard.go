package middleware

import (
	"net/http"
	"strings"

	authcore "github.com/cmskit/authcore"
)

// AccessCookie is the cookie carrying the access token.
const AccessCookie = "access_token"

// Guard rejects requests without a valid access token. The cookie is
// authoritative; the Authorization bearer header is accepted as a
// fallback when no cookie is present. On success the verified identity
// is attached to the request context; every failure cause produces the
// same 401 body.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := accessToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			identity, err := engine.Validate(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := authcore.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid or expired token"}`))
}
