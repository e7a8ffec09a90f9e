package httpapi

import (
	"net/http"
	"time"

	authcore "github.com/cmskit/authcore"
	"github.com/cmskit/authcore/middleware"
)

// RefreshCookie is the cookie carrying the opaque refresh token. Its
// path is scoped to /auth so browsers only attach it where it is needed.
const RefreshCookie = "refresh_token"

func refreshCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(RefreshCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, tokens authcore.TokenPair) {
	cfg := h.engine.Config()
	sameSite := sameSiteMode(cfg.CookieSameSite)
	secure := cfg.Environment == authcore.EnvProduction

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    tokens.Access,
		Path:     "/",
		Expires:  tokens.AccessExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    tokens.Refresh,
		Path:     "/auth",
		Expires:  tokens.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	cfg := h.engine.Config()
	sameSite := sameSiteMode(cfg.CookieSameSite)
	secure := cfg.Environment == authcore.EnvProduction
	expired := time.Unix(0, 0)

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    "",
		Path:     "/",
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/auth",
		Expires:  expired,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
