package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type identityContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP rate limiting and refresh-token fingerprinting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Together with
// the client IP it forms the fingerprint bound to refresh tokens.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithIdentity attaches a verified identity to ctx. The session middleware
// calls this after access-token validation.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the verified identity attached by the
// session middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}

	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
