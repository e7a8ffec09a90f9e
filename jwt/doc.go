// Package jwt is the stateless access-token codec: short-lived HS256-signed
// tokens carrying account id, email, and role.
//
// Validation fails closed. Signature mismatch, malformed structure, missing
// expiry, and expiry itself all surface as the single ErrTokenInvalid so
// that callers (and attackers probing the API) cannot distinguish failure
// causes. Revocation of access tokens is achieved solely through their
// short expiry window.
package jwt
