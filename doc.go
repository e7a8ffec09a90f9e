// Package authcore is a credential-trust and abuse-control engine: argon2id
// password verification with timing-attack defenses, stateless HS256 access
// tokens, rotating fingerprint-bound refresh tokens with theft detection,
// single-use password-reset tokens, and a sliding-window rate limiter that
// degrades from a shared Redis store to an in-process one.
//
// Account persistence is injected through the AccountStore interface; token
// and limiter state lives in Redis. Construct an Engine with the Builder:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithAccountStore(store).
//		WithSender(sender).
//		Build()
package authcore
