// Package stores holds the Redis-backed token stores: rotating refresh
// token chains and single-use password-reset tokens. Both stores persist
// only SHA-256 hashes of opaque secrets and run their state transitions
// under WATCH transactions so concurrent presentations of one secret
// resolve to exactly one winner.
package stores
