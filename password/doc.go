// Package password implements argon2id credential hashing and the password
// strength policy.
//
// The Verifier is the timing-sensitive core of login: it substitutes a
// pre-computed dummy hash whenever the stored hash is missing or malformed
// so that every verification performs the same key derivation work. Do not
// add early returns to VerifyStored; they reintroduce the account-existence
// timing oracle this package exists to remove.
package password
