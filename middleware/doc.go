// Package middleware translates HTTP semantics into engine calls: access
// token extraction and validation, identity injection into the request
// context, and per-policy rate limiting with X-RateLimit headers.
//
// This package makes no authentication decisions itself; pass or reject
// comes from Engine.Validate and the engine's rate limiter.
package middleware
