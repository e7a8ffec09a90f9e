// Package rate implements sliding-window rate limiting with progressive
// blocking. Counters live in Redis so limits hold across instances; a
// local in-process store takes over while Redis is unreachable.
package rate
