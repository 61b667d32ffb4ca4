// Package ratelimit is the HTTP adapter for fixed-window admission control.
//
// domain holds policies, keys and decisions; application picks the counter
// (shared store first, local fallback on failure); infra implements the
// counters.
package ratelimit
