// Package param defines the constrained value model for action
// parameter bags and results, plus the canonical JSON serialization
// (RFC 8785) and domain-separated hashing built on it.
//
// Canonical serialization is load-bearing: the idempotency key is a
// hash of canonical bytes, so two logically identical parameter bags
// must always produce the same bytes regardless of map iteration
// order, string normalization form, or how the bag was constructed.
package param
