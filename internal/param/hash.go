package param

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing.
// Version suffix enables future algorithm migration.
const (
	DomainIdempotency = "torque/idempotency/v1"
	DomainAction      = "torque/action/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashObject canonicalizes an Object and hashes it under the given domain.
// Same logical object always hashes identically, independent of the
// iteration order of its keys.
func HashObject(domain string, obj Object) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("HashObject: failed to marshal: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}

// MustHashObject is like HashObject but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashObject(domain string, obj Object) string {
	h, err := HashObject(domain, obj)
	if err != nil {
		panic(err)
	}
	return h
}
