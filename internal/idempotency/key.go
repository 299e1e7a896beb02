package idempotency

import (
	"fmt"

	"github.com/torqueflow/torque/internal/param"
)

// Request identifies one logical action request. Two requests with the
// same fields are the same action, no matter how many times the
// triggering signal was delivered.
type Request struct {
	SignalID string
	Action   string
	Target   string
	Params   param.Object
}

// Key derives the deterministic idempotency key for a request.
//
// The key is SHA-256 over the domain-separated canonical JSON of
// (signal_id, action, target, params). Canonicalization sorts object
// keys, so parameter bags built in different orders hash identically.
// This derivation is a published contract: changing it invalidates
// every outstanding cached result.
func Key(req Request) (string, error) {
	params := req.Params
	if params == nil {
		params = param.Object{}
	}
	obj := param.Object{
		"signal_id": param.String(req.SignalID),
		"action":    param.String(req.Action),
		"target":    param.String(req.Target),
		"params":    params,
	}
	key, err := param.HashObject(param.DomainIdempotency, obj)
	if err != nil {
		return "", fmt.Errorf("derive idempotency key: %w", err)
	}
	return key, nil
}
