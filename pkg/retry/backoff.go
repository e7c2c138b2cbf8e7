// Package retry implements the C4 retry-loop support machinery: deterministic
// backoff for the LLM-gateway repair round-trip, and the fixed, policy-
// layered repair prompt template.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identifies one attempt's position in a request's retry
// sequence, the seed for its deterministic jitter.
type BackoffParams struct {
	RequestID    string
	CandidateID  string
	AttemptIndex int
}

// BackoffPolicy bounds the exponential backoff curve.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
}

// ComputeBackoff returns the delay before the LLM-gateway repair call for
// this attempt: base*2^attempt, capped at MaxMs, plus deterministic jitter
// seeded from the attempt's own identity so repeated runs of the same
// request produce the same backoff schedule. This gates only the repair
// round-trip to the LLM — sandbox retries within an attempt are immediate.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+deterministicJitter(params, policy)) * time.Millisecond
}

func deterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%s:%d", params.RequestID, params.CandidateID, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])

	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}
