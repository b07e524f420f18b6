package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/openclaw/clasper/internal/domain/audit"
)

// StepHash computes one step's chain hash: sha256 over the previous step's
// hash, the step index and kind, and the canonical JSON of the step detail.
func StepHash(prev string, s Step) (string, error) {
	detail, err := audit.StableJSON(s.Detail)
	if err != nil {
		return "", fmt.Errorf("canonicalize step %d: %w", s.Index, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n%s\n%s", prev, s.Index, s.Kind, detail)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RootHash folds the step chain down to a single root value. An empty step
// list hashes to the empty string.
func RootHash(steps []Step) (string, error) {
	if len(steps) == 0 {
		return "", nil
	}
	prev := ""
	for _, s := range steps {
		h, err := StepHash(prev, s)
		if err != nil {
			return "", err
		}
		prev = h
	}
	return prev, nil
}

// VerifyIntegrity classifies a trace envelope's step chain:
//
//   - no declared root and no per-step hashes: unsigned
//   - per-step hashes without a root: unverified
//   - declared root matching the recomputed chain: verified
//   - declared root not matching: compromised
func VerifyIntegrity(env *TraceEnvelope) IntegrityStatus {
	if env.RootHash == "" {
		for _, s := range env.Steps {
			if s.Hash != "" {
				return IntegrityUnverified
			}
		}
		return IntegrityUnsigned
	}
	root, err := RootHash(env.Steps)
	if err != nil || root != env.RootHash {
		return IntegrityCompromised
	}
	return IntegrityVerified
}

// DeriveTrust maps integrity status plus violations onto trust status.
func DeriveTrust(integrity IntegrityStatus, violations []Violation) TrustStatus {
	switch integrity {
	case IntegrityCompromised:
		return TrustCompromised
	case IntegrityVerified:
		if len(violations) > 0 {
			return TrustVerifiedViolations
		}
		return TrustVerified
	default:
		return TrustUnverified
	}
}
