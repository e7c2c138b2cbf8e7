// Package fingerprint computes and compares EnvironmentFingerprint tuples,
// the basis of the reproducibility gate that decides whether a run's ledger
// event may be written as behavioral rather than telemetry-only.
package fingerprint

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/bhagyabanghadai/dhi/pkg/canonicalize"
)

// EnvironmentFingerprint is the tuple hashed to produce FingerprintHash.
type EnvironmentFingerprint struct {
	ImageDigest       string            `json:"image_digest"`
	ToolchainVersions map[string]string `json:"toolchain_versions"`
	LockfileHashes    map[string]string `json:"lockfile_hashes"`
	CommandSetHash    string            `json:"command_set_hash"`
	EnvAllowlistHash  string            `json:"env_allowlist_hash"`
}

// Hash computes fingerprint_hash = H(image_digest || canonical(toolchain_versions)
// || canonical(lockfile_hashes) || command_set_hash || env_allowlist_hash) using
// the project's JCS canonicalizer feeding SHA-256. Pure and side-effect free.
func (e EnvironmentFingerprint) Hash() (string, error) {
	ordered := struct {
		ImageDigest       string            `json:"image_digest"`
		ToolchainVersions map[string]string `json:"toolchain_versions"`
		LockfileHashes    map[string]string `json:"lockfile_hashes"`
		CommandSetHash    string            `json:"command_set_hash"`
		EnvAllowlistHash  string            `json:"env_allowlist_hash"`
	}{
		ImageDigest:       e.ImageDigest,
		ToolchainVersions: e.ToolchainVersions,
		LockfileHashes:    e.LockfileHashes,
		CommandSetHash:    e.CommandSetHash,
		EnvAllowlistHash:  e.EnvAllowlistHash,
	}

	h, err := canonicalize.Hash(ordered)
	if err != nil {
		return "", fmt.Errorf("fingerprint: hash failed: %w", err)
	}
	return h, nil
}

// Baseline is the project's persisted reference fingerprint.
type Baseline struct {
	Fingerprint     EnvironmentFingerprint
	FingerprintHash string
	CommandSetHash  string
}

// NoiseClass is the set of failure classes that can never make a run
// reproducible, regardless of fingerprint match.
var NoiseClass = map[string]bool{
	"flake": true,
}

// Reproducible decides (a), (b), (c) of the reproducibility gate: the
// fingerprint must equal the persisted baseline, the run's command-set hash
// must equal the expected plan hash for the request's class, and the
// failure class must not be in the noise set.
func Reproducible(current EnvironmentFingerprint, baseline Baseline, failureClass string) (bool, error) {
	currentHash, err := current.Hash()
	if err != nil {
		return false, err
	}

	if currentHash != baseline.FingerprintHash {
		return false, nil
	}
	if current.CommandSetHash != baseline.CommandSetHash {
		return false, nil
	}
	if NoiseClass[failureClass] {
		return false, nil
	}
	return true, nil
}

// DriftSeverity describes the degree of a toolchain version mismatch between
// a current run and its baseline, for operator-facing diagnostics only. It
// never participates in the reproducibility decision, which remains
// exact-hash equality.
type DriftSeverity int

const (
	DriftNone DriftSeverity = iota
	DriftPatch
	DriftMinor
	DriftMajor
	DriftUnparseable
)

func (d DriftSeverity) String() string {
	switch d {
	case DriftNone:
		return "none"
	case DriftPatch:
		return "patch"
	case DriftMinor:
		return "minor"
	case DriftMajor:
		return "major"
	case DriftUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// ToolchainDrift reports, per toolchain name, how far the current version has
// drifted from the baseline version. It is diagnostic only: the baseline
// match itself is decided by exact fingerprint-hash equality in Reproducible.
func ToolchainDrift(current, baseline map[string]string) map[string]DriftSeverity {
	out := make(map[string]DriftSeverity, len(baseline))

	names := make([]string, 0, len(baseline))
	for name := range baseline {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		baseRaw, haveBase := baseline[name]
		curRaw, haveCur := current[name]
		if !haveBase || !haveCur {
			out[name] = DriftUnparseable
			continue
		}

		baseV, err1 := semver.NewVersion(baseRaw)
		curV, err2 := semver.NewVersion(curRaw)
		if err1 != nil || err2 != nil {
			if baseRaw == curRaw {
				out[name] = DriftNone
			} else {
				out[name] = DriftUnparseable
			}
			continue
		}

		switch {
		case baseV.Equal(curV):
			out[name] = DriftNone
		case baseV.Major() != curV.Major():
			out[name] = DriftMajor
		case baseV.Minor() != curV.Minor():
			out[name] = DriftMinor
		default:
			out[name] = DriftPatch
		}
	}

	return out
}
