// Package classifier implements the C3 failure classifier: a total mapping
// from a VerificationResult's raw sandbox signals to a canonical
// FailureClass, and the retry-eligibility table that gates C4.
package classifier

import (
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
)

// policyViolations is the set of violation codes rule 1 maps to `policy`.
// TimeoutViolation is deliberately excluded: it has its own rule.
var policyViolations = map[contracts.ViolationCode]bool{
	contracts.NetworkAccessViolation:   true,
	contracts.FilesystemWriteViolation: true,
	contracts.SyscallViolation:         true,
	contracts.ProcessLimitViolation:    true,
	contracts.MemoryLimitViolation:     true,
	contracts.OutputLimitViolation:     true,
}

// Classify maps result to a FailureClass by the five ranked rules, first
// match wins. oracle may be nil when no attempt history exists yet (the
// first attempt of a request can never be flake-annotated). The oracle is
// keyed by command name, the finest granularity the sandbox's command log
// exposes — a test-plan stage (e.g. "unit_tests") stands in for the
// individual test oracle spec.md describes.
func Classify(result contracts.VerificationResult, oracle *fingerprint.FlakeOracle) contracts.FailureClass {
	if result.Status == contracts.StatusPass {
		return contracts.FailureNone
	}

	for _, v := range result.ViolationEvents {
		if policyViolations[v] {
			return contracts.FailurePolicy
		}
	}
	for _, v := range result.ViolationEvents {
		if v == contracts.TimeoutViolation {
			return contracts.FailureTimeout
		}
	}

	last, ok := terminalCommand(result)
	if !ok {
		return contracts.FailureDeterministic
	}

	if last.ExitCode != 0 && !last.Stage.IsTestStage() {
		return contracts.FailureSyntax
	}

	if last.ExitCode != 0 && last.Stage.IsTestStage() {
		if oracle != nil && oracle.Flaky(last.Name) {
			return contracts.FailureFlake
		}
	}

	return contracts.FailureDeterministic
}

// terminalCommand returns the command log entry that ended the run — the
// last one executed, since the sandbox stops the plan at the first
// violation or nonzero exit.
func terminalCommand(result contracts.VerificationResult) (contracts.CommandLogEntry, bool) {
	if len(result.CommandLog) == 0 {
		return contracts.CommandLogEntry{}, false
	}
	return result.CommandLog[len(result.CommandLog)-1], true
}

// RetryEligible encodes the retry-eligibility table: only syntax and
// deterministic failures are retryable. policy, timeout, and flake halt
// immediately; StrictModeUnavailable/StrictModeRequired are handled by the
// caller via TerminalEvent before RetryEligible is even consulted.
func RetryEligible(fc contracts.FailureClass) bool {
	switch fc {
	case contracts.FailureSyntax, contracts.FailureDeterministic:
		return true
	default:
		return false
	}
}
