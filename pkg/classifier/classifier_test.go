package classifier

import (
	"testing"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
)

func TestClassify_Pass(t *testing.T) {
	result := contracts.VerificationResult{Status: contracts.StatusPass}
	if fc := Classify(result, nil); fc != contracts.FailureNone {
		t.Fatalf("expected none, got %s", fc)
	}
}

func TestClassify_PolicyViolationTakesPriority(t *testing.T) {
	result := contracts.VerificationResult{
		Status:          contracts.StatusFail,
		ViolationEvents: []contracts.ViolationCode{contracts.TimeoutViolation, contracts.NetworkAccessViolation},
	}
	if fc := Classify(result, nil); fc != contracts.FailurePolicy {
		t.Fatalf("expected policy to win over timeout, got %s", fc)
	}
}

func TestClassify_Timeout(t *testing.T) {
	result := contracts.VerificationResult{
		Status:          contracts.StatusFail,
		ViolationEvents: []contracts.ViolationCode{contracts.TimeoutViolation},
	}
	if fc := Classify(result, nil); fc != contracts.FailureTimeout {
		t.Fatalf("expected timeout, got %s", fc)
	}
}

func TestClassify_Syntax(t *testing.T) {
	result := contracts.VerificationResult{
		Status: contracts.StatusFail,
		CommandLog: []contracts.CommandLogEntry{
			{Stage: contracts.StageParseLint, Name: "lint", ExitCode: 1},
		},
	}
	if fc := Classify(result, nil); fc != contracts.FailureSyntax {
		t.Fatalf("expected syntax, got %s", fc)
	}
}

func TestClassify_StaticTypeFailureIsSyntax(t *testing.T) {
	result := contracts.VerificationResult{
		Status: contracts.StatusFail,
		CommandLog: []contracts.CommandLogEntry{
			{Stage: contracts.StageParseLint, Name: "lint", ExitCode: 0},
			{Stage: contracts.StageStaticType, Name: "typecheck", ExitCode: 1},
		},
	}
	if fc := Classify(result, nil); fc != contracts.FailureSyntax {
		t.Fatalf("expected syntax, got %s", fc)
	}
}

func TestClassify_FlakeWhenOracleDisagrees(t *testing.T) {
	oracle := fingerprint.NewFlakeOracle()
	oracle.RecordAttempt(map[string]fingerprint.TestOutcome{"unit_tests": fingerprint.TestPassed})
	oracle.RecordAttempt(map[string]fingerprint.TestOutcome{"unit_tests": fingerprint.TestFailed})

	result := contracts.VerificationResult{
		Status: contracts.StatusFail,
		CommandLog: []contracts.CommandLogEntry{
			{Stage: contracts.StageUnitTests, Name: "unit_tests", ExitCode: 1},
		},
	}
	if fc := Classify(result, oracle); fc != contracts.FailureFlake {
		t.Fatalf("expected flake, got %s", fc)
	}
}

func TestClassify_DeterministicWhenNoFlakeHistory(t *testing.T) {
	result := contracts.VerificationResult{
		Status: contracts.StatusFail,
		CommandLog: []contracts.CommandLogEntry{
			{Stage: contracts.StageUnitTests, Name: "unit_tests", ExitCode: 1},
		},
	}
	if fc := Classify(result, nil); fc != contracts.FailureDeterministic {
		t.Fatalf("expected deterministic, got %s", fc)
	}
}

func TestClassify_DeterministicWhenOracleAgrees(t *testing.T) {
	oracle := fingerprint.NewFlakeOracle()
	oracle.RecordAttempt(map[string]fingerprint.TestOutcome{"unit_tests": fingerprint.TestFailed})
	oracle.RecordAttempt(map[string]fingerprint.TestOutcome{"unit_tests": fingerprint.TestFailed})

	result := contracts.VerificationResult{
		Status: contracts.StatusFail,
		CommandLog: []contracts.CommandLogEntry{
			{Stage: contracts.StageUnitTests, Name: "unit_tests", ExitCode: 1},
		},
	}
	if fc := Classify(result, oracle); fc != contracts.FailureDeterministic {
		t.Fatalf("expected deterministic, got %s", fc)
	}
}

func TestClassify_NoCommandLogIsDeterministic(t *testing.T) {
	result := contracts.VerificationResult{Status: contracts.StatusFail}
	if fc := Classify(result, nil); fc != contracts.FailureDeterministic {
		t.Fatalf("expected deterministic for an empty command log, got %s", fc)
	}
}

func TestRetryEligible(t *testing.T) {
	cases := map[contracts.FailureClass]bool{
		contracts.FailureSyntax:        true,
		contracts.FailureDeterministic: true,
		contracts.FailurePolicy:        false,
		contracts.FailureTimeout:       false,
		contracts.FailureFlake:         false,
		contracts.FailureNone:          false,
	}
	for fc, want := range cases {
		if got := RetryEligible(fc); got != want {
			t.Fatalf("RetryEligible(%s) = %v, want %v", fc, got, want)
		}
	}
}
