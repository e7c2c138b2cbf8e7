package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// testPlan assigns each argv to a successive fixed-order stage so plan
// ordering in these tests matches production stage sequencing.
func testPlan(argv ...[]string) Plan {
	stages := contracts.OrderedStages
	byStage := map[contracts.StageName][]Command{}
	for i, a := range argv {
		stage := stages[i%len(stages)]
		byStage[stage] = append(byStage[stage], Command{Stage: stage, Name: string(stage), Argv: a})
	}
	return NewPlan(byStage)
}

func newBalancedSandboxForTest(t *testing.T) *BalancedSandbox {
	t.Helper()
	sb, err := NewBalancedSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewBalancedSandbox: %v", err)
	}
	return sb
}

func TestBalancedSandbox_PassingPlan(t *testing.T) {
	sb := newBalancedSandboxForTest(t)
	defer sb.Close()

	plan := testPlan([]string{"/bin/true"})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-1", CandidateID: "cand-1", Attempt: 1, Mode: contracts.ModeBalanced, Plan: plan,
	})

	if result.Status != contracts.StatusPass {
		t.Fatalf("expected pass, got %s (stderr=%q)", result.Status, result.Stderr)
	}
	if len(result.CommandLog) != 1 {
		t.Fatalf("expected 1 command log entry, got %d", len(result.CommandLog))
	}
	// Tier is assigned downstream by the tier classifier (C5), not by the
	// sandbox, so Valid() is not expected to hold on the raw sandbox result.
}

func TestBalancedSandbox_FailingCommandStopsPlan(t *testing.T) {
	sb := newBalancedSandboxForTest(t)
	defer sb.Close()

	plan := testPlan([]string{"/bin/false"}, []string{"/bin/true"})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-2", CandidateID: "cand-2", Attempt: 1, Mode: contracts.ModeBalanced, Plan: plan,
	})

	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if len(result.CommandLog) != 1 {
		t.Fatalf("expected plan to stop after first failure, got %d log entries", len(result.CommandLog))
	}
	if len(result.SkippedChecks) != 1 {
		t.Fatalf("expected 1 skipped check, got %d", len(result.SkippedChecks))
	}
}

func TestBalancedSandbox_TimeoutIsViolation(t *testing.T) {
	sb := newBalancedSandboxForTest(t)
	sb.limits.PerCommandWallTime = 50 * time.Millisecond
	defer sb.Close()

	plan := testPlan([]string{"/bin/sleep", "5"})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-3", CandidateID: "cand-3", Attempt: 1, Mode: contracts.ModeBalanced, Plan: plan,
	})

	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if len(result.ViolationEvents) != 1 || result.ViolationEvents[0] != contracts.TimeoutViolation {
		t.Fatalf("expected TimeoutViolation, got %v", result.ViolationEvents)
	}
}

func TestBalancedSandbox_OutputCapIsViolation(t *testing.T) {
	sb := newBalancedSandboxForTest(t)
	sb.limits.OutputCapBytes = 16
	defer sb.Close()

	plan := testPlan([]string{"/bin/sh", "-c", "head -c 4096 /dev/zero | tr '\\0' 'a'"})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-4", CandidateID: "cand-4", Attempt: 1, Mode: contracts.ModeBalanced, Plan: plan,
	})

	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if len(result.ViolationEvents) != 1 || result.ViolationEvents[0] != contracts.OutputLimitViolation {
		t.Fatalf("expected OutputLimitViolation, got %v", result.ViolationEvents)
	}
}

// A candidate command that respects the process's proxy environment (as any
// well-behaved HTTP client does) and attempts to reach a host outside the
// policy's network allowlist is actually stopped: the egress proxy the
// command is wired to consults the same PolicyEnforcer the policy package
// tests exercise in isolation.
func TestBalancedSandbox_NetworkEscapeIsViolation(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available to drive an HTTP request through the egress proxy")
	}

	sb := newBalancedSandboxForTest(t)
	defer sb.Close()

	policy := &Policy{
		PolicyID:         "test-allowlist",
		NetworkAllowlist: []string{"allowed.example.com"},
		Capabilities:     []string{"read", "write", "execute"},
	}
	plan := testPlan([]string{python, "-c", "import urllib.request; urllib.request.urlopen('http://1.2.3.4/', timeout=3)"})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-net-escape", CandidateID: "cand-net-escape", Attempt: 1,
		Mode: contracts.ModeBalanced, Plan: plan, Policy: policy,
	})

	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s (stderr=%q)", result.Status, result.Stderr)
	}
	if len(result.ViolationEvents) != 1 || result.ViolationEvents[0] != contracts.NetworkAccessViolation {
		t.Fatalf("expected NetworkAccessViolation, got %v", result.ViolationEvents)
	}
}

// A candidate command that writes outside the writable scratch directory is
// actually stopped by the read-only bind mount over the repo root, not just
// theoretically disallowed by an unconsulted policy check.
func TestBalancedSandbox_FilesystemEscapeIsViolation(t *testing.T) {
	if !canUseNamespaces() {
		t.Skip("host cannot create unprivileged mount namespaces; skipping real bind-mount containment check")
	}

	sb := newBalancedSandboxForTest(t)
	defer sb.Close()

	repoRoot := t.TempDir()
	target := filepath.Join(repoRoot, "escape.txt")

	plan := testPlan([]string{"/bin/sh", "-c", "echo pwned > " + target})
	result := sb.Run(context.Background(), RunRequest{
		RequestID: "req-fs-escape", CandidateID: "cand-fs-escape", Attempt: 1,
		Mode: contracts.ModeBalanced, RepoRoot: repoRoot, Plan: plan,
	})

	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s (stderr=%q)", result.Status, result.Stderr)
	}
	if len(result.ViolationEvents) != 1 || result.ViolationEvents[0] != contracts.FilesystemWriteViolation {
		t.Fatalf("expected FilesystemWriteViolation, got %v", result.ViolationEvents)
	}
	if _, err := os.Stat(target); err == nil {
		t.Fatal("expected write to repo root to be blocked by the read-only bind mount")
	}
}

func TestBalancedSandbox_InternalErrorIsStructurallyComplete(t *testing.T) {
	result := internalError(contracts.VerificationResult{RequestID: "req-5"}, time.Now(), "boom")
	if result.Status != contracts.StatusFail {
		t.Fatalf("expected fail, got %s", result.Status)
	}
	if result.FailureClass != contracts.FailureDeterministic {
		t.Fatalf("expected deterministic failure class, got %s", result.FailureClass)
	}
	if !result.Valid() {
		t.Fatal("expected internal-error result to satisfy the fail invariant")
	}
}

func TestNew_StrictMandatedButUnavailableFailsClosed(t *testing.T) {
	if kvmAvailable() {
		t.Skip("host has /dev/kvm; cannot exercise the unavailable path")
	}

	_, err := New(contracts.ModeBalanced, true, t.TempDir())
	if err == nil {
		t.Fatal("expected error when strict mode is mandated but unavailable")
	}
	smErr, ok := err.(*StrictModeError)
	if !ok {
		t.Fatalf("expected *StrictModeError, got %T", err)
	}
	if !smErr.Mandated {
		t.Fatal("expected Mandated=true since the request mandated strict mode")
	}
	if smErr.AsTerminalEvent() != contracts.TerminalStrictModeRequired {
		t.Fatalf("expected TerminalStrictModeRequired, got %s", smErr.AsTerminalEvent())
	}
}

func TestNew_StrictRequestedNotMandatedUnavailable(t *testing.T) {
	if kvmAvailable() {
		t.Skip("host has /dev/kvm; cannot exercise the unavailable path")
	}

	_, err := New(contracts.ModeStrict, false, t.TempDir())
	smErr, ok := err.(*StrictModeError)
	if !ok {
		t.Fatalf("expected *StrictModeError, got %T", err)
	}
	if smErr.Mandated {
		t.Fatal("expected Mandated=false since only the request, not the policy, asked for strict")
	}
	if smErr.AsTerminalEvent() != contracts.TerminalStrictModeUnavailable {
		t.Fatalf("expected TerminalStrictModeUnavailable, got %s", smErr.AsTerminalEvent())
	}
}

func TestNew_BalancedRequestBuildsBalancedSandbox(t *testing.T) {
	sb, err := New(contracts.ModeBalanced, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer sb.Close()
	if _, ok := sb.(*BalancedSandbox); !ok {
		t.Fatalf("expected *BalancedSandbox, got %T", sb)
	}
}

// FakeSandbox is a scriptable Sandbox test double for callers (the pipeline
// orchestrator's integration tests) that need deterministic results without
// spawning real processes.
type FakeSandbox struct {
	Results []contracts.VerificationResult
	calls   int
}

func (f *FakeSandbox) Run(_ context.Context, req RunRequest) contracts.VerificationResult {
	if f.calls >= len(f.Results) {
		return contracts.VerificationResult{
			RequestID:     req.RequestID,
			CandidateID:   req.CandidateID,
			Attempt:       req.Attempt,
			Mode:          req.Mode,
			Status:        contracts.StatusFail,
			FailureClass:  contracts.FailureDeterministic,
			Stderr:        "FakeSandbox: no scripted result for this call",
			SchemaVersion: contracts.SchemaVersion,
		}
	}
	result := f.Results[f.calls]
	f.calls++
	result.RequestID = req.RequestID
	result.CandidateID = req.CandidateID
	result.Attempt = req.Attempt
	return result
}

func (f *FakeSandbox) Close() error { return nil }
