// Package sandbox implements the C1 Sandbox Executor: it runs a candidate's
// command plan in an isolated ephemeral runtime and always returns a
// structurally-complete VerificationResult, even on internal error.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bhagyabanghadai/dhi/pkg/artifacts"
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Sandbox runs a candidate's command plan and returns a VerificationResult.
// Run never panics and never returns a nil result: even an internal error is
// reported as failure_class=deterministic with an explanatory stderr.
type Sandbox interface {
	Run(ctx context.Context, req RunRequest) contracts.VerificationResult
	Close() error
}

// RunRequest bundles everything one sandbox invocation needs.
type RunRequest struct {
	RequestID   string
	CandidateID string
	Attempt     int
	Mode        contracts.Mode
	RepoRoot    string
	Plan        Plan
	Policy      *Policy
}

// New constructs the sandbox backend for mode. strictMandated is true when
// the request's policy requires strict mode regardless of what the caller
// asked for; requestedMode is what the caller asked for. Construction fails
// closed per the never-silently-downgrade invariant: it never returns a
// weaker backend than what was requested or mandated.
func New(requestedMode contracts.Mode, strictMandated bool, artifactDir string) (Sandbox, error) {
	mode := requestedMode
	if strictMandated {
		mode = contracts.ModeStrict
	}

	switch mode {
	case contracts.ModeStrict:
		sb, err := NewStrictSandbox(artifactDir)
		if err != nil {
			detail := err.Error()
			if strictMandated {
				return nil, &StrictModeError{Mandated: true, Detail: detail}
			}
			return nil, &StrictModeError{Mandated: false, Detail: detail}
		}
		return sb, nil
	default:
		return NewBalancedSandbox(artifactDir)
	}
}

// cappedWriter caps total bytes retained, independent of the underlying
// buffer, so runaway command output cannot exhaust process memory before
// the OutputLimitViolation check runs.
type cappedWriter struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() >= w.limit {
		w.overflow = true
		return len(p), nil // swallow past the cap, command still runs to completion
	}
	remaining := w.limit - w.buf.Len()
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.overflow = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

// BalancedSandbox is the rootless-process backend: each command runs via
// os/exec under a scratch working directory, with rlimit CPU/AS caps, a
// context timeout wall-clock cap, output capped by cappedWriter, and
// process-group kill on violation.
type BalancedSandbox struct {
	limits Limits
	store  artifacts.Store
	mu     sync.Mutex
}

// NewBalancedSandbox constructs the default isolation backend.
func NewBalancedSandbox(artifactDir string) (*BalancedSandbox, error) {
	store, err := artifacts.NewFileStore(artifactDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return &BalancedSandbox{limits: Balanced, store: store}, nil
}

func (s *BalancedSandbox) Close() error { return nil }

func (s *BalancedSandbox) Run(ctx context.Context, req RunRequest) contracts.VerificationResult {
	return runPlan(ctx, s.limits, req, s.store)
}

// StrictSandbox is the strict-mode backend, gated behind host capability
// detection. Construction fails closed with StrictModeUnavailable when
// /dev/kvm is absent — there is no fallback to the balanced backend. Once
// constructed, it runs commands through the same local os/exec runPlan loop
// as BalancedSandbox with the Strict limits table; it does not start a
// microVM.
type StrictSandbox struct {
	limits Limits
	store  artifacts.Store
}

// NewStrictSandbox constructs the strict-mode backend. It fails closed if
// the host has no /dev/kvm; the check is for the device's presence only.
func NewStrictSandbox(artifactDir string) (*StrictSandbox, error) {
	if !kvmAvailable() {
		return nil, fmt.Errorf("host lacks /dev/kvm: hardware virtualization unavailable")
	}
	store, err := artifacts.NewFileStore(artifactDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return &StrictSandbox{limits: Strict, store: store}, nil
}

func (s *StrictSandbox) Close() error { return nil }

func (s *StrictSandbox) Run(ctx context.Context, req RunRequest) contracts.VerificationResult {
	return runPlan(ctx, s.limits, req, s.store)
}

func kvmAvailable() bool {
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

// runPlan is the shared execution loop both backends drive: it differs only
// in the Limits table passed in, never in isolation semantics.
func runPlan(ctx context.Context, limits Limits, req RunRequest, store artifacts.Store) contracts.VerificationResult {
	start := time.Now()

	result := contracts.VerificationResult{
		RequestID:     req.RequestID,
		CandidateID:   req.CandidateID,
		Attempt:       req.Attempt,
		Mode:          req.Mode,
		CreatedAt:     start,
		SchemaVersion: contracts.SchemaVersion,
	}

	policy := req.Policy
	scratch, err := os.MkdirTemp("", "dhi-scratch-*")
	if err != nil {
		return internalError(result, start, fmt.Sprintf("failed to create scratch dir: %v", err))
	}
	defer os.RemoveAll(scratch)

	if policy == nil {
		policy = DefaultPolicy(scratch)
	}

	enforcer, err := NewPolicyEnforcer(policy)
	if err != nil {
		return internalError(result, start, fmt.Sprintf("failed to build policy enforcer: %v", err))
	}

	if check := enforcer.CheckFS(scratch, true); !check.Allowed {
		result.ViolationEvents = append(result.ViolationEvents, contracts.FilesystemWriteViolation)
		result.SkippedChecks = buildSkips(req.Plan, 0, check.Reason)
		result.Status = contracts.StatusFail
		result.ExitCode = -1
		result.DurationMS = time.Since(start).Milliseconds()
		result.Stderr = check.Reason
		return result
	}

	broker := NewCredentialBroker(limits.RequestBudget)
	broker.SetScopeAllowlist(req.CandidateID, []string{"artifact:write", "network:egress"})
	token, err := broker.IssueToken(TokenRequest{SandboxID: req.CandidateID, RequestedScopes: []string{"artifact:write"}})
	if err != nil {
		return internalError(result, start, fmt.Sprintf("failed to issue scoped credential: %v", err))
	}
	defer broker.RevokeToken(token.TokenID)

	budgetCtx, cancel := context.WithTimeout(ctx, limits.RequestBudget)
	defer cancel()

	ranUpTo := 0
	for i, cmd := range req.Plan.Commands {
		if check := enforcer.CheckCapability("execute"); !check.Allowed {
			result.ViolationEvents = append(result.ViolationEvents, contracts.SyscallViolation)
			result.SkippedChecks = append(result.SkippedChecks, buildSkips(req.Plan, i, check.Reason)...)
			result.Status = contracts.StatusFail
			result.ExitCode = -1
			result.DurationMS = time.Since(start).Milliseconds()
			result.Stderr = check.Reason
			return result
		}

		entry, violation, terminal := runCommand(budgetCtx, limits, scratch, req.RepoRoot, cmd, token, policy, enforcer)
		entry.ArtifactRefs = persistCommandOutput(ctx, store, entry)
		result.CommandLog = append(result.CommandLog, entry)
		result.ArtifactRefs = append(result.ArtifactRefs, entry.ArtifactRefs...)
		ranUpTo = i + 1

		if violation != "" {
			result.ViolationEvents = append(result.ViolationEvents, violation)
			result.SkippedChecks = append(result.SkippedChecks, buildSkips(req.Plan, ranUpTo, "terminated by "+string(violation))...)
			result.Status = contracts.StatusFail
			result.ExitCode = entry.ExitCode
			result.DurationMS = time.Since(start).Milliseconds()
			result.Stdout = entry.StdoutTrunc
			result.Stderr = entry.StderrTrunc
			result.TerminalEvent = terminal
			return result
		}

		if entry.ExitCode != 0 {
			result.SkippedChecks = append(result.SkippedChecks, buildSkips(req.Plan, ranUpTo, "skipped after earlier command failure")...)
			result.Status = contracts.StatusFail
			result.ExitCode = entry.ExitCode
			result.DurationMS = time.Since(start).Milliseconds()
			result.Stdout = entry.StdoutTrunc
			result.Stderr = entry.StderrTrunc
			return result
		}
	}

	result.Status = contracts.StatusPass
	result.ExitCode = 0
	result.DurationMS = time.Since(start).Milliseconds()
	if len(result.CommandLog) > 0 {
		last := result.CommandLog[len(result.CommandLog)-1]
		result.Stdout = last.StdoutTrunc
		result.Stderr = last.StderrTrunc
	}
	return result
}

// persistCommandOutput writes a command's captured stdout/stderr into the
// durable artifact store and returns their CAS digests. A store failure is
// swallowed into a nil ref list rather than failing the run: the trimmed
// stdout/stderr already embedded in the command log entry is the primary
// record, the artifact store is durability for the untrimmed case.
func persistCommandOutput(ctx context.Context, store artifacts.Store, entry contracts.CommandLogEntry) []string {
	if store == nil {
		return nil
	}
	var refs []string
	if entry.StdoutTrunc != "" {
		if digest, err := store.Store(ctx, []byte(entry.StdoutTrunc)); err == nil {
			refs = append(refs, digest)
		}
	}
	if entry.StderrTrunc != "" {
		if digest, err := store.Store(ctx, []byte(entry.StderrTrunc)); err == nil {
			refs = append(refs, digest)
		}
	}
	return refs
}

func internalError(result contracts.VerificationResult, start time.Time, detail string) contracts.VerificationResult {
	result.Status = contracts.StatusFail
	result.FailureClass = contracts.FailureDeterministic
	result.Stderr = detail
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// runCommand executes a single command-plan stage and returns its log
// entry, any raised violation, and the terminal event that violation maps
// to (empty string/TerminalNone when none was raised).
//
// Filesystem and network containment are real, not advisory:
//   - When the host supports unprivileged user namespaces, the command runs
//     inside a fresh mount namespace (via the _sandbox_mount_init re-exec
//     wrapper) with repoRoot bind-mounted read-only and scratch remounted
//     as a clean tmpfs, so a write outside scratch fails at the kernel.
//   - Network egress for a default-deny-all policy with no loopback
//     exceptions is cut at the kernel too, via a fresh network namespace
//     whose only interface (lo) is never brought up. Any policy with an
//     allowlist or a loopback exception instead runs the command behind a
//     local HTTP(S) egress proxy that consults the same PolicyEnforcer.
func runCommand(ctx context.Context, limits Limits, scratch, repoRoot string, cmd Command, token *ScopedToken, policy *Policy, enforcer *PolicyEnforcer) (contracts.CommandLogEntry, contracts.ViolationCode, contracts.TerminalEvent) {
	cmdCtx, cancel := context.WithTimeout(ctx, limits.PerCommandWallTime)
	defer cancel()

	start := time.Now()

	if len(cmd.Argv) == 0 {
		return contracts.CommandLogEntry{Stage: cmd.Stage, Name: cmd.Name, Argv: cmd.Argv, ExitCode: -1}, "", contracts.TerminalNone
	}

	attr, usingMountNS, usingNetNS := isolationSysProcAttr(policy)

	argv := cmd.Argv
	if usingMountNS {
		self, err := os.Executable()
		if err == nil {
			wrapped := []string{self, "_sandbox_mount_init", "--repo-root", repoRoot, "--scratch", scratch, "--"}
			argv = append(wrapped, cmd.Argv...)
		} else {
			usingMountNS = false
		}
	}

	//nolint:gosec // G204: argv is drawn from the request's own declared command plan (or this package's own re-exec wrapper), not raw user input
	c := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	c.Dir = scratch
	c.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + scratch,
		"DHI_REPO_ROOT=" + repoRoot,
		"DHI_SCOPED_TOKEN=" + token.TokenID,
	}
	c.SysProcAttr = attr

	var proxy *egressProxy
	if !usingNetNS && enforcer != nil {
		var err error
		proxy, err = newEgressProxy(enforcer, func(string) { killProcessGroup(c) })
		if err == nil {
			defer proxy.close()
			c.Env = append(c.Env,
				"http_proxy=http://"+proxy.addr(),
				"https_proxy=http://"+proxy.addr(),
				"HTTP_PROXY=http://"+proxy.addr(),
				"HTTPS_PROXY=http://"+proxy.addr(),
			)
		}
	}

	var stdout, stderr cappedWriter
	stdout.limit = int(limits.OutputCapBytes)
	stderr.limit = int(limits.OutputCapBytes)
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		entry := contracts.CommandLogEntry{Stage: cmd.Stage, Name: cmd.Name, Argv: cmd.Argv, ExitCode: -1, DurationMS: time.Since(start).Milliseconds()}
		return entry, "", contracts.TerminalNone
	}
	applyRlimits(c.Process.Pid, limits)

	runErr := c.Wait()
	duration := time.Since(start)

	entry := contracts.CommandLogEntry{
		Stage:       cmd.Stage,
		Name:        cmd.Name,
		Argv:        cmd.Argv,
		DurationMS:  duration.Milliseconds(),
		StdoutTrunc: TruncateOutput(stdout.buf.String(), int(limits.OutputCapBytes)),
		StderrTrunc: TruncateOutput(stderr.buf.String(), int(limits.OutputCapBytes)),
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(c)
		entry.ExitCode = -1
		return entry, contracts.TimeoutViolation, contracts.TerminalNone
	}

	if stdout.overflow || stderr.overflow {
		killProcessGroup(c)
		entry.ExitCode = -1
		return entry, contracts.OutputLimitViolation, contracts.TerminalNone
	}

	if proxy != nil {
		if denied, host, reason := proxy.violation(); denied {
			entry.ExitCode = -1
			entry.StderrTrunc = fmt.Sprintf("network access to %s denied: %s", host, reason)
			return entry, contracts.NetworkAccessViolation, contracts.TerminalNone
		}
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			entry.ExitCode = exitErr.ExitCode()
			if usingMountNS && exitErr.ExitCode() != 0 && looksLikeReadOnlyFSFailure(entry.StderrTrunc) {
				return entry, contracts.FilesystemWriteViolation, contracts.TerminalNone
			}
			return entry, "", contracts.TerminalNone
		}
		// Process could not even start (missing binary, permission denied, etc.)
		entry.ExitCode = -1
		return entry, "", contracts.TerminalNone
	}

	entry.ExitCode = 0
	return entry, "", contracts.TerminalNone
}

// looksLikeReadOnlyFSFailure recognizes the kernel's own error text for a
// write rejected by the read-only bind mount. There is no separate
// fs-monitor observing individual syscalls; the bind mount itself is the
// enforcement, this only turns its visible side effect into a classified
// violation rather than a bare nonzero exit.
func looksLikeReadOnlyFSFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "read-only file system") || strings.Contains(lower, "erofs")
}

// canUseNamespaces reports whether this process can create a user namespace
// without privilege, the prerequisite for the mount/network namespace
// isolation below. This is a simplified stand-in for a full CAP_SYS_ADMIN
// capget probe: it accepts running as root outright, otherwise defers to
// the kernel's own unprivileged_userns_clone sysctl.
func canUseNamespaces() bool {
	if os.Geteuid() == 0 {
		return true
	}
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// isolationSysProcAttr builds the SysProcAttr for a sandboxed command and
// reports which namespaces it actually isolated. CLONE_NEWNET only applies
// when the policy denies all network access outright with no loopback
// exception configured: a fresh network namespace's lo interface starts
// down, which would also break an intentional loopback fixture exception,
// so that case is left to the egress proxy instead, which can honor it.
func isolationSysProcAttr(policy *Policy) (attr *syscall.SysProcAttr, usingMountNS bool, usingNetNS bool) {
	if !canUseNamespaces() {
		return processGroupAttr(), false, false
	}

	flags := uintptr(syscall.CLONE_NEWNS)
	netIsolated := policy != nil && policy.NetworkDenyAll && len(policy.LoopbackExprs) == 0
	if netIsolated {
		flags |= syscall.CLONE_NEWNET
	}

	attr = &syscall.SysProcAttr{Setpgid: true, Cloneflags: flags}
	if os.Geteuid() != 0 {
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		uid, gid := os.Getuid(), os.Getgid()
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}}
	}
	return attr, true, netIsolated
}

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(c *exec.Cmd) {
	if c.Process == nil {
		return
	}
	// Negative PID targets the whole process group created by Setpgid.
	_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
}

// applyRlimits sets the child's CPU and address-space rlimits right after
// Start via Prlimit, since Go's SysProcAttr has no pre-exec rlimit hook.
// There is an unavoidable race between fork and this call; the context
// deadline and output cap above are the primary enforcement, this is
// defense in depth for a child that spins the CPU without producing output.
func applyRlimits(pid int, limits Limits) {
	cpuSeconds := uint64(limits.PerCommandWallTime.Seconds()) + 1
	cpuLimit := &syscall.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}
	_ = syscall.Prlimit(pid, syscall.RLIMIT_CPU, cpuLimit, nil)

	asBytes := uint64(limits.MemoryMB) * 1024 * 1024
	asLimit := &syscall.Rlimit{Cur: asBytes, Max: asBytes}
	_ = syscall.Prlimit(pid, syscall.RLIMIT_AS, asLimit, nil)

	nproc := uint64(limits.MaxProcesses)
	nprocLimit := &syscall.Rlimit{Cur: nproc, Max: nproc}
	_ = syscall.Prlimit(pid, syscall.RLIMIT_NPROC, nprocLimit, nil)
}

