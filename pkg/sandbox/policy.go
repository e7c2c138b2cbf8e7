// Sandbox security policy enforcement: FS/network allowlists checked on
// every operation, capability-based filtering, and an audited violation
// trail. Loopback-only exceptions for fixture servers are compiled once
// from the policy file as CEL predicates, never accepted as per-request
// overrides.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Policy defines the security boundary a sandbox run operates under.
type Policy struct {
	PolicyID         string   `json:"policy_id"`
	FSAllowlist      []string `json:"fs_allowlist"`
	FSDenylist       []string `json:"fs_denylist"`
	NetworkAllowlist []string `json:"network_allowlist"`
	NetworkDenyAll   bool     `json:"network_deny_all"`
	LoopbackExprs    []string `json:"loopback_exprs"` // CEL predicates over a "host" string variable
	Capabilities     []string `json:"capabilities"`
	ReadOnly         bool     `json:"read_only"`
}

// DefaultPolicy returns the restrictive default: network denied by default,
// writes confined to the scratch path, source tree read-only.
func DefaultPolicy(scratchPath string) *Policy {
	return &Policy{
		PolicyID:       "default",
		FSAllowlist:    []string{scratchPath},
		FSDenylist:     []string{"/etc/passwd", "/etc/shadow", "/root/.ssh"},
		NetworkDenyAll: true,
		Capabilities:   []string{"read", "write", "execute"},
		ReadOnly:       false,
	}
}

// Violation records a policy boundary crossing for audit.
type PolicyViolation struct {
	ViolationType contracts.ViolationCode `json:"violation_type"`
	Detail        string                  `json:"detail"`
	Timestamp     time.Time               `json:"timestamp"`
}

// CheckResult carries an enforcement decision.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// PolicyEnforcer evaluates operations against a Policy and records every
// denial for audit.
type PolicyEnforcer struct {
	mu         sync.RWMutex
	policy     *Policy
	loopback   cel.Program
	violations []PolicyViolation
	clock      func() time.Time
}

// NewPolicyEnforcer compiles policy.LoopbackExprs (if any) and returns an
// enforcer. A compile failure in a loopback expression is fail-closed: the
// enforcer is still returned, but CheckNetwork never grants a loopback
// exception it could not prove.
func NewPolicyEnforcer(policy *Policy) (*PolicyEnforcer, error) {
	if policy == nil {
		return nil, fmt.Errorf("sandbox: policy must not be nil")
	}

	e := &PolicyEnforcer{policy: policy, clock: time.Now}

	if len(policy.LoopbackExprs) == 0 {
		return e, nil
	}

	env, err := cel.NewEnv(cel.Variable("host", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("sandbox: cel env: %w", err)
	}

	// Combine all loopback predicates with logical OR so a policy file can
	// express several equivalent patterns (e.g. "localhost", "127.0.0.1").
	combined := strings.Join(wrapEach(policy.LoopbackExprs), " || ")
	ast, issues := env.Compile(combined)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("sandbox: compile loopback policy: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build loopback program: %w", err)
	}
	e.loopback = prg

	return e, nil
}

func wrapEach(exprs []string) []string {
	wrapped := make([]string, len(exprs))
	for i, expr := range exprs {
		wrapped[i] = "(" + expr + ")"
	}
	return wrapped
}

// WithClock overrides the enforcer's clock for deterministic tests.
func (e *PolicyEnforcer) WithClock(clock func() time.Time) *PolicyEnforcer {
	e.clock = clock
	return e
}

// CheckFS verifies a filesystem path against the policy. The denylist is
// checked before the allowlist so an explicit deny always wins.
func (e *PolicyEnforcer) CheckFS(path string, write bool) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	clean := filepath.Clean(path)

	for _, deny := range e.policy.FSDenylist {
		if strings.HasPrefix(clean, deny) {
			return e.recordLocked(contracts.FilesystemWriteViolation, fmt.Sprintf("path %s matches denylist entry %s", clean, deny))
		}
	}

	if write && e.policy.ReadOnly {
		return e.recordLocked(contracts.FilesystemWriteViolation, fmt.Sprintf("write to %s denied: source tree is read-only", clean))
	}

	for _, allow := range e.policy.FSAllowlist {
		if strings.HasPrefix(clean, allow) {
			return CheckResult{Allowed: true, Reason: "within filesystem allowlist"}
		}
	}

	if !write {
		// Reads outside the scratch allowlist are permitted against the
		// read-only source mount; only writes are confined to scratch.
		return CheckResult{Allowed: true, Reason: "read against read-only source mount"}
	}

	return e.recordLocked(contracts.FilesystemWriteViolation, fmt.Sprintf("write to %s outside scratch allowlist", clean))
}

// CheckNetwork verifies an outbound host against the policy. Default-deny:
// any outbound attempt not covered by the network allowlist or a compiled
// loopback exception terminates the run.
func (e *PolicyEnforcer) CheckNetwork(host string) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loopback != nil {
		out, _, err := e.loopback.Eval(map[string]interface{}{"host": host})
		if err == nil {
			if allowed, ok := out.Value().(bool); ok && allowed {
				return CheckResult{Allowed: true, Reason: "loopback exception"}
			}
		}
	}

	if e.policy.NetworkDenyAll {
		return e.recordLocked(contracts.NetworkAccessViolation, fmt.Sprintf("all network access denied, attempted: %s", host))
	}

	for _, allow := range e.policy.NetworkAllowlist {
		if allow == host || strings.HasSuffix(host, "."+allow) {
			return CheckResult{Allowed: true, Reason: "within network allowlist"}
		}
	}

	return e.recordLocked(contracts.NetworkAccessViolation, fmt.Sprintf("host %s not in network allowlist", host))
}

// CheckCapability verifies a capability request against the policy.
func (e *PolicyEnforcer) CheckCapability(capability string) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.policy.Capabilities {
		if c == capability {
			return CheckResult{Allowed: true, Reason: "capability granted"}
		}
	}
	return e.recordLocked(contracts.SyscallViolation, fmt.Sprintf("capability %s not granted", capability))
}

func (e *PolicyEnforcer) recordLocked(code contracts.ViolationCode, detail string) CheckResult {
	e.violations = append(e.violations, PolicyViolation{ViolationType: code, Detail: detail, Timestamp: e.clock()})
	return CheckResult{Allowed: false, Reason: detail}
}

// Violations returns every recorded denial for audit.
func (e *PolicyEnforcer) Violations() []PolicyViolation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PolicyViolation, len(e.violations))
	copy(out, e.violations)
	return out
}
