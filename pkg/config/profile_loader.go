package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
)

// policyFile is the YAML-on-disk shape of a sandbox.Policy. It mirrors
// sandbox.Policy field-for-field; a separate struct keeps the YAML tags out
// of the policy enforcement type, which only ever carries JSON tags for its
// own audit-trail serialization.
type policyFile struct {
	PolicyID         string   `yaml:"policy_id"`
	FSAllowlist      []string `yaml:"fs_allowlist"`
	FSDenylist       []string `yaml:"fs_denylist"`
	NetworkAllowlist []string `yaml:"network_allowlist"`
	NetworkDenyAll   bool     `yaml:"network_deny_all"`
	LoopbackExprs    []string `yaml:"loopback_exprs"`
	Capabilities     []string `yaml:"capabilities"`
	ReadOnly         bool     `yaml:"read_only"`
}

// LoadPolicy reads a sandbox security policy by name from
// <profilesDir>/policy_<name>.yaml.
func LoadPolicy(profilesDir, name string) (*sandbox.Policy, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("policy_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load policy %q: %w", name, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("config: parse policy %q: %w", name, err)
	}
	if pf.PolicyID == "" {
		pf.PolicyID = name
	}

	return &sandbox.Policy{
		PolicyID:         pf.PolicyID,
		FSAllowlist:      pf.FSAllowlist,
		FSDenylist:       pf.FSDenylist,
		NetworkAllowlist: pf.NetworkAllowlist,
		NetworkDenyAll:   pf.NetworkDenyAll,
		LoopbackExprs:    pf.LoopbackExprs,
		Capabilities:     pf.Capabilities,
		ReadOnly:         pf.ReadOnly,
	}, nil
}

// LoadAllPolicies loads every policy_*.yaml file in profilesDir, keyed by
// the name embedded in its filename.
func LoadAllPolicies(profilesDir string) (map[string]*sandbox.Policy, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "policy_*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("config: glob policies: %w", err)
	}

	policies := make(map[string]*sandbox.Policy, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		name := strings.TrimSuffix(strings.TrimPrefix(base, "policy_"), ".yaml")

		policy, err := LoadPolicy(profilesDir, name)
		if err != nil {
			return nil, err
		}
		policies[name] = policy
	}
	return policies, nil
}
