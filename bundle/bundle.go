// Package bundle loads allocation rules and governance policies from YAML.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/yairfalse/allot/types"
	"gopkg.in/yaml.v3"
)

// Version is the only bundle format understood
const Version = "v1"

// Bundle is a versioned set of rules and policies for one tenant
type Bundle struct {
	Version  string                 `yaml:"version"`
	TenantID int64                  `yaml:"tenantId"`
	Rules    []types.AllocationRule `yaml:"rules,omitempty"`
	Policies []Policy               `yaml:"policies,omitempty"`
}

// Policy is a GovernancePolicy whose Rego module may live in a separate file
type Policy struct {
	types.GovernancePolicy `yaml:",inline"`

	// ModuleFile is read into Params.Module, relative to the bundle file
	ModuleFile string `yaml:"moduleFile,omitempty"`
}

var validate = validator.New()

// Load reads, resolves and validates a bundle file.
// Every rule and policy inherits the bundle's tenant.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	for i := range b.Rules {
		b.Rules[i].TenantID = b.TenantID
	}
	for i := range b.Policies {
		p := &b.Policies[i]
		p.TenantID = b.TenantID
		if p.ModuleFile == "" {
			continue
		}
		modulePath := p.ModuleFile
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(filepath.Dir(path), modulePath)
		}
		module, err := os.ReadFile(modulePath) // #nosec G304 -- referenced by the bundle
		if err != nil {
			return nil, fmt.Errorf("policy %s: failed to read module: %w", p.ID, err)
		}
		p.Params.Module = string(module)
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return &b, nil
}

// LoadRules reads a bundle and returns only its rules.
// Used for replacing the built-in fallback rule table.
func LoadRules(path string) ([]types.AllocationRule, error) {
	b, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(b.Rules) == 0 {
		return nil, fmt.Errorf("bundle %s contains no rules", path)
	}
	return b.Rules, nil
}

// GovernancePolicies returns the resolved policies
func (b *Bundle) GovernancePolicies() []types.GovernancePolicy {
	policies := make([]types.GovernancePolicy, len(b.Policies))
	for i, p := range b.Policies {
		policies[i] = p.GovernancePolicy
	}
	return policies
}

// Validate ensures the bundle is well formed and ids are unique
func (b *Bundle) Validate() error {
	if b.Version != Version {
		return fmt.Errorf("unsupported version %q (want %q)", b.Version, Version)
	}

	seen := make(map[string]bool, len(b.Rules))
	for _, r := range b.Rules {
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}

	seen = make(map[string]bool, len(b.Policies))
	for _, p := range b.Policies {
		if err := validate.Struct(p.GovernancePolicy); err != nil {
			return fmt.Errorf("policy %q: %w", p.ID, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate policy id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
