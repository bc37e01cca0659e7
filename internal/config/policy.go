package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/botwallet/pkg/ratelimit"
)

// PolicyFileName is the default name of the rate-limit policy file.
const PolicyFileName = "rate-policy.yaml"

// PolicyVersion is the only supported policy format.
const PolicyVersion = 1

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("config: rate policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("config: rate policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("config: rate policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("config: rate policy file not owned by current user")

// RuleOverride replaces one class's limits. Zero fields keep the default.
type RuleOverride struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Policy is the rate-limit policy file.
//
//	version: 1
//	rules:
//	  export-key: {max_attempts: 2, window: 1m, cooldown: 10m}
type Policy struct {
	Version int                     `yaml:"version"`
	Rules   map[string]RuleOverride `yaml:"rules"`
}

// LoadPolicy reads the policy at path. The file is opened without
// following symlinks and checked on the open descriptor: it must be mode
// 0600 and owned by the current user.
func LoadPolicy(path string) (*Policy, error) {
	f, err := openPolicyFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("config: failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the version and that every class and value is known.
func (p *Policy) Validate() error {
	if p.Version != PolicyVersion {
		return fmt.Errorf("config: unsupported policy version: %d", p.Version)
	}
	defaults := ratelimit.DefaultRules()
	for class, r := range p.Rules {
		if _, ok := defaults[class]; !ok {
			return fmt.Errorf("config: unknown rate limit class %q", class)
		}
		if r.MaxAttempts < 0 || r.Window < 0 || r.Cooldown < 0 {
			return fmt.Errorf("config: negative limit for class %q", class)
		}
	}
	return nil
}

// Apply returns rules with the policy's overrides merged in.
func (p *Policy) Apply(rules map[string]ratelimit.Rule) map[string]ratelimit.Rule {
	merged := make(map[string]ratelimit.Rule, len(rules))
	for class, r := range rules {
		merged[class] = r
	}
	for class, o := range p.Rules {
		r := merged[class]
		if o.MaxAttempts > 0 {
			r.MaxAttempts = o.MaxAttempts
		}
		if o.Window > 0 {
			r.Window = o.Window
		}
		if o.Cooldown > 0 {
			r.Cooldown = o.Cooldown
		}
		merged[class] = r
	}
	return merged
}

// RateRules returns the default limits with the policy file applied. A
// missing policy file is not an error.
func (c *Config) RateRules() (map[string]ratelimit.Rule, error) {
	rules := ratelimit.DefaultRules()
	policy, err := LoadPolicy(c.RatePolicy)
	if errors.Is(err, ErrPolicyNotFound) {
		return rules, nil
	}
	if err != nil {
		return nil, err
	}
	return policy.Apply(rules), nil
}
