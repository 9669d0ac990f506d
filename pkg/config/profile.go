package config

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/HrishiK1107/AuthGuard/pkg/policy"
)

// profileConstraint gates which profile versions this build accepts.
// Bumped together with breaking profile-shape changes.
const profileConstraint = ">= 1.0.0, < 2.0.0"

// Profile is the YAML tuning overlay: detector windows, risk decay, decision
// thresholds, per-rule seeds, and telemetry. Every field has a production
// default; a profile file only needs the keys it changes.
type Profile struct {
	Version string `yaml:"version"`

	WindowSeconds      int     `yaml:"window_seconds"`
	HalfLifeSeconds    int     `yaml:"half_life_seconds"`
	MaxRisk            float64 `yaml:"max_risk"`
	ReplayTTLSeconds   int     `yaml:"replay_ttl_seconds"`
	SuppressionSeconds int     `yaml:"suppression_seconds"`

	Thresholds policy.Thresholds `yaml:"thresholds"`

	Rules map[string]RuleSeed `yaml:"rules"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// RuleSeed is the startup state for one detector rule.
type RuleSeed struct {
	Enabled   *bool    `yaml:"enabled"`
	Threshold *float64 `yaml:"threshold"`
	Guard     string   `yaml:"guard"`
}

// RateLimit bounds the ingest surface per client IP.
type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Telemetry configures the OpenTelemetry export.
type Telemetry struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultProfile is the configuration shipped without a profile file.
func DefaultProfile() Profile {
	return Profile{
		Version:            "1.0.0",
		WindowSeconds:      60,
		HalfLifeSeconds:    300,
		MaxRisk:            100,
		ReplayTTLSeconds:   300,
		SuppressionSeconds: 300,
		Thresholds:         policy.DefaultThresholds(),
		RateLimit:          RateLimit{RPS: 50, Burst: 100},
		Telemetry:          Telemetry{SampleRate: 1.0, Endpoint: "localhost:4317"},
	}
}

// LoadProfile reads a YAML profile, checks its version against the supported
// range, and overlays it on the defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", path, err)
	}

	p := DefaultProfile()
	// The file must declare its own version; the default never stands in.
	p.Version = ""
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}

	if err := checkProfileVersion(p.Version); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func checkProfileVersion(version string) error {
	if version == "" {
		return fmt.Errorf("missing version (expected %s)", profileConstraint)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(profileConstraint)
	if err != nil {
		return fmt.Errorf("constraint %q: %w", profileConstraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s outside supported range %s", version, profileConstraint)
	}
	return nil
}

// Validate rejects profiles the pipeline could not run with.
func (p Profile) Validate() error {
	if p.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", p.WindowSeconds)
	}
	if p.HalfLifeSeconds <= 0 {
		return fmt.Errorf("half_life_seconds must be positive, got %d", p.HalfLifeSeconds)
	}
	if p.MaxRisk <= 0 {
		return fmt.Errorf("max_risk must be positive, got %g", p.MaxRisk)
	}
	if p.ReplayTTLSeconds <= 0 {
		return fmt.Errorf("replay_ttl_seconds must be positive, got %d", p.ReplayTTLSeconds)
	}
	if p.SuppressionSeconds <= 0 {
		return fmt.Errorf("suppression_seconds must be positive, got %d", p.SuppressionSeconds)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return err
	}
	if p.Thresholds.Block > p.MaxRisk {
		return fmt.Errorf("block threshold %g exceeds max_risk %g and could never fire", p.Thresholds.Block, p.MaxRisk)
	}
	if p.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive, got %d", p.RateLimit.RPS)
	}
	if p.RateLimit.Burst < p.RateLimit.RPS {
		return fmt.Errorf("rate_limit.burst %d must be at least rps %d", p.RateLimit.Burst, p.RateLimit.RPS)
	}
	for id, seed := range p.Rules {
		if seed.Threshold != nil && *seed.Threshold < 1 {
			return fmt.Errorf("rule %s: threshold %g must be >= 1", id, *seed.Threshold)
		}
	}
	if p.Telemetry.SampleRate < 0 || p.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate %g must be in [0, 1]", p.Telemetry.SampleRate)
	}
	return nil
}
