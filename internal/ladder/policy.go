package ladder

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/linkwise/attribution-engine/internal/model"
)

// TierPolicy holds the acceptance threshold and attribution window for one
// tier. Thresholds decrease strictly down the ladder; the window bounds how
// old that tier's evidence may be.
type TierPolicy struct {
	Threshold float64       `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// Policy is the full ladder policy: per-tier thresholds and windows plus
// result lifetime. It is data passed to the orchestrator at construction,
// not constants baked into resolvers.
type Policy struct {
	Tiers     map[model.Method]TierPolicy `yaml:"tiers"`
	ResultTTL time.Duration               `yaml:"result_ttl"`
}

// DefaultPolicy returns the reconciled production policy.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: map[model.Method]TierPolicy{
			model.MethodAffiliateLink:   {Threshold: 0.95, Window: 7 * 24 * time.Hour},
			model.MethodS2SPostback:     {Threshold: 0.85, Window: 7 * 24 * time.Hour},
			model.MethodReceiptMatching: {Threshold: 0.75, Window: 72 * time.Hour},
			model.MethodBehavioral:      {Threshold: 0.60, Window: 24 * time.Hour},
			model.MethodLastTouch:       {Threshold: 0.40, Window: 24 * time.Hour},
			model.MethodDefaultFallback: {Threshold: 0.20, Window: time.Hour},
		},
		ResultTTL: 30 * 24 * time.Hour,
	}
}

// rawTierPolicy mirrors TierPolicy with durations as strings so the YAML
// can say "72h" instead of nanosecond integers.
type rawTierPolicy struct {
	Threshold float64 `yaml:"threshold"`
	Window    string  `yaml:"window"`
}

// LoadPolicy reads a ladder policy from a YAML file. Tiers missing from the
// file keep their default threshold and window.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "ladder: read policy %s", path)
	}

	// The YAML has a top-level "ladder" key.
	var wrapper struct {
		Ladder struct {
			Tiers     map[model.Method]rawTierPolicy `yaml:"tiers"`
			ResultTTL string                         `yaml:"result_ttl"`
		} `yaml:"ladder"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Policy{}, eris.Wrap(err, "ladder: parse policy")
	}

	p := DefaultPolicy()
	if wrapper.Ladder.ResultTTL != "" {
		ttl, err := time.ParseDuration(wrapper.Ladder.ResultTTL)
		if err != nil {
			return Policy{}, eris.Wrap(err, "ladder: parse result_ttl")
		}
		p.ResultTTL = ttl
	}
	for method, tier := range wrapper.Ladder.Tiers {
		merged := p.Tiers[method]
		if tier.Threshold > 0 {
			merged.Threshold = tier.Threshold
		}
		if tier.Window != "" {
			w, err := time.ParseDuration(tier.Window)
			if err != nil {
				return Policy{}, eris.Wrapf(err, "ladder: parse %s window", method)
			}
			merged.Window = w
		}
		p.Tiers[method] = merged
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that the policy is internally consistent: every tier in
// the ladder order has an entry, thresholds are in (0,1], and thresholds
// strictly decrease down the ladder.
func (p Policy) Validate() error {
	prev := 1.0
	for _, method := range model.MethodOrder {
		tier, ok := p.Tiers[method]
		if !ok {
			return eris.Errorf("ladder: policy missing tier %s", method)
		}
		if tier.Threshold <= 0 || tier.Threshold > 1 {
			return eris.Errorf("ladder: tier %s threshold %.2f out of (0,1]", method, tier.Threshold)
		}
		if tier.Threshold >= prev {
			return eris.Errorf("ladder: tier %s threshold %.2f does not decrease", method, tier.Threshold)
		}
		if tier.Window <= 0 {
			return eris.Errorf("ladder: tier %s window must be > 0", method)
		}
		prev = tier.Threshold
	}
	return nil
}

// Tier returns the policy entry for a method, falling back to the defaults
// when the method is unknown.
func (p Policy) Tier(method model.Method) TierPolicy {
	if tier, ok := p.Tiers[method]; ok {
		return tier
	}
	return DefaultPolicy().Tiers[method]
}
