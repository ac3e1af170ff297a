// Duration distributions for synthetic agent sessions
// Accepts "300ms +/- 100ms", "300ms ± 100ms" or a fixed "300ms"
package sessiongen

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Distribution is a normally distributed duration.
type Distribution struct {
	Mean   time.Duration
	StdDev time.Duration
}

// ParseDistribution parses the mean/deviation form.
func ParseDistribution(s string) (Distribution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Distribution{}, fmt.Errorf("duration is required (e.g. '300ms', '1s +/- 200ms')")
	}
	meanStr, devStr, varied := strings.Cut(s, "+/-")
	if !varied {
		meanStr, devStr, varied = strings.Cut(s, "±")
	}

	mean, err := time.ParseDuration(strings.TrimSpace(meanStr))
	if err != nil {
		return Distribution{}, fmt.Errorf("invalid mean duration: %w", err)
	}
	if mean <= 0 {
		return Distribution{}, fmt.Errorf("mean duration must be positive, got %s", mean)
	}
	if !varied {
		return Distribution{Mean: mean}, nil
	}
	dev, err := time.ParseDuration(strings.TrimSpace(devStr))
	if err != nil {
		return Distribution{}, fmt.Errorf("invalid deviation: %w", err)
	}
	if dev < 0 {
		return Distribution{}, fmt.Errorf("deviation must not be negative, got %s", dev)
	}
	return Distribution{Mean: mean, StdDev: dev}, nil
}

// Sample draws a duration, never below one microsecond.
func (d Distribution) Sample(rng *rand.Rand) time.Duration {
	v := d.Mean
	if d.StdDev > 0 {
		v = time.Duration(float64(d.Mean) + rng.NormFloat64()*float64(d.StdDev))
	}
	return max(v, time.Microsecond)
}

func (d Distribution) String() string {
	if d.StdDev == 0 {
		return d.Mean.String()
	}
	return fmt.Sprintf("%s +/- %s", d.Mean, d.StdDev)
}

// UnmarshalYAML reads a distribution from its string form.
func (d *Distribution) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDistribution(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

// MarshalYAML writes the string form.
func (d Distribution) MarshalYAML() (any, error) {
	return d.String(), nil
}
