package glare

import (
	"fmt"
	"sort"
	"strings"
)

// Preset names.
const (
	PresetStandard  = "standard"
	PresetSensitive = "sensitive"
)

// Config holds the thresholds of the glare heuristic.
type Config struct {
	// SumThreshold is the minimum r+g+b (exclusive) for a pixel to count as bright.
	SumThreshold int `json:"sum_threshold" yaml:"sum_threshold"`
	// SaturationThreshold is the maximum max-min channel spread (exclusive)
	// for a pixel to count as desaturated.
	SaturationThreshold int `json:"saturation_threshold" yaml:"saturation_threshold"`
	// FlagPercentThreshold is the glare percentage (exclusive) above which a
	// capture is flagged.
	FlagPercentThreshold float64 `json:"flag_percent_threshold" yaml:"flag_percent_threshold"`
	// MarginFraction is trimmed off each edge before analysis, in [0, 0.5).
	MarginFraction float64 `json:"margin_fraction" yaml:"margin_fraction"`
}

var presets = map[string]Config{
	PresetStandard: {
		SumThreshold:         660,
		SaturationThreshold:  30,
		FlagPercentThreshold: 0.2,
		MarginFraction:       0.10,
	},
	PresetSensitive: {
		SumThreshold:         650,
		SaturationThreshold:  30,
		FlagPercentThreshold: 0.05,
		MarginFraction:       0,
	},
}

// DefaultConfig returns the standard preset.
func DefaultConfig() Config {
	return presets[PresetStandard]
}

// Preset looks up a named threshold set.
func Preset(name string) (Config, bool) {
	c, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// PresetNames returns the known preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every threshold is within range.
func (c Config) Validate() error {
	if c.SumThreshold < 0 || c.SumThreshold > 765 {
		return fmt.Errorf("invalid glare sum threshold: %d (must be between 0 and 765)", c.SumThreshold)
	}
	if c.SaturationThreshold < 0 || c.SaturationThreshold > 256 {
		return fmt.Errorf("invalid glare saturation threshold: %d (must be between 0 and 256)", c.SaturationThreshold)
	}
	if c.FlagPercentThreshold < 0 || c.FlagPercentThreshold > 100 {
		return fmt.Errorf("invalid glare flag threshold: %.3f (must be between 0 and 100)", c.FlagPercentThreshold)
	}
	if c.MarginFraction < 0 || c.MarginFraction >= 0.5 {
		return fmt.Errorf("invalid glare margin fraction: %.3f (must be in [0, 0.5))", c.MarginFraction)
	}
	return nil
}
