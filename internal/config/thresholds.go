package config

import "fmt"

// RoutingConfig tunes intent classification and its offline fallback.
type RoutingConfig struct {
	// Inputs longer than this with no evidence fall back to extraction.
	ExtractionFallbackChars int `yaml:"extraction_fallback_chars"`
	// User text is truncated to this many characters before classification.
	ClassificationInputLimit int     `yaml:"classification_input_limit"`
	Temperature              float32 `yaml:"temperature"`
}

// DefaultRoutingConfig returns the historical routing thresholds.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		ExtractionFallbackChars:  500,
		ClassificationInputLimit: 1000,
		Temperature:              0.1,
	}
}

// ValidationConfig tunes the local chunk-quality heuristics.
type ValidationConfig struct {
	SmallSampleThreshold int `yaml:"small_sample_threshold"`
}

// DefaultValidationConfig returns the historical validation thresholds.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{SmallSampleThreshold: 5}
}

// ConfidenceRequirement is the minimum evidence needed to report a level.
type ConfidenceRequirement struct {
	MinTypes  int `yaml:"min_types"`
	MinChunks int `yaml:"min_chunks"`
}

// ConfidenceConfig caps reported confidence by the evidence actually present.
type ConfidenceConfig struct {
	High   ConfidenceRequirement `yaml:"high"`
	Medium ConfidenceRequirement `yaml:"medium"`
}

// DefaultConfidenceConfig returns the historical confidence requirements.
func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		High:   ConfidenceRequirement{MinTypes: 3, MinChunks: 8},
		Medium: ConfidenceRequirement{MinTypes: 2, MinChunks: 4},
	}
}

// Ceiling returns the highest confidence level the evidence base supports:
// "high", "medium" or "low".
func (c ConfidenceConfig) Ceiling(distinctTypes, chunks int) string {
	switch {
	case distinctTypes >= c.High.MinTypes && chunks >= c.High.MinChunks:
		return "high"
	case distinctTypes >= c.Medium.MinTypes && chunks >= c.Medium.MinChunks:
		return "medium"
	default:
		return "low"
	}
}

func (c ConfidenceConfig) validate() error {
	if c.High.MinChunks < c.Medium.MinChunks || c.High.MinTypes < c.Medium.MinTypes {
		return fmt.Errorf("confidence.high requirements must not be below confidence.medium")
	}
	return nil
}
