package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration validates that a duration is greater than zero.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is >= 0. Useful
// for optional delays where zero disables the wait.
func ValidateNonNegativeDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("duration must be non-negative, got %v", d)
	}
	return nil
}

// ValidateIntRange validates that v is within [min, max] inclusive.
func ValidateIntRange(v, min, max int) error {
	if min > max {
		return fmt.Errorf("invalid range: min (%d) cannot be greater than max (%d)", min, max)
	}
	if v < min || v > max {
		return fmt.Errorf("value %d outside range [%d, %d]", v, min, max)
	}
	return nil
}

// ValidateNonNegativeInt validates that v is >= 0. Zero usually means
// "no limit" for the pipeline's ceilings.
func ValidateNonNegativeInt(v int) error {
	if v < 0 {
		return fmt.Errorf("value must be non-negative, got %d", v)
	}
	return nil
}

// ValidateNonNegativeFloat validates that v is >= 0. Zero disables the
// feature the value tunes.
func ValidateNonNegativeFloat(v float64) error {
	if v < 0 {
		return fmt.Errorf("value must be non-negative, got %g", v)
	}
	return nil
}
