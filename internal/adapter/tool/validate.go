package tool

import (
	"fmt"
	"strings"
)

// RequireField returns an error if value is empty or only whitespace.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateFloatRange checks that value is within [lo, hi].
func ValidateFloatRange(name string, value, lo, hi float64) error {
	if value < lo || value > hi {
		return fmt.Errorf("%s must be between %g and %g", name, lo, hi)
	}
	return nil
}

// ValidateRange checks that value is within [lo, hi].
func ValidateRange(name string, value, lo, hi int) error {
	if value < lo || value > hi {
		return fmt.Errorf("%s must be %d-%d", name, lo, hi)
	}
	return nil
}

// ValidateAll returns the first non-nil error from the given list.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
