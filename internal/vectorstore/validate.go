package vectorstore

import (
	"fmt"
	"regexp"
)

// safeIdentifier matches category names and filter/metadata keys:
// alphanumeric plus underscore with a leading letter or underscore.
// Anything else is rejected to keep filter expressions injection-free.
var safeIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedMetadataKeys are injected by the store and cannot be
// supplied by callers.
var reservedMetadataKeys = map[string]bool{
	updatedAtKey: true,
}

// validateCategory checks a category (table) name.
func validateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("%w: category cannot be empty", ErrValidation)
	}
	if !safeIdentifier.MatchString(category) {
		return fmt.Errorf("%w: unsafe category name %q", ErrValidation, category)
	}
	return nil
}

// validateFilterKeys checks metadata filter keys against the safe
// identifier pattern.
func validateFilterKeys(filters map[string]string) error {
	for key := range filters {
		if !safeIdentifier.MatchString(key) {
			return fmt.Errorf("%w: unsafe filter key %q", ErrValidation, key)
		}
	}
	return nil
}

// validateMetadataKeys checks row metadata keys at write time.
func validateMetadataKeys(metadata map[string]string) error {
	for key := range metadata {
		if !safeIdentifier.MatchString(key) {
			return fmt.Errorf("%w: unsafe metadata key %q", ErrValidation, key)
		}
		if reservedMetadataKeys[key] {
			return fmt.Errorf("%w: metadata key %q is reserved", ErrValidation, key)
		}
	}
	return nil
}
