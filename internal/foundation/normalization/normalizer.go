// Package normalization maps free-form configuration strings onto typed enums.
package normalization

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Normalizer converts case- and whitespace-insensitive strings into values of T.
type Normalizer[T comparable] struct {
	values       map[string]T
	defaultValue T
	keys         []string
}

// NewNormalizer creates a normalizer over the given key/value table. Keys are
// folded the same way inputs are, so "Module-Set" and "module_set" both work
// when the table lists one of them.
func NewNormalizer[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	folded := make(map[string]T, len(values))
	for k, v := range values {
		folded[fold(k)] = v
	}
	return &Normalizer[T]{
		values:       folded,
		defaultValue: defaultValue,
		keys:         slices.Sorted(maps.Keys(folded)),
	}
}

// Normalize returns the value for raw, or the default when raw is not recognized.
func (n *Normalizer[T]) Normalize(raw string) T {
	if v, ok := n.values[fold(raw)]; ok {
		return v
	}
	return n.defaultValue
}

// NormalizeWithError is Normalize with an error for unrecognized input. Empty
// input yields the default.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	if strings.TrimSpace(raw) == "" {
		return n.defaultValue, nil
	}
	if v, ok := n.values[fold(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q, valid options: %v", raw, n.keys)
}

// ValidKeys returns the accepted spellings in sorted order.
func (n *Normalizer[T]) ValidKeys() []string {
	return slices.Clone(n.keys)
}

func fold(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}
