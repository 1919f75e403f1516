package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec is a base level with per-component overrides.
//
// Format: "<base-level>[,<component>=<level>]..."
//
// Component names are dotted paths. A component without an override
// of its own inherits the level of its closest configured parent, so
// "store=trace" also covers "store.sqlite".
//
// Examples:
//   - "info"
//   - "warn,manager=debug"
//   - "info,table=debug,store=trace,idle=off"
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses a log specification. An empty string means info
// with no overrides.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		component, levelStr, ok := strings.Cut(part, "=")
		if !ok {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}

		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
		}
		spec.Components[component] = level
	}
	return spec, nil
}

// LevelFor returns the effective level of a component.
func (s *Spec) LevelFor(component string) Level {
	for component != "" {
		if level, ok := s.Components[component]; ok {
			return level
		}
		i := strings.LastIndexByte(component, '.')
		if i < 0 {
			break
		}
		component = component[:i]
	}
	return s.BaseLevel
}

// Min returns the most verbose level any component is configured at.
func (s *Spec) Min() Level {
	lowest := s.BaseLevel
	for _, l := range s.Components {
		lowest = min(lowest, l)
	}
	return lowest
}

// String returns the spec in parseable form with components sorted by
// name.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, c := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, c+"="+s.Components[c].String())
	}
	return strings.Join(parts, ",")
}
