package logging

import (
	"fmt"
	"sort"
	"strings"
)

// Spec is a parsed logging specification: a base level plus per-component
// overrides.
//
// The textual form is "<base-level>[,<component>=<level>]...":
//
//   - "info"                          base level info
//   - "warn,loader=debug"             base warn, loader at debug
//   - "info,ringbuf=trace,map=debug"  multiple overrides
type Spec struct {
	// BaseLevel applies to every component without an override.
	BaseLevel Level
	// Components maps component names to their overriding levels.
	Components map[string]Level
}

// ParseSpec parses a spec string. The empty string yields the default
// spec: info level, no overrides. The base level, when present, must
// come first.
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

		if idx := strings.Index(part, "="); idx != -1 {
			component := strings.TrimSpace(part[:idx])
			if component == "" {
				return spec, fmt.Errorf("empty component name in %q", part)
			}
			level, err := ParseLevel(part[idx+1:])
			if err != nil {
				return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
			}
			spec.Components[component] = level
			continue
		}

		if i != 0 {
			return spec, fmt.Errorf("base level %q must be first in spec", part)
		}
		level, err := ParseLevel(part)
		if err != nil {
			return spec, err
		}
		spec.BaseLevel = level
	}

	return spec, nil
}

// LevelFor returns the effective level for a component: its override
// if one is configured, the base level otherwise.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String renders the spec in its parseable textual form, with component
// overrides in sorted order.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}

	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, s.Components[name]))
	}
	return strings.Join(parts, ",")
}
