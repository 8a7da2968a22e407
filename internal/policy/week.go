package policy

import (
	"gopkg.in/yaml.v3"

	"github.com/hostfocus/focusd/internal/faults"
	"github.com/hostfocus/focusd/internal/timeline"
)

// Week maps each configured day of the week to its resolved rules. Aliases
// ("tuesday: {like: monday}") are flattened during unmarshalling, so a
// parsed Week only ever holds concrete rules.
type Week map[timeline.DayOfWeek]DayPolicy

// dayEntry is the tagged union behind a day's YAML value: either an alias
// to another day, or concrete instructions. The two variants are mutually
// exclusive.
type dayEntry struct {
	like  *timeline.DayOfWeek
	rules DayPolicy
}

// UnmarshalYAML decodes the day map and resolves aliases with a bounded
// fixed point: with at most 7 days, 7 passes flatten any alias chain, and
// anything still unresolved after that is a cycle.
func (w *Week) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return faults.New(faults.KindParse, "expected a mapping of days, got %s", value.Tag)
	}

	pending := make(map[timeline.DayOfWeek]dayEntry)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		var day timeline.DayOfWeek
		if err := keyNode.Decode(&day); err != nil {
			return err
		}
		if _, dup := pending[day]; dup {
			return faults.New(faults.KindParse, "day %s is defined twice", day)
		}
		entry, err := decodeDayEntry(valNode, day)
		if err != nil {
			return err
		}
		pending[day] = entry
	}

	resolved := make(Week)
	for pass := 0; pass < 7; pass++ {
		for _, day := range timeline.AllDays {
			entry, ok := pending[day]
			if !ok {
				continue
			}
			if entry.like != nil {
				target, ok := resolved[*entry.like]
				if !ok {
					// The alias target isn't resolved yet; retry next pass.
					continue
				}
				resolved[day] = target
			} else {
				resolved[day] = entry.rules
			}
			delete(pending, day)
		}
	}
	if len(pending) > 0 {
		for _, day := range timeline.AllDays {
			if entry, ok := pending[day]; ok {
				return faults.New(faults.KindCycle, "day %s aliases %s but the chain never reaches concrete rules", day, *entry.like)
			}
		}
	}
	*w = resolved
	return nil
}

// decodeDayEntry decodes one day's value, rejecting unknown keys and the
// mixing of "like" with concrete rule fields.
func decodeDayEntry(node *yaml.Node, day timeline.DayOfWeek) (dayEntry, error) {
	if node.Kind != yaml.MappingNode {
		return dayEntry{}, faults.New(faults.KindParse, "day %s: expected a mapping, got %s", day, node.Tag)
	}

	hasLike := false
	hasRules := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch key := node.Content[i].Value; key {
		case "like":
			hasLike = true
		case "processes", "ip", "web":
			hasRules = true
		default:
			return dayEntry{}, faults.New(faults.KindParse, "day %s: unknown field %q (expected like, processes, ip or web)", day, key)
		}
	}
	if hasLike && hasRules {
		return dayEntry{}, faults.New(faults.KindParse, "day %s: cannot combine \"like\" with concrete rules", day)
	}

	if hasLike {
		var alias struct {
			Like timeline.DayOfWeek `yaml:"like"`
		}
		if err := node.Decode(&alias); err != nil {
			return dayEntry{}, err
		}
		like := alias.Like
		return dayEntry{like: &like}, nil
	}

	var rules DayPolicy
	if err := node.Decode(&rules); err != nil {
		return dayEntry{}, err
	}
	return dayEntry{rules: rules}, nil
}
