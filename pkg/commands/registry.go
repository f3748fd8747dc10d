package commands

import (
	"fmt"
	"strings"
)

// Registry maps command names and aliases to commands. It is immutable after
// construction.
type Registry struct {
	byName      map[string]Command
	descriptors []Descriptor
}

// NewRegistry registers cmds in order. Names are case-insensitive and must be
// unique across names and aliases.
func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{byName: make(map[string]Command, len(cmds))}

	for _, cmd := range cmds {
		if cmd == nil {
			return nil, fmt.Errorf("command is nil")
		}

		d := cmd.Describe()
		name := normalizeName(d.Name)
		if name == "" {
			return nil, fmt.Errorf("command name is required")
		}
		if strings.ContainsAny(name, " \t\n") {
			return nil, fmt.Errorf("command name %q must not contain whitespace", d.Name)
		}

		keys := []string{name}
		for _, alias := range d.Aliases {
			keys = append(keys, normalizeName(alias))
		}
		for _, key := range keys {
			if key == "" {
				return nil, fmt.Errorf("command %q has an empty alias", name)
			}
			if _, exists := r.byName[key]; exists {
				return nil, fmt.Errorf("duplicate command name %q", key)
			}
			r.byName[key] = cmd
		}

		d.Name = name
		r.descriptors = append(r.descriptors, d)
	}

	return r, nil
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.byName[normalizeName(name)]
	return cmd, ok
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
