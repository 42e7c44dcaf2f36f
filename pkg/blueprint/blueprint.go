package blueprint

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/pkg/types"
)

// Version is the current blueprint document version.
const Version = 1

// Actor is the portable description of one actor. Env is deliberately
// absent: private env never leaves the runtime home.
type Actor struct {
	ID      string           `yaml:"id"`
	Runtime string           `yaml:"runtime,omitempty"`
	Runner  types.RunnerKind `yaml:"runner"`
	Command []string         `yaml:"command,omitempty"`
	Profile string           `yaml:"profile,omitempty"`
	Enabled bool             `yaml:"enabled"`
}

// Blueprint is a group's portable shape: configuration without history.
// Ledger events, read cursors, IM bindings, and secrets are all
// excluded, so importing yields a fresh group that behaves the same.
type Blueprint struct {
	Version  int
	Title    string
	Topic    string
	Settings *types.Settings
	Scopes   []types.Scope
	Actors   []Actor
	Rules    []types.Rule
}

// document is the on-disk YAML shape. Settings and rules pass through
// their JSON names so blueprint keys match what settings.update and
// automation.update accept.
type document struct {
	Version  int              `yaml:"version"`
	Title    string           `yaml:"title,omitempty"`
	Topic    string           `yaml:"topic,omitempty"`
	Settings map[string]any   `yaml:"settings,omitempty"`
	Scopes   []types.Scope    `yaml:"scopes,omitempty"`
	Actors   []Actor          `yaml:"actors,omitempty"`
	Rules    []map[string]any `yaml:"rules,omitempty"`
}

// Export renders a group's configuration as a YAML blueprint.
func Export(g *types.Group, actors []*types.Actor, rs types.Ruleset) ([]byte, error) {
	doc := document{
		Version: Version,
		Title:   g.Title,
		Topic:   g.Topic,
		Scopes:  append([]types.Scope(nil), g.Scopes...),
	}
	var err error
	if doc.Settings, err = toJSONMap(g.Settings); err != nil {
		return nil, err
	}
	for _, rule := range rs.Rules {
		m, err := toJSONMap(rule)
		if err != nil {
			return nil, err
		}
		doc.Rules = append(doc.Rules, m)
	}
	for _, a := range actors {
		doc.Actors = append(doc.Actors, Actor{
			ID:      a.ID,
			Runtime: a.Runtime,
			Runner:  a.Runner,
			Command: append([]string(nil), a.Command...),
			Profile: a.Profile,
			Enabled: a.Enabled,
		})
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}
	return out, nil
}

// Parse decodes and validates a blueprint document.
func Parse(raw []byte) (*Blueprint, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, types.E(types.ErrInvalidPayload, "malformed blueprint: %v", err)
	}
	if doc.Version != Version {
		return nil, types.E(types.ErrInvalidPayload, "unsupported blueprint version %d", doc.Version)
	}

	bp := &Blueprint{
		Version: doc.Version,
		Title:   doc.Title,
		Topic:   doc.Topic,
		Scopes:  doc.Scopes,
		Actors:  doc.Actors,
	}

	for _, sc := range doc.Scopes {
		if sc.Key == "" || sc.Path == "" {
			return nil, types.E(types.ErrInvalidPayload, "blueprint scope requires key and path")
		}
	}

	seen := make(map[string]bool, len(doc.Actors))
	for _, a := range doc.Actors {
		if a.ID == "" {
			return nil, types.E(types.ErrInvalidPayload, "blueprint actor requires id")
		}
		if seen[a.ID] {
			return nil, types.E(types.ErrInvalidPayload, "duplicate blueprint actor %q", a.ID)
		}
		seen[a.ID] = true
		switch a.Runner {
		case types.RunnerPTY, types.RunnerHeadless:
		default:
			return nil, types.E(types.ErrInvalidPayload, "actor %s: unknown runner %q", a.ID, a.Runner)
		}
	}

	if len(doc.Settings) > 0 {
		var s types.Settings
		if err := fromJSONMap(doc.Settings, &s); err != nil {
			return nil, types.E(types.ErrInvalidPayload, "malformed blueprint settings: %v", err)
		}
		bp.Settings = &s
	}

	for i, m := range doc.Rules {
		var rule types.Rule
		if err := fromJSONMap(m, &rule); err != nil {
			return nil, types.E(types.ErrInvalidPayload, "malformed blueprint rule %d: %v", i, err)
		}
		bp.Rules = append(bp.Rules, rule)
	}
	rs := types.Ruleset{Rules: bp.Rules}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return bp, nil
}

func toJSONMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint section: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode blueprint section: %w", err)
	}
	return m, nil
}

// fromJSONMap normalizes yaml's types (time.Time scalars included)
// through JSON into the typed destination.
func fromJSONMap(m map[string]any, dst any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
