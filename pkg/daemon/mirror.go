package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// groupMirror is the human-readable group.yaml written next to each
// ledger. The ledger stays the source of truth; the mirror is for
// inspection and editors, regenerated on every config change.
type groupMirror struct {
	ID       string           `yaml:"id"`
	Title    string           `yaml:"title,omitempty"`
	Topic    string           `yaml:"topic,omitempty"`
	State    types.GroupState `yaml:"state"`
	Scopes   []mirrorScope    `yaml:"scopes,omitempty"`
	Settings map[string]any   `yaml:"settings,omitempty"`
	Actors   []mirrorActor    `yaml:"actors,omitempty"`
	IM       *mirrorIM        `yaml:"im,omitempty"`
}

type mirrorScope struct {
	Key  string `yaml:"key"`
	Path string `yaml:"path"`
}

type mirrorActor struct {
	ID      string           `yaml:"id"`
	Role    types.ActorRole  `yaml:"role"`
	Runtime string           `yaml:"runtime,omitempty"`
	Runner  types.RunnerKind `yaml:"runner"`
	Enabled bool             `yaml:"enabled"`
}

type mirrorIM struct {
	Platform  string `yaml:"platform"`
	ChannelID string `yaml:"channel_id"`
}

// mirrorGroup rewrites group.yaml from the current projection. Failures
// are logged, never surfaced: the mirror is advisory.
func (d *Daemon) mirrorGroup(groupID string) {
	g := d.proj.Group(groupID)
	if g == nil {
		return
	}
	m := groupMirror{
		ID:    g.ID,
		Title: g.Title,
		Topic: g.Topic,
		State: g.State,
	}
	for _, sc := range g.Scopes {
		m.Scopes = append(m.Scopes, mirrorScope{Key: sc.Key, Path: sc.Path})
	}
	for _, a := range d.proj.Actors(groupID) {
		m.Actors = append(m.Actors, mirrorActor{
			ID: a.ID, Role: a.Role, Runtime: a.Runtime, Runner: a.Runner, Enabled: a.Enabled,
		})
	}
	if g.IMBinding != nil {
		m.IM = &mirrorIM{Platform: g.IMBinding.Platform, ChannelID: g.IMBinding.ChannelID}
	}
	m.Settings = settingsMap(g.Settings)

	raw, err := yaml.Marshal(&m)
	if err != nil {
		lg := log.WithGroupID(groupID)
		lg.Warn().Err(err).Msg("failed to encode group mirror")
		return
	}
	path := filepath.Join(d.store.GroupDir(groupID), "group.yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		lg := log.WithGroupID(groupID)
		lg.Warn().Err(err).Msg("failed to write group mirror")
	}
}

// settingsMap renders settings through their JSON names so the mirror
// matches what settings.update accepts.
func settingsMap(s types.Settings) map[string]any {
	raw, err := s.MarshalJSON()
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
