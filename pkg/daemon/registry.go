package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

// RegistryGroup is the index entry for one group. The ledger is the
// source of truth; the registry exists so listing groups never requires
// opening every ledger.
type RegistryGroup struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type registryData struct {
	Groups   []RegistryGroup               `json:"groups"`
	Profiles map[string]types.ActorProfile `json:"actor_profiles,omitempty"`
}

// Registry is the daemon-wide index at <home>/registry.json. Writes are
// atomic via temp file + rename.
type Registry struct {
	path string

	mu   sync.Mutex
	data registryData
}

// LoadRegistry reads the registry, or starts empty if absent.
func LoadRegistry(home string) (*Registry, error) {
	r := &Registry{path: filepath.Join(home, "registry.json")}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, types.E(types.ErrIO, "failed to read registry: %v", err)
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, types.E(types.ErrIO, "malformed registry: %v", err)
	}
	return r, nil
}

func (r *Registry) save() error {
	raw, err := json.MarshalIndent(&r.data, "", "  ")
	if err != nil {
		return types.E(types.ErrInternal, "failed to encode registry: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*")
	if err != nil {
		return types.E(types.ErrIO, "failed to write registry: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return types.E(types.ErrIO, "failed to write registry: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return types.E(types.ErrIO, "failed to sync registry: %v", err)
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return types.E(types.ErrIO, "failed to replace registry: %v", err)
	}
	return nil
}

// AddGroup records a group in the index.
func (r *Registry) AddGroup(g RegistryGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.data.Groups {
		if existing.ID == g.ID {
			r.data.Groups[i] = g
			return r.save()
		}
	}
	r.data.Groups = append(r.data.Groups, g)
	sort.Slice(r.data.Groups, func(i, j int) bool {
		return r.data.Groups[i].CreatedAt.Before(r.data.Groups[j].CreatedAt)
	})
	return r.save()
}

// RemoveGroup drops a group from the index.
func (r *Registry) RemoveGroup(groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.data.Groups[:0]
	for _, g := range r.data.Groups {
		if g.ID != groupID {
			kept = append(kept, g)
		}
	}
	r.data.Groups = kept
	return r.save()
}

// Groups returns the indexed groups in creation order.
func (r *Registry) Groups() []RegistryGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RegistryGroup(nil), r.data.Groups...)
}

// Profile looks up a named actor profile.
func (r *Registry) Profile(name string) (types.ActorProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.Profiles[name]
	return p, ok
}

// SetProfile stores a named actor profile.
func (r *Registry) SetProfile(p types.ActorProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data.Profiles == nil {
		r.data.Profiles = make(map[string]types.ActorProfile)
	}
	r.data.Profiles[p.Name] = p
	return r.save()
}
