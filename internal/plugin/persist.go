package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PersistedState is the restart-continuity record for one plugin.
// Instances and contexts are never persisted; they are recreated on load.
type PersistedState struct {
	Origin    Origin `json:"origin"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	LoadOrder int    `json:"load_order"`
}

// Snapshot captures the persistable view of every registered plugin.
func (r *Registry) Snapshot() map[string]PersistedState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]PersistedState, len(r.plugins))
	for id, info := range r.plugins {
		ps := PersistedState{
			Origin:    info.Origin,
			State:     info.State.String(),
			LoadOrder: info.LoadOrder,
		}
		if info.Err != nil {
			ps.Error = info.Err.Error()
		}
		out[id] = ps
	}
	return out
}

// SaveState writes the full snapshot to path.
func (r *Registry) SaveState(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry state: %w", err)
	}
	return nil
}

// PatchStateFile updates a single plugin's entry in an existing state file
// without rewriting the rest of the document.
func (r *Registry) PatchStateFile(path, id string) error {
	info, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = []byte("{}")
		} else {
			return fmt.Errorf("failed to read registry state: %w", err)
		}
	}

	ps := PersistedState{
		Origin:    info.Origin,
		State:     info.State.String(),
		LoadOrder: info.LoadOrder,
	}
	if info.Err != nil {
		ps.Error = info.Err.Error()
	}

	patched, err := sjson.SetBytes(data, escapeStatePath(id), ps)
	if err != nil {
		return fmt.Errorf("failed to patch registry state: %w", err)
	}
	if err := os.WriteFile(path, patched, 0o644); err != nil {
		return fmt.Errorf("failed to write registry state: %w", err)
	}
	return nil
}

// LoadPersistedState reads a state file written by SaveState.
func LoadPersistedState(path string) (map[string]PersistedState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry state: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("registry state %s is not valid JSON", path)
	}

	out := make(map[string]PersistedState)
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		var ps PersistedState
		if err := json.Unmarshal([]byte(value.Raw), &ps); err != nil {
			return true // skip malformed entries
		}
		out[key.String()] = ps
		return true
	})
	return out, nil
}

// escapeStatePath escapes a plugin id for use as a gjson/sjson path, since
// namespaced ids contain dots.
func escapeStatePath(id string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(id)
}
