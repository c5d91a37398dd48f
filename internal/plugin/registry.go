package plugin

import (
	"sync"

	"github.com/rs/zerolog"
)

// Info is the registry's record for one plugin. The Instance and Context
// fields are exclusively owned: only the Loader populates or clears them.
type Info struct {
	// Metadata describes the plugin. Replaced with true metadata on load.
	Metadata *Metadata

	// Manifest is the declarative source, when the plugin came from one.
	Manifest *Manifest

	// Origin identifies where the plugin's code comes from.
	Origin Origin

	// State is the current lifecycle state.
	State State

	// Instance is the live entry object; nil unless loaded.
	Instance Instance

	// Context is the activation context; nil unless activated.
	Context *Context

	// Err is the last error recorded for the plugin.
	Err error

	// LoadOrder is the resolver-computed load index; -1 until resolved.
	LoadOrder int

	// discoveryOrder is the registration ordinal, used for deterministic
	// resolver tie-breaking.
	discoveryOrder int
}

// Registry is the authoritative store of plugin metadata and lifecycle
// state. It is internally synchronized; one instance serves the whole
// host. Secondary indices (by state, by capability) stay consistent with
// the primary map after every mutating call.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Info
	order   []string // registration order

	byState      map[State]map[string]struct{}
	byCapability map[string]map[string]struct{}

	log zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	r := &Registry{
		plugins:      make(map[string]*Info),
		byState:      make(map[State]map[string]struct{}),
		byCapability: make(map[string]map[string]struct{}),
		log:          log,
	}
	return r
}

// Register adds a plugin. Returns false without mutating anything when the
// id is already registered.
func (r *Registry) Register(info *Info) bool {
	if info == nil || info.Metadata == nil || info.Metadata.ID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := info.Metadata.ID
	if _, exists := r.plugins[id]; exists {
		r.log.Debug().Str("plugin", id).Msg("duplicate registration rejected")
		return false
	}

	info.discoveryOrder = len(r.order)
	if info.LoadOrder == 0 {
		info.LoadOrder = -1
	}
	r.plugins[id] = info
	r.order = append(r.order, id)
	r.indexState(id, info.State)
	for _, capability := range info.Metadata.Capabilities {
		r.indexCapability(id, capability)
	}
	return true
}

// Unregister removes a plugin and its index entries. Returns false for
// unknown ids.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.plugins[id]
	if !exists {
		return false
	}

	delete(r.plugins, id)
	for i, n := range r.order {
		if n == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.unindexState(id, info.State)
	for _, capability := range info.Metadata.Capabilities {
		delete(r.byCapability[capability], id)
	}
	return true
}

// Get returns a snapshot of the plugin info for an id. The snapshot is
// taken under the registry lock; later transitions do not show through
// it, so callers re-read after mutating calls. Returning the live record
// would let callers race against the monitor and loader goroutines.
func (r *Registry) Get(id string) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return snapshotInfo(info), true
}

// All returns a snapshot of every registered plugin in registration
// order.
func (r *Registry) All() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshotInfo(r.plugins[id]))
	}
	return out
}

// IDs returns every registered id in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ByState returns plugins currently in the given state, in registration
// order.
func (r *Registry) ByState(state State) []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byState[state]
	out := make([]*Info, 0, len(ids))
	for _, id := range r.order {
		if _, ok := ids[id]; ok {
			out = append(out, snapshotInfo(r.plugins[id]))
		}
	}
	return out
}

// ByCapability returns plugins declaring the given capability, in
// registration order.
func (r *Registry) ByCapability(capability string) []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCapability[capability]
	out := make([]*Info, 0, len(ids))
	for _, id := range r.order {
		if _, ok := ids[id]; ok {
			out = append(out, snapshotInfo(r.plugins[id]))
		}
	}
	return out
}

// UpdateState applies a lifecycle transition. Transitions absent from the
// transition table return false and leave the state untouched.
func (r *Registry) UpdateState(id string, next State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.plugins[id]
	if !exists {
		return false
	}
	if !info.State.CanTransition(next) {
		r.log.Debug().
			Str("plugin", id).
			Str("from", info.State.String()).
			Str("to", next.String()).
			Msg("illegal state transition rejected")
		return false
	}

	r.unindexState(id, info.State)
	info.State = next
	r.indexState(id, next)
	return true
}

// SetInstance records the live instance for a plugin. Loader use only.
func (r *Registry) SetInstance(id string, inst Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.Instance = inst
	}
}

// SetContext records the activation context for a plugin. Loader use only.
func (r *Registry) SetContext(id string, ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.Context = ctx
	}
}

// SetMetadata replaces a plugin's metadata, reindexing capabilities.
// Used by the Loader when the true metadata supersedes a placeholder.
func (r *Registry) SetMetadata(id string, meta *Metadata) {
	if meta == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.plugins[id]
	if !ok {
		return
	}
	for _, capability := range info.Metadata.Capabilities {
		delete(r.byCapability[capability], id)
	}
	meta.ID = id // identity never changes after registration
	info.Metadata = meta
	for _, capability := range meta.Capabilities {
		r.indexCapability(id, capability)
	}
}

// SetError stores the last error for a plugin.
func (r *Registry) SetError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.Err = err
	}
}

// ClearError clears the stored error for a plugin.
func (r *Registry) ClearError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.Err = nil
	}
}

// SetLoadOrder records the resolver-computed load index.
func (r *Registry) SetLoadOrder(id string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.plugins[id]; ok {
		info.LoadOrder = index
	}
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// indexState must be called with mu held.
func (r *Registry) indexState(id string, state State) {
	if r.byState[state] == nil {
		r.byState[state] = make(map[string]struct{})
	}
	r.byState[state][id] = struct{}{}
}

// unindexState must be called with mu held.
func (r *Registry) unindexState(id string, state State) {
	delete(r.byState[state], id)
}

// indexCapability must be called with mu held.
func (r *Registry) indexCapability(id, capability string) {
	if r.byCapability[capability] == nil {
		r.byCapability[capability] = make(map[string]struct{})
	}
	r.byCapability[capability][id] = struct{}{}
}

// snapshotInfo must be called with mu held. A shallow copy is enough:
// State, Err and LoadOrder are the fields mutated after registration, and
// Metadata is replaced wholesale rather than edited in place.
func snapshotInfo(info *Info) *Info {
	cp := *info
	return &cp
}
