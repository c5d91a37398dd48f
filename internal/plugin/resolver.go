package plugin

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Resolution is the outcome of one dependency resolution call.
type Resolution struct {
	// Order lists plugin ids in a valid load order: every non-optional
	// dependency precedes its dependent.
	Order []string

	// Unmet maps plugin ids to the reasons their required dependencies
	// cannot be satisfied. Such plugins still receive a load-order index
	// but are excluded from automatic activation.
	Unmet map[string][]string
}

// Eligible reports whether a plugin has no unmet dependencies.
func (r *Resolution) Eligible(id string) bool {
	return len(r.Unmet[id]) == 0
}

// Resolver computes load order from declared dependencies.
type Resolver struct {
	registry *Registry
	log      zerolog.Logger
}

// NewResolver creates a resolver reading from the given registry.
func NewResolver(registry *Registry, log zerolog.Logger) *Resolver {
	return &Resolver{registry: registry, log: log}
}

// Resolve computes a deterministic load order for the given plugin ids,
// or for every registered plugin when none are given.
//
// A dependency cycle aborts the whole call with ErrDependencyCycle: no
// partial order is returned, because no sound order exists. All other
// problems are reported per plugin in Resolution.Unmet.
func (r *Resolver) Resolve(ids ...string) (*Resolution, error) {
	var selected []*Info
	if len(ids) == 0 {
		selected = r.registry.All()
	} else {
		for _, id := range ids {
			info, ok := r.registry.Get(id)
			if !ok {
				r.log.Warn().Str("plugin", id).Msg("resolve requested for unknown plugin")
				continue
			}
			selected = append(selected, info)
		}
	}

	nodes := make(map[string]*Info, len(selected))
	nodeOrder := make([]string, 0, len(selected))
	for _, info := range selected {
		nodes[info.Metadata.ID] = info
		nodeOrder = append(nodeOrder, info.Metadata.ID)
	}

	// Non-optional dependency edges within the selected set. requires maps
	// dependent -> prerequisites; dependents is the reverse adjacency used
	// by Kahn's algorithm.
	requires := make(map[string][]string)
	dependents := make(map[string][]string)
	indegree := make(map[string]int, len(nodes))
	for _, id := range nodeOrder {
		indegree[id] = 0
	}
	for _, id := range nodeOrder {
		deps, err := nodes[id].Metadata.ParsedDependencies()
		if err != nil {
			// Malformed specs were validated away at discovery; treat any
			// stragglers as unmet rather than failing the whole call.
			continue
		}
		for _, dep := range deps {
			if dep.Optional {
				continue
			}
			if _, ok := nodes[dep.ID]; !ok {
				continue // missing target, reported by the unmet pass
			}
			requires[id] = append(requires[id], dep.ID)
			dependents[dep.ID] = append(dependents[dep.ID], id)
			indegree[id]++
		}
	}

	if cycle := findCycle(nodeOrder, requires); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
	}

	order := kahnOrder(nodeOrder, nodes, dependents, indegree)

	unmet := r.unmetPass(nodeOrder, nodes)

	for i, id := range order {
		r.registry.SetLoadOrder(id, i)
	}

	return &Resolution{Order: order, Unmet: unmet}, nil
}

// findCycle runs a DFS with an explicit recursion stack over the
// dependent -> prerequisite edges. It returns one cycle path, or nil.
func findCycle(nodeOrder []string, requires map[string][]string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodeOrder))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range requires[id] {
			switch state[dep] {
			case inStack:
				// Slice the stack from the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range nodeOrder {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// kahnOrder topologically sorts the acyclic graph. Among ready nodes the
// one discovered earliest goes first, making the result deterministic.
func kahnOrder(nodeOrder []string, nodes map[string]*Info, dependents map[string][]string, indegree map[string]int) []string {
	remaining := make(map[string]int, len(indegree))
	for id, deg := range indegree {
		remaining[id] = deg
	}

	order := make([]string, 0, len(nodeOrder))
	for len(order) < len(nodeOrder) {
		next := ""
		for _, id := range nodeOrder {
			if remaining[id] != 0 {
				continue
			}
			if next == "" || nodes[id].discoveryOrder < nodes[next].discoveryOrder {
				next = id
			}
		}
		if next == "" {
			break // unreachable on acyclic input
		}
		order = append(order, next)
		remaining[next] = -1
		for _, dep := range dependents[next] {
			remaining[dep]--
		}
	}
	return order
}

// unmetPass flags plugins whose required dependencies are missing from the
// registry or version-incompatible.
func (r *Resolver) unmetPass(nodeOrder []string, nodes map[string]*Info) map[string][]string {
	unmet := make(map[string][]string)
	for _, id := range nodeOrder {
		deps, err := nodes[id].Metadata.ParsedDependencies()
		if err != nil {
			unmet[id] = append(unmet[id], err.Error())
			continue
		}
		for _, dep := range deps {
			if dep.Optional {
				continue
			}
			target, ok := r.registry.Get(dep.ID)
			if !ok {
				unmet[id] = append(unmet[id],
					fmt.Sprintf("missing dependency %s", dep.ID))
				continue
			}
			if !versionSatisfies(target.Metadata.Version, dep.Range) {
				unmet[id] = append(unmet[id],
					fmt.Sprintf("dependency %s@%s not satisfied by %s",
						dep.ID, dep.Range, target.Metadata.Version))
			}
		}
	}
	return unmet
}
