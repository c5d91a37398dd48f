package plugin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolverFixture(t *testing.T, metas ...*Metadata) (*Registry, *Resolver) {
	t.Helper()
	r := NewRegistry(zerolog.Nop())
	for _, m := range metas {
		require.True(t, r.Register(&Info{Metadata: m, State: StateDiscovered}), "register %s", m.ID)
	}
	return r, NewResolver(r, zerolog.Nop())
}

func TestResolveIndependentKeepsDiscoveryOrder(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "c", Name: "c", Version: "1.0.0"},
		&Metadata{ID: "a", Name: "a", Version: "1.0.0"},
		&Metadata{ID: "b", Name: "b", Version: "1.0.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, resolution.Order)
	assert.Empty(t, resolution.Unmet)
}

func TestResolveDependencyPrecedesDependent(t *testing.T) {
	reg, res := resolverFixture(t,
		&Metadata{ID: "app", Name: "app", Version: "1.0.0", Dependencies: []string{"lib@>=1.0.0"}},
		&Metadata{ID: "lib", Name: "lib", Version: "1.2.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"lib", "app"}, resolution.Order)

	lib, _ := reg.Get("lib")
	app, _ := reg.Get("app")
	assert.Less(t, lib.LoadOrder, app.LoadOrder)
}

func TestResolveChain(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "top", Name: "top", Version: "1.0.0", Dependencies: []string{"mid"}},
		&Metadata{ID: "mid", Name: "mid", Version: "1.0.0", Dependencies: []string{"base"}},
		&Metadata{ID: "base", Name: "base", Version: "1.0.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "mid", "top"}, resolution.Order)
}

func TestResolveCycleAborts(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "x", Name: "x", Version: "1.0.0", Dependencies: []string{"y"}},
		&Metadata{ID: "y", Name: "y", Version: "1.0.0", Dependencies: []string{"x"}},
	)

	resolution, err := res.Resolve()
	require.ErrorIs(t, err, ErrDependencyCycle)
	assert.Nil(t, resolution)
}

func TestResolveSelfCycleAborts(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "x", Name: "x", Version: "1.0.0", Dependencies: []string{"x"}},
	)

	_, err := res.Resolve()
	require.ErrorIs(t, err, ErrDependencyCycle)
}

func TestResolveMissingDependencyIsUnmetNotFatal(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "app", Name: "app", Version: "1.0.0", Dependencies: []string{"ghost@>=1.0.0"}},
		&Metadata{ID: "other", Name: "other", Version: "1.0.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)

	// The plugin is still ordered, just flagged.
	assert.Contains(t, resolution.Order, "app")
	assert.False(t, resolution.Eligible("app"))
	assert.True(t, resolution.Eligible("other"))
	assert.Contains(t, resolution.Unmet["app"][0], "ghost")
}

func TestResolveVersionMismatchIsUnmet(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "app", Name: "app", Version: "1.0.0", Dependencies: []string{"lib@>=2.0.0"}},
		&Metadata{ID: "lib", Name: "lib", Version: "1.2.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.False(t, resolution.Eligible("app"))
	require.Len(t, resolution.Unmet["app"], 1)
	assert.Contains(t, resolution.Unmet["app"][0], ">=2.0.0")
}

func TestResolveOptionalDependencyNeverGates(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "app", Name: "app", Version: "1.0.0", Dependencies: []string{"ghost?"}},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.True(t, resolution.Eligible("app"))
	assert.Equal(t, []string{"app"}, resolution.Order)
}

func TestResolveOptionalWithinSetStillOrders(t *testing.T) {
	// Optional edges do not create ordering constraints; both plugins are
	// ordered by discovery.
	_, res := resolverFixture(t,
		&Metadata{ID: "app", Name: "app", Version: "1.0.0", Dependencies: []string{"lib?"}},
		&Metadata{ID: "lib", Name: "lib", Version: "1.0.0"},
	)

	resolution, err := res.Resolve()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app", "lib"}, resolution.Order)
}

func TestResolveSubset(t *testing.T) {
	_, res := resolverFixture(t,
		&Metadata{ID: "a", Name: "a", Version: "1.0.0"},
		&Metadata{ID: "b", Name: "b", Version: "1.0.0"},
		&Metadata{ID: "c", Name: "c", Version: "1.0.0"},
	)

	resolution, err := res.Resolve("b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, resolution.Order)
}
