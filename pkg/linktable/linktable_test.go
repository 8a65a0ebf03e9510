package linktable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

func TestApplySpecAndLookup(t *testing.T) {
	table := New()
	spec := wasmtypes.ComponentSpec{
		SourceID: "component-a",
		Links: []wasmtypes.LinkDefinition{
			{
				SourceID:     "component-a",
				Target:       "kvredis",
				WitNamespace: "wasi",
				WitPackage:   "keyvalue",
				Interfaces:   []string{"store", "atomics"},
				LinkName:     "default",
			},
		},
	}
	table.ApplySpec("component-a", spec)

	target, ok := table.Lookup("component-a", "", "wasi", "keyvalue", "store")
	require.True(t, ok)
	require.Equal(t, "kvredis", target)

	_, ok = table.Lookup("component-a", "", "wasi", "keyvalue", "unknown-iface")
	require.False(t, ok)
}

func TestLookupMissingSourceReturnsFalse(t *testing.T) {
	table := New()
	_, ok := table.Lookup("nonexistent", "", "wasi", "http", "handler")
	require.False(t, ok)
}

func TestApplySpecReplacesPriorLinks(t *testing.T) {
	table := New()
	table.ApplySpec("component-a", wasmtypes.ComponentSpec{
		SourceID: "component-a",
		Links: []wasmtypes.LinkDefinition{
			{SourceID: "component-a", Target: "old-target", WitNamespace: "wasi", WitPackage: "http", Interfaces: []string{"handler"}},
		},
	})
	table.ApplySpec("component-a", wasmtypes.ComponentSpec{
		SourceID: "component-a",
		Links: []wasmtypes.LinkDefinition{
			{SourceID: "component-a", Target: "new-target", WitNamespace: "wasi", WitPackage: "http", Interfaces: []string{"handler"}},
		},
	})

	target, ok := table.Lookup("component-a", "", "wasi", "http", "handler")
	require.True(t, ok)
	require.Equal(t, "new-target", target)
}

func TestRemoveDropsAllLinksForSource(t *testing.T) {
	table := New()
	table.ApplySpec("component-a", wasmtypes.ComponentSpec{
		SourceID: "component-a",
		Links: []wasmtypes.LinkDefinition{
			{SourceID: "component-a", Target: "t", WitNamespace: "wasi", WitPackage: "http", Interfaces: []string{"handler"}},
		},
	})
	table.Remove("component-a")

	_, ok := table.Lookup("component-a", "", "wasi", "http", "handler")
	require.False(t, ok)
	require.Empty(t, table.Hints("component-a"))
}

func TestCallAliasRoundTrip(t *testing.T) {
	table := New()
	table.RegisterAlias("frontend", "component-a")

	id, ok := table.ResolveAlias("frontend")
	require.True(t, ok)
	require.Equal(t, "component-a", id)

	table.RemoveAlias("frontend")
	_, ok = table.ResolveAlias("frontend")
	require.False(t, ok)
}

func TestHintsReturnsConfiguredLinks(t *testing.T) {
	table := New()
	spec := wasmtypes.ComponentSpec{
		SourceID: "component-a",
		Links: []wasmtypes.LinkDefinition{
			{SourceID: "component-a", Target: "kvredis", WitNamespace: "wasi", WitPackage: "keyvalue", Interfaces: []string{"store"}},
		},
	}
	table.ApplySpec("component-a", spec)

	hints := table.Hints("component-a")
	require.Len(t, hints, 1)
	require.Equal(t, "kvredis", hints[0].Target)
}
