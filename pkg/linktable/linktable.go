// Package linktable is the host's in-memory index of which target a
// component's imported interface resolves to, read on every outbound
// invocation and written only when a link definition changes. A single
// RWMutex guards the nested map.
package linktable

import (
	"sync"

	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

type nsPkgKey string

func nsPkg(namespace, pkg string) nsPkgKey {
	return nsPkgKey(namespace + ":" + pkg)
}

// Table is the read-heavy, write-serialized link index: source component
// -> link name -> wit namespace:package -> interface -> target id. A
// second, flatter index resolves call aliases to component ids.
type Table struct {
	mu    sync.RWMutex
	links map[string]map[string]map[nsPkgKey]map[string]string
	specs map[string]wasmtypes.ComponentSpec

	aliasMu sync.RWMutex
	aliases map[string]string
}

// New builds an empty link table.
func New() *Table {
	return &Table{
		links:   make(map[string]map[string]map[nsPkgKey]map[string]string),
		specs:   make(map[string]wasmtypes.ComponentSpec),
		aliases: make(map[string]string),
	}
}

// Lookup resolves (sourceID, linkName, namespace, pkg, interfaceName) to
// a target component/provider id. linkName defaults to "default" when
// empty, per the per-invocation override contract.
func (t *Table) Lookup(sourceID, linkName, namespace, pkg, interfaceName string) (string, bool) {
	if linkName == "" {
		linkName = wasmtypes.DefaultLinkName
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	byName, ok := t.links[sourceID]
	if !ok {
		return "", false
	}
	byPkg, ok := byName[linkName]
	if !ok {
		return "", false
	}
	byIface, ok := byPkg[nsPkg(namespace, pkg)]
	if !ok {
		return "", false
	}
	target, ok := byIface[interfaceName]
	return target, ok
}

// Hints lists every configured link for sourceID, for inclusion in a
// NoLink failure so a caller can see what IS configured.
func (t *Table) Hints(sourceID string) []wasmtypes.LinkDefinition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.specs[sourceID]
	if !ok {
		return nil
	}
	out := make([]wasmtypes.LinkDefinition, len(spec.Links))
	copy(out, spec.Links)
	return out
}

// ApplySpec replaces sourceID's whole link set with spec, rebuilding
// the source's maps from spec and swapping them in under one lock
// acquisition, so readers only ever see a fully pre- or fully
// post-state table at the (source, ns:pkg, interface) granularity —
// nothing is mutated incrementally under a reader's nose.
func (t *Table) ApplySpec(sourceID string, spec wasmtypes.ComponentSpec) {
	byName := make(map[string]map[nsPkgKey]map[string]string)

	for _, link := range spec.Links {
		linkName := link.LinkName
		if linkName == "" {
			linkName = wasmtypes.DefaultLinkName
		}

		byPkg, ok := byName[linkName]
		if !ok {
			byPkg = make(map[nsPkgKey]map[string]string)
			byName[linkName] = byPkg
		}

		key := nsPkg(link.WitNamespace, link.WitPackage)
		byIface, ok := byPkg[key]
		if !ok {
			byIface = make(map[string]string)
			byPkg[key] = byIface
		}

		for _, iface := range link.Interfaces {
			byIface[iface] = link.Target
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[sourceID] = byName
	t.specs[sourceID] = spec
}

// Remove drops every link for sourceID, used when a component is
// deleted rather than updated.
func (t *Table) Remove(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links, sourceID)
	delete(t.specs, sourceID)
}

// RegisterAlias associates a call alias with a component id, the
// call_alias secondary index.
func (t *Table) RegisterAlias(alias, componentID string) {
	if alias == "" {
		return
	}
	t.aliasMu.Lock()
	defer t.aliasMu.Unlock()
	t.aliases[alias] = componentID
}

// RemoveAlias drops alias, if present.
func (t *Table) RemoveAlias(alias string) {
	t.aliasMu.Lock()
	defer t.aliasMu.Unlock()
	delete(t.aliases, alias)
}

// ResolveAlias looks up a call alias.
func (t *Table) ResolveAlias(alias string) (string, bool) {
	t.aliasMu.RLock()
	defer t.aliasMu.RUnlock()
	id, ok := t.aliases[alias]
	return id, ok
}
