package wasmtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkDefinitionPrimaryKeyDefaultsLinkName(t *testing.T) {
	l := LinkDefinition{SourceID: "A", WitNamespace: "wasi", WitPackage: "keyvalue"}
	key := l.PrimaryKey()
	assert.Equal(t, DefaultLinkName, key.LinkName)
}

func TestLinkDefinitionOverlaps(t *testing.T) {
	a := LinkDefinition{Interfaces: []string{"store", "atomics"}}
	b := LinkDefinition{Interfaces: []string{"atomics"}}
	c := LinkDefinition{Interfaces: []string{"watch"}}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
}

func TestInvocationContextLinkNameFor(t *testing.T) {
	ic := InvocationContext{LinkNameOverride: map[string]string{"wasi:keyvalue/store": "custom"}}
	assert.Equal(t, "custom", ic.LinkNameFor("wasi:keyvalue/store"))
	assert.Equal(t, DefaultLinkName, ic.LinkNameFor("wasi:http/outgoing-handler"))
}
