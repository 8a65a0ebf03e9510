package ociauth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	table, err := NewTable(DeriveKey("test-cluster"))
	require.NoError(t, err)

	require.NoError(t, table.Put("registry.example.com", RegistryCreds{
		User:     "alice",
		Password: "hunter2",
	}))

	creds, ok, err := table.Get("registry.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", creds.User)
	require.Equal(t, "hunter2", creds.Password)
}

func TestGetMissingHost(t *testing.T) {
	table, err := NewTable(DeriveKey("seed"))
	require.NoError(t, err)

	_, ok, err := table.Get("nowhere.example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutPreservesAllowLatestAcrossUpdates(t *testing.T) {
	table, err := NewTable(DeriveKey("seed"))
	require.NoError(t, err)

	require.NoError(t, table.Put("registry.example.com", RegistryCreds{User: "a", AllowLatest: true}))
	require.NoError(t, table.Put("registry.example.com", RegistryCreds{User: "b"}))

	creds, ok, err := table.Get("registry.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", creds.User)
	require.True(t, creds.AllowLatest)
}

func TestMergeAppliesMultipleHosts(t *testing.T) {
	table, err := NewTable(DeriveKey("seed"))
	require.NoError(t, err)

	require.NoError(t, table.Merge(map[string]RegistryCreds{
		"a.example.com": {Token: "tok-a"},
		"b.example.com": {Token: "tok-b"},
	}))

	require.ElementsMatch(t, []string{"a.example.com", "b.example.com"}, table.Hosts())

	credsA, ok, err := table.Get("a.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-a", credsA.Token)
}

func TestNewTableRejectsWrongKeySize(t *testing.T) {
	_, err := NewTable([]byte("too-short"))
	require.Error(t, err)
}
