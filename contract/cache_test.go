package contract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kore/identity"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache()
	govID, err := identity.Hash([]byte("gov0"), identity.DigestBlake3_256)
	require.NoError(t, err)

	ref := ModuleRef{GovernanceID: govID, SchemaID: "widget", GovVersion: 1, Bytecode: []byte{0x00}}
	c.Put(ref)

	got, ok := c.Get(govID, "widget", 1)
	require.True(t, ok)
	require.Equal(t, ref, got)

	_, ok = c.Get(govID, "widget", 2)
	require.False(t, ok)
}

func TestCacheInvalidateGovernance(t *testing.T) {
	c := NewCache()
	govA, err := identity.Hash([]byte("gov-a"), identity.DigestBlake3_256)
	require.NoError(t, err)
	govB, err := identity.Hash([]byte("gov-b"), identity.DigestBlake3_256)
	require.NoError(t, err)

	c.Put(ModuleRef{GovernanceID: govA, SchemaID: "widget", GovVersion: 1})
	c.Put(ModuleRef{GovernanceID: govB, SchemaID: "widget", GovVersion: 1})

	c.InvalidateGovernance(govA)

	_, ok := c.Get(govA, "widget", 1)
	require.False(t, ok)
	_, ok = c.Get(govB, "widget", 1)
	require.True(t, ok)
}
