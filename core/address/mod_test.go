package address

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntityType_String(t *testing.T) {
	require.Equal(t, "vault", EntityVault.String())
	require.Equal(t, "entity(200)", EntityType(200).String())
}

func TestEntityType_Kinds(t *testing.T) {
	require.True(t, EntityComponent.IsGlobal())
	require.False(t, EntityVault.IsGlobal())
	require.True(t, EntityBucket.IsTransient())
	require.False(t, EntityVault.IsTransient())
}

func TestDerive(t *testing.T) {
	seed := []byte("seed")

	a := Derive(EntityVault, seed, 0)
	b := Derive(EntityVault, seed, 1)

	require.Equal(t, EntityVault, a.Type())
	require.NotEqual(t, a, b)
	require.Equal(t, a, Derive(EntityVault, seed, 0))
	require.False(t, a.IsZero())
	require.True(t, NodeID{}.IsZero())
}

func TestNodeID_TextForm(t *testing.T) {
	id := System(EntityResourceManager, "native-token")

	text, err := id.MarshalText()
	require.NoError(t, err)
	require.Regexp(t, "^resource_[0-9a-f]{58}$", string(text))

	var parsed NodeID
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, id, parsed)

	_, err = Parse("abc")
	require.EqualError(t, err, "malformed node id 'abc'")

	_, err = Parse("unknown_00")
	require.EqualError(t, err, "unknown entity 'unknown'")

	_, err = Parse("vault_0011")
	require.EqualError(t, err, "node id 'vault_0011' has 2 bytes")

	err = parsed.UnmarshalText([]byte("vault_zz"))
	require.Error(t, err)

	text, err = NodeID{}.MarshalText()
	require.NoError(t, err)
	require.Empty(t, text)

	require.NoError(t, parsed.UnmarshalText(text))
	require.True(t, parsed.IsZero())
}

func TestSubstateID_Key(t *testing.T) {
	id := NewSubstateID(Derive(EntityComponent, nil, 3), EntryOffset([]byte{0xab}))

	require.Equal(t, Offset("entry/ab"), id.Offset)

	parsed, err := ParseKey(id.Key())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseKey([]byte{1, 2})
	require.EqualError(t, err, "malformed key 0x0102")

	require.Equal(t, Offset("nf/#1#"), NonFungibleOffset("#1#"))
	require.Equal(t, Offset("intent/0102"), IntentOffset([]byte{1, 2}))
}
