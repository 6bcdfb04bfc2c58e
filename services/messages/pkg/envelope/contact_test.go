package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContactBundleFormats(t *testing.T) {
	p := newParty(t)
	legacy := p.v1.PublicBundle()
	signed := p.v2.PublicBundle()

	fromBare, err := UnmarshalContactBundle(legacy.Marshal())
	require.NoError(t, err)
	require.NotNil(t, fromBare.V1)

	fromV1, err := UnmarshalContactBundle(ContactBundle{V1: &legacy}.Marshal())
	require.NoError(t, err)
	require.NotNil(t, fromV1.V1)

	fromV2, err := UnmarshalContactBundle(ContactBundle{V2: &signed}.Marshal())
	require.NoError(t, err)
	require.NotNil(t, fromV2.V2)
	require.Nil(t, fromV2.V1)

	for _, c := range []ContactBundle{fromBare, fromV1, fromV2} {
		require.NoError(t, c.Verify())
		addr, err := c.WalletAddress()
		require.NoError(t, err)
		require.Equal(t, p.address(t), addr)
		sb, err := c.SignedBundle()
		require.NoError(t, err)
		require.True(t, sb.Equal(signed))
	}
}

func TestContactBundleRejectsForgery(t *testing.T) {
	p, q := newParty(t), newParty(t)
	forged := p.v2.PublicBundle()
	forged.PreKey = q.v2.PublicBundle().PreKey
	require.ErrorIs(t, ContactBundle{V2: &forged}.Verify(), ErrInvalidContactBundle)

	_, err := UnmarshalContactBundle([]byte{})
	require.ErrorIs(t, err, ErrInvalidContactBundle)
}
