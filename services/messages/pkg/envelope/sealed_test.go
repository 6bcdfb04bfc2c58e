package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSealedInvitationOpensForBothParties(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateRandomInvitation(&InvitationContext{ConversationID: "x", Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)

	sealed, err := SealInvitation(alice.v2, bob.v2.PublicBundle(), time.Now(), inv)
	require.NoError(t, err)

	parsed, err := UnmarshalSealedInvitation(sealed.Marshal())
	require.NoError(t, err)
	require.True(t, parsed.Involves(alice.v2.PublicBundle()))
	require.True(t, parsed.Involves(bob.v2.PublicBundle()))

	asAlice, err := parsed.Open(alice.v2)
	require.NoError(t, err)
	asBob, err := parsed.Open(bob.v2)
	require.NoError(t, err)

	require.Equal(t, inv.Topic, asAlice.Topic)
	require.Equal(t, asAlice.Topic, asBob.Topic)
	require.Equal(t, asAlice.KeyMaterial, asBob.KeyMaterial)
	require.Equal(t, "v", asBob.Context.Metadata["k"])
}

func TestSealedInvitationRejectsStrangers(t *testing.T) {
	alice, bob, eve := newParty(t), newParty(t), newParty(t)
	inv, err := CreateRandomInvitation(nil)
	require.NoError(t, err)
	sealed, err := SealInvitation(alice.v2, bob.v2.PublicBundle(), time.Now(), inv)
	require.NoError(t, err)

	require.False(t, sealed.Involves(eve.v2.PublicBundle()))
	_, err = sealed.Open(eve.v2)
	require.ErrorIs(t, err, ErrUnauthorizedViewer)
}

func TestSealedInvitationDetectsTampering(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateRandomInvitation(nil)
	require.NoError(t, err)
	sealed, err := SealInvitation(alice.v2, bob.v2.PublicBundle(), time.Now(), inv)
	require.NoError(t, err)

	sealed.Ciphertext.Payload[0] ^= 0xff
	_, err = sealed.Open(bob.v2)
	require.ErrorIs(t, err, ErrInvalidInvitation)
	require.ErrorIs(t, err, ErrDecryption)

	_, err = UnmarshalSealedInvitation([]byte{0x0a, 0x02, 0x01})
	require.ErrorIs(t, err, ErrInvalidInvitation)
	_, err = UnmarshalSealedInvitation(nil)
	require.ErrorIs(t, err, ErrInvalidInvitation)
}
