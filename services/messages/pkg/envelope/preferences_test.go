package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreferenceActionWireFields(t *testing.T) {
	deny := PreferenceAction{Allow: false, Type: EntryConversationID, Values: []string{"/xmtp/0/m-a/proto", "/xmtp/0/m-b/proto"}}
	b, err := deny.Marshal()
	require.NoError(t, err)
	// deny_group is field 4.
	require.Equal(t, byte(4<<3|2), b[0])

	got, err := UnmarshalPreferenceAction(b)
	require.NoError(t, err)
	require.Equal(t, deny, got)

	_, err = PreferenceAction{Type: "BOGUS"}.Marshal()
	require.Error(t, err)
	_, err = UnmarshalPreferenceAction([]byte{})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}
