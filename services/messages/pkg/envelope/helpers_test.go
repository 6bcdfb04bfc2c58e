package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cryptocore "xmtp-legacy/services/crypto-core"
)

type party struct {
	wallet *cryptocore.PrivateKey
	v1     *cryptocore.PrivateKeyBundleV1
	v2     *cryptocore.PrivateKeyBundleV2
}

func (p party) address(t *testing.T) string {
	t.Helper()
	addr, err := p.v2.WalletAddress()
	require.NoError(t, err)
	return addr
}

func newParty(t *testing.T) party {
	t.Helper()
	now := time.Now()
	wallet, err := cryptocore.GeneratePrivateKey(now)
	require.NoError(t, err)
	v1, err := cryptocore.GeneratePrivateKeyBundleV1(wallet, now)
	require.NoError(t, err)
	v2, err := v1.ToV2()
	require.NoError(t, err)
	return party{wallet: wallet, v1: v1, v2: v2}
}
