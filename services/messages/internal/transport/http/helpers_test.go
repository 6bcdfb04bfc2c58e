package http_test

import (
	"time"

	cryptocore "xmtp-legacy/services/crypto-core"
)

func cryptocoreWallet() (*cryptocore.PrivateKey, error) {
	return cryptocore.GeneratePrivateKey(time.Now())
}
