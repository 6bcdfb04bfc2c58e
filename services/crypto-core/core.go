package cryptocore

import (
	"crypto/rand"
	"io"
	"sync/atomic"
)

// entropy holds the io.Reader that key generation, salts, nonces and invitation
// secrets are drawn from.
var entropy atomic.Pointer[io.Reader]

func source() io.Reader {
	if r := entropy.Load(); r != nil {
		return *r
	}
	return rand.Reader
}

// UseDeterministicRandom makes every later draw read from r until the
// returned restore func runs. Tests only.
func UseDeterministicRandom(r io.Reader) (restore func()) {
	prev := entropy.Swap(&r)
	return func() { entropy.Store(prev) }
}

func readRandom(b []byte) error {
	_, err := io.ReadFull(source(), b)
	return err
}

// RandomBytes returns n bytes from the active source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := readRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}
