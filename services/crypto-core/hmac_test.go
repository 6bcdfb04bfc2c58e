package cryptocore

import (
	"testing"
	"time"
)

func TestHmacPeriod(t *testing.T) {
	if got := HmacPeriod(time.Unix(0, 0)); got != 0 {
		t.Fatalf("epoch period: got %d", got)
	}
	if got := HmacPeriod(time.Unix(HmacPeriodSeconds*3+5, 0)); got != 3 {
		t.Fatalf("period: got %d want 3", got)
	}
	if got := HmacPeriod(time.Unix(HmacPeriodSeconds*4-1, 0)); got != 3 {
		t.Fatalf("end of period: got %d want 3", got)
	}
	if got := HmacPeriod(time.Unix(-1, 0)); got != -1 {
		t.Fatalf("pre-epoch period: got %d want -1", got)
	}
}

func TestHmacKeysAroundMatchesOnlyCurrentPeriod(t *testing.T) {
	keyMaterial := []byte("0123456789abcdef0123456789abcdef")
	address := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	now := time.Unix(1_700_000_000, 0)
	header := []byte("header bytes")

	mac, err := GenerateHmacSignature(keyMaterial, HmacInfo(HmacPeriod(now), address), header)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	keys, err := HmacKeysAround(keyMaterial, address, now)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[1].Period != HmacPeriod(now) || keys[0].Period != keys[1].Period-1 || keys[2].Period != keys[1].Period+1 {
		t.Fatalf("unexpected periods: %d %d %d", keys[0].Period, keys[1].Period, keys[2].Period)
	}
	for i, k := range keys {
		ok := VerifyHmacSignature(k.HmacKey, mac, header)
		if ok != (i == 1) {
			t.Fatalf("key %d verify=%v", i, ok)
		}
	}
	if VerifyHmacSignature(keys[1].HmacKey, mac, []byte("other header")) {
		t.Fatalf("mac verified over a different message")
	}
}
