package cryptocore

import (
	"crypto/hmac"
	"crypto/sha256"
	"strconv"
	"time"
)

// HmacPeriodSeconds is the length of one push-key bucket (30 days).
const HmacPeriodSeconds = 2_592_000

// HmacKeyPeriod is the derived HMAC key for a single 30-day bucket.
type HmacKeyPeriod struct {
	Period  int64
	HmacKey []byte
}

func CalculateMac(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHmacSignature recomputes the MAC and compares in constant time.
func VerifyHmacSignature(key, signature, message []byte) bool {
	return hmac.Equal(CalculateMac(key, message), signature)
}

// HmacPeriod returns floor(unixSeconds / 30 days).
func HmacPeriod(t time.Time) int64 {
	secs := t.Unix()
	p := secs / HmacPeriodSeconds
	if secs < 0 && secs%HmacPeriodSeconds != 0 {
		p--
	}
	return p
}

func HmacInfo(period int64, address string) []byte {
	return []byte(strconv.FormatInt(period, 10) + "-" + address)
}

func HmacKey(keyMaterial []byte, period int64, address string) ([]byte, error) {
	return DeriveKey(keyMaterial, nil, HmacInfo(period, address), KeySize)
}

// GenerateHmacSignature derives the period key and MACs message with it.
func GenerateHmacSignature(keyMaterial, info, message []byte) ([]byte, error) {
	key, err := DeriveKey(keyMaterial, nil, info, KeySize)
	if err != nil {
		return nil, err
	}
	return CalculateMac(key, message), nil
}

// HmacKeysAround returns keys for periods p-1, p and p+1 where p is the period
// containing now, in that order.
func HmacKeysAround(keyMaterial []byte, address string, now time.Time) ([]HmacKeyPeriod, error) {
	current := HmacPeriod(now)
	out := make([]HmacKeyPeriod, 0, 3)
	for p := current - 1; p <= current+1; p++ {
		key, err := HmacKey(keyMaterial, p, address)
		if err != nil {
			return nil, err
		}
		out = append(out, HmacKeyPeriod{Period: p, HmacKey: key})
	}
	return out, nil
}
