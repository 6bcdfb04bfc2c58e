package service_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"xmtp-legacy/services/keys/internal/dto"
	"xmtp-legacy/services/keys/internal/service"
	"xmtp-legacy/services/keys/internal/store"
	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T) *service.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return service.New(st)
}

func newBundle(t *testing.T, wallet *cryptocore.PrivateKey, at time.Time) *cryptocore.PrivateKeyBundleV1 {
	t.Helper()
	b, err := cryptocore.GeneratePrivateKeyBundleV1(wallet, at)
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}
	return b
}

func newWallet(t *testing.T) *cryptocore.PrivateKey {
	t.Helper()
	w, err := cryptocore.GeneratePrivateKey(time.Now())
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func v2Request(t *testing.T, b *cryptocore.PrivateKeyBundleV1) dto.PublishContactRequest {
	t.Helper()
	v2, err := b.ToV2()
	if err != nil {
		t.Fatalf("to v2: %v", err)
	}
	pub := v2.PublicBundle()
	return dto.PublishContactRequest{Bundle: base64.StdEncoding.EncodeToString(envelope.ContactBundle{V2: &pub}.Marshal())}
}

func TestPublishAndLookupContact(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	wallet := newWallet(t)

	resp, err := svc.PublishContact(ctx, v2Request(t, newBundle(t, wallet, time.Now())))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !resp.Stored || resp.Version != 2 {
		t.Fatalf("unexpected publish response %+v", resp)
	}
	if resp.Address != wallet.Address() {
		t.Fatalf("expected address %s, got %s", wallet.Address(), resp.Address)
	}

	got, err := svc.LookupContact(ctx, strings.ToLower(wallet.Address()))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Bundle != resp.Bundle {
		t.Fatalf("lookup returned a different bundle")
	}
	raw, _ := base64.StdEncoding.DecodeString(got.Bundle)
	parsed, err := envelope.UnmarshalContactBundle(raw)
	if err != nil {
		t.Fatalf("parse stored bundle: %v", err)
	}
	if addr, _ := parsed.WalletAddress(); addr != wallet.Address() {
		t.Fatalf("stored bundle signed by %s", addr)
	}
}

func TestPublishKeepsNewestBundle(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	wallet := newWallet(t)
	now := time.Now()

	newer := v2Request(t, newBundle(t, wallet, now))
	older := v2Request(t, newBundle(t, wallet, now.Add(-time.Hour)))

	if _, err := svc.PublishContact(ctx, newer); err != nil {
		t.Fatalf("publish newer: %v", err)
	}
	resp, err := svc.PublishContact(ctx, older)
	if err != nil {
		t.Fatalf("publish older: %v", err)
	}
	if resp.Stored {
		t.Fatalf("older bundle should not replace the stored one")
	}
	if resp.Bundle != newer.Bundle {
		t.Fatalf("expected the newer bundle to remain")
	}

	newest := v2Request(t, newBundle(t, wallet, now.Add(time.Hour)))
	resp, err = svc.PublishContact(ctx, newest)
	if err != nil {
		t.Fatalf("publish newest: %v", err)
	}
	if !resp.Stored || resp.Bundle != newest.Bundle {
		t.Fatalf("newest bundle was not stored: %+v", resp)
	}
}

func TestPublishLegacyBundle(t *testing.T) {
	svc := setupService(t)
	wallet := newWallet(t)
	pub := newBundle(t, wallet, time.Now()).PublicBundle()

	req := dto.PublishContactRequest{Bundle: base64.StdEncoding.EncodeToString(pub.Marshal())}
	resp, err := svc.PublishContact(context.Background(), req)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if resp.Version != 1 || resp.Address != wallet.Address() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPublishRejectsInvalidBundles(t *testing.T) {
	svc := setupService(t)
	a := newBundle(t, newWallet(t), time.Now()).PublicBundle()
	b := newBundle(t, newWallet(t), time.Now()).PublicBundle()
	forged := cryptocore.PublicKeyBundle{IdentityKey: a.IdentityKey, PreKey: b.PreKey}

	cases := map[string]string{
		"not base64": "%%%",
		"empty":      "",
		"garbage":    base64.StdEncoding.EncodeToString([]byte{0xff, 0x01, 0x02}),
		"forged":     base64.StdEncoding.EncodeToString(envelope.ContactBundle{V1: &forged}.Marshal()),
	}
	for name, bundle := range cases {
		_, err := svc.PublishContact(context.Background(), dto.PublishContactRequest{Bundle: bundle})
		if !errors.Is(err, service.ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}
}

func TestLookupAndDeleteErrors(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	if _, err := svc.LookupContact(ctx, "not-an-address"); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	missing := newWallet(t).Address()
	if _, err := svc.LookupContact(ctx, missing); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteContact(ctx, missing); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}

	wallet := newWallet(t)
	if _, err := svc.PublishContact(ctx, v2Request(t, newBundle(t, wallet, time.Now()))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.DeleteContact(ctx, wallet.Address()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.LookupContact(ctx, wallet.Address()); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
