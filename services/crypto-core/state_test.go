package cryptocore

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBundleExportImport(t *testing.T) {
	bundle := newBundle(t, newWallet(t))
	state, err := bundle.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded BundleState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := ImportBundle(&decoded)
	if err != nil {
		t.Fatalf("ImportBundle: %v", err)
	}
	if !restored.PublicBundle().Equal(bundle.PublicBundle()) {
		t.Fatalf("public bundle mismatch after import")
	}
	if err := restored.PublicBundle().Verify(); err != nil {
		t.Fatalf("restored bundle does not verify: %v", err)
	}
}

func TestImportBundleRejectsMismatchedKey(t *testing.T) {
	a := newBundle(t, newWallet(t))
	b := newBundle(t, newWallet(t))
	state, err := a.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	other, err := b.Export()
	if err != nil {
		t.Fatalf("Export other: %v", err)
	}
	state.PreKeys[0].PublicKey = other.PreKeys[0].PublicKey
	if _, err := ImportBundle(state); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
