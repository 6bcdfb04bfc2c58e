package msgclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cryptocore "xmtp-legacy/services/crypto-core"
)

// StateFile is the on-disk identity of a CLI or long-running client: the
// exported key bundle plus the endpoints it was created against.
type StateFile struct {
	Address         string                  `json:"address"`
	Environment     string                  `json:"environment,omitempty"`
	MessagesBaseURL string                  `json:"messages_base_url"`
	KeysBaseURL     string                  `json:"keys_base_url,omitempty"`
	CacheDir        string                  `json:"cache_dir,omitempty"`
	Bundle          *cryptocore.BundleState `json:"bundle"`
}

// NewStateFile snapshots bundle for persistence.
func NewStateFile(bundle *cryptocore.PrivateKeyBundleV1, messagesURL, keysURL string) (*StateFile, error) {
	address, err := bundle.WalletAddress()
	if err != nil {
		return nil, err
	}
	snapshot, err := bundle.Export()
	if err != nil {
		return nil, err
	}
	return &StateFile{
		Address:         address,
		MessagesBaseURL: normalizeBaseURL(messagesURL),
		KeysBaseURL:     normalizeBaseURL(keysURL),
		Bundle:          snapshot,
	}, nil
}

func LoadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file StateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if file.Bundle == nil {
		return nil, ErrNoKeys
	}
	return &file, nil
}

// KeyBundle restores the private bundle and checks it still belongs to the
// recorded address.
func (s *StateFile) KeyBundle() (*cryptocore.PrivateKeyBundleV1, error) {
	if s.Bundle == nil {
		return nil, ErrNoKeys
	}
	bundle, err := cryptocore.ImportBundle(s.Bundle)
	if err != nil {
		return nil, err
	}
	address, err := bundle.WalletAddress()
	if err != nil {
		return nil, err
	}
	if s.Address != "" && address != s.Address {
		return nil, errors.New("msgclient: state address does not match key bundle")
	}
	return bundle, nil
}

// Save writes the file atomically with owner-only permissions.
func (s *StateFile) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
