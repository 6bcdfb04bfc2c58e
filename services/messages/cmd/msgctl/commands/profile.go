package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	profileFile = "profile.yaml"
	stateFile   = "state.json"
)

// Profile holds the endpoints msgctl talks to. Flags override it per run.
type Profile struct {
	Environment string `yaml:"environment"`
	MessagesURL string `yaml:"messages_url"`
	KeysURL     string `yaml:"keys_url"`
	LogLevel    string `yaml:"log_level"`
}

func defaultProfile() Profile {
	return Profile{
		Environment: "dev",
		MessagesURL: "http://localhost:8080",
		KeysURL:     "http://localhost:8080",
	}
}

// loadProfile reads dir/profile.yaml, falling back to defaults for a missing
// file or empty fields.
func loadProfile(dir string) (Profile, error) {
	p := defaultProfile()
	data, err := os.ReadFile(filepath.Join(dir, profileFile))
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	var onDisk Profile
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return p, fmt.Errorf("parse %s: %w", profileFile, err)
	}
	if onDisk.Environment != "" {
		p.Environment = onDisk.Environment
	}
	if onDisk.MessagesURL != "" {
		p.MessagesURL = onDisk.MessagesURL
	}
	if onDisk.KeysURL != "" {
		p.KeysURL = onDisk.KeysURL
	}
	p.LogLevel = onDisk.LogLevel
	return p, nil
}

func saveProfile(dir string, p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, profileFile), data, 0o600)
}
