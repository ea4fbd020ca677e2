//go:build !darwin

package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// secretSet maps service -> account -> value. Without a system keychain it is
// kept in a 0600 JSON file next to the data directory.
type secretSet map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(cmp.Or(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "."), appName, "secrets.json")
}

func readSecrets(path string) (secretSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s secretSet
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return s, nil
}

func keychainExec(service, account string) ([]byte, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %q for service %q", account, service)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()

	secrets, err := readSecrets(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		secrets = secretSet{}
	case err != nil:
		return fmt.Errorf("refusing to overwrite unreadable secrets file: %w", err)
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
