// Package auth persists the login session between CLI invocations. The
// credential file lives in the user config directory and is written
// with owner-only permissions.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotLoggedIn means no usable credential file exists.
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials is the cached login session.
type Credentials struct {
	Token    string    `msgpack:"token"`
	UserID   string    `msgpack:"user_id"`
	Username string    `msgpack:"username"`
	Email    string    `msgpack:"email"`
	SavedAt  time.Time `msgpack:"saved_at"`
}

const credentialsFile = "credentials.bin"

// Path returns the credential file location, creating nothing.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "clipcast", credentialsFile), nil
}

// Save writes the credentials, replacing any previous login.
func Save(creds Credentials) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	creds.SavedAt = time.Now()
	data, err := msgpack.Marshal(&creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Load reads the cached credentials. A missing or unreadable file maps
// to ErrNotLoggedIn; a corrupt file is an error so the user knows to
// log in again.
func Load() (*Credentials, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := msgpack.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials (try logging in again): %w", err)
	}
	if creds.Token == "" {
		return nil, ErrNotLoggedIn
	}
	return &creds, nil
}

// Clear removes the credential file. Already logged out is not an
// error.
func Clear() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
