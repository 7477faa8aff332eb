package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justestif/syncmaster/internal/models"
)

const (
	configDirName   = "syncmaster"
	sessionFileName = "session.json"
)

// SessionCache handles persistent storage of the signed-in session for the CLI.
type SessionCache struct {
	path string
}

// DefaultSessionCache returns a SessionCache using the default location:
// ~/.config/syncmaster/session.json
func DefaultSessionCache() (*SessionCache, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting user config dir: %w", err)
	}

	path := filepath.Join(configDir, configDirName, sessionFileName)
	return &SessionCache{path: path}, nil
}

// NewSessionCache creates a SessionCache with a custom path.
func NewSessionCache(path string) *SessionCache {
	return &SessionCache{path: path}
}

// Path returns the file path where the session is stored.
func (c *SessionCache) Path() string {
	return c.path
}

// Load reads the cached session from disk.
// Returns (nil, nil) if the session file does not exist.
func (c *SessionCache) Load() (*models.Session, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &session, nil
}

// Save writes the session to disk, creating the parent directory if needed.
func (c *SessionCache) Save(session *models.Session) error {
	if session == nil {
		return errors.New("cannot save nil session")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Delete removes the cached session file.
// Returns nil if the file does not exist.
func (c *SessionCache) Delete() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
