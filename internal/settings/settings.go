// Package settings implements the persistent key-value store holding the
// account credentials and the small set of UI-level flags the client keeps
// across restarts. Keys use "section.field" addressing and are persisted as
// a TOML file that is rewritten atomically on every change.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Keys for the account credentials.
const (
	KeyJID                 = "account.jid"
	KeyPassword            = "account.password"
	KeyResourcePrefix      = "account.resource_prefix"
	KeyHost                = "account.host"
	KeyPort                = "account.port"
	KeyUseCustomConnection = "account.use_custom_connection"
	KeyOnline              = "account.online"
)

// UI-level keys the session core deletes on account removal but does not
// otherwise interpret.
const (
	KeyNotificationsMuted = "notifications.muted"
	KeyFavoriteEmojis     = "ui.favorite_emojis"
	KeyWindowWidth        = "ui.window_width"
	KeyWindowHeight       = "ui.window_height"
)

// Store is a thread-safe key-value store backed by a TOML file.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]map[string]interface{}
}

// Open reads the settings file at path, creating an empty store if the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]map[string]interface{}),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}

	if _, err := toml.DecodeFile(path, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	return s, nil
}

// Path returns the file path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Set stores a value under the given key and persists the store.
func (s *Store) Set(key string, value interface{}) error {
	section, field := splitKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values[section] == nil {
		s.values[section] = make(map[string]interface{})
	}
	s.values[section][field] = value

	return s.flush()
}

// Remove deletes a key from the store and persists the change. Removing a
// missing key is a no-op.
func (s *Store) Remove(key string) error {
	section, field := splitKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.values[section]
	if !ok {
		return nil
	}
	if _, ok := sec[field]; !ok {
		return nil
	}
	delete(sec, field)
	if len(sec) == 0 {
		delete(s.values, section)
	}

	return s.flush()
}

// Has reports whether a key is present in the store.
func (s *Store) Has(key string) bool {
	section, field := splitKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.values[section]
	if !ok {
		return false
	}
	_, ok = sec[field]
	return ok
}

// GetString returns the string stored under key, or def if the key is
// missing or holds a non-string value.
func (s *Store) GetString(key, def string) string {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// GetInt returns the integer stored under key, or def if the key is missing
// or holds a non-integer value.
func (s *Store) GetInt(key string, def int) int {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		// TOML integers decode as int64
		return int(n)
	default:
		return def
	}
}

// GetBool returns the boolean stored under key, or def if the key is missing
// or holds a non-boolean value.
func (s *Store) GetBool(key string, def bool) bool {
	v, ok := s.get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Keys returns every stored key in "section.field" form, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for section, fields := range s.values {
		for field := range fields {
			keys = append(keys, section+"."+field)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) get(key string) (interface{}, bool) {
	section, field := splitKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.values[section]
	if !ok {
		return nil, false
	}
	v, ok := sec[field]
	return v, ok
}

// flush writes the store to disk. The caller must hold s.mu. The file is
// written to a temporary path and renamed so readers never observe a
// partially written file.
func (s *Store) flush() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}

	encoder := toml.NewEncoder(tmp)
	if err := encoder.Encode(s.values); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

func splitKey(key string) (section, field string) {
	if i := strings.Index(key, "."); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "general", key
}
