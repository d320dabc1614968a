package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.Set(KeyJID, "alice@example.org"); err != nil {
		t.Fatalf("failed to set string: %v", err)
	}
	if err := s.Set(KeyPort, 5223); err != nil {
		t.Fatalf("failed to set int: %v", err)
	}
	if err := s.Set(KeyUseCustomConnection, true); err != nil {
		t.Fatalf("failed to set bool: %v", err)
	}

	if got := s.GetString(KeyJID, ""); got != "alice@example.org" {
		t.Fatalf("unexpected string: %q", got)
	}
	if got := s.GetInt(KeyPort, -1); got != 5223 {
		t.Fatalf("unexpected int: %d", got)
	}
	if !s.GetBool(KeyUseCustomConnection, false) {
		t.Fatalf("unexpected bool")
	}
}

func TestGetReturnsDefaultForMissingKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if got := s.GetString("account.missing", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := s.GetInt("account.missing", -1); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
	if s.GetBool("account.missing", false) {
		t.Fatalf("expected false")
	}
}

func TestGetReturnsDefaultForWrongType(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Set(KeyPort, "not-a-port"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	if got := s.GetInt(KeyPort, -1); got != -1 {
		t.Fatalf("expected the default for a mistyped value, got %d", got)
	}
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.Remove("account.missing"); err != nil {
		t.Fatalf("removing a missing key must be a no-op, got %v", err)
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Set(KeyJID, "alice@example.org"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := s.Set(KeyPort, 5223); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := s.Set(KeyOnline, true); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if got := reopened.GetString(KeyJID, ""); got != "alice@example.org" {
		t.Fatalf("string lost across reopen: %q", got)
	}
	if got := reopened.GetInt(KeyPort, -1); got != 5223 {
		t.Fatalf("int lost across reopen: %d", got)
	}
	if !reopened.GetBool(KeyOnline, false) {
		t.Fatalf("bool lost across reopen")
	}
}

func TestRemoveSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Set(KeyJID, "alice@example.org"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := s.Remove(KeyJID); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if reopened.Has(KeyJID) {
		t.Fatalf("removed key reappeared after reopen")
	}
}

func TestSettingsFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Set(KeyPassword, "opaque"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat settings file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}
}

func TestKeysListsStoredKeysSorted(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.Set(KeyPort, 5223); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := s.Set(KeyJID, "alice@example.org"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := s.Set(KeyWindowWidth, 800); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	keys := s.Keys()
	want := []string{KeyJID, KeyPort, KeyWindowWidth}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("key %d: expected %q, got %q", i, k, keys[i])
		}
	}
}

func TestKeyWithoutSectionUsesGeneral(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.Set("plain", "value"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if got := s.GetString("plain", ""); got != "value" {
		t.Fatalf("expected the bare key resolved in the general section, got %q", got)
	}
}
