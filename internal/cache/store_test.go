package cache

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/keystore"
)

type staticKeys struct {
	key     []byte
	err     error
	created int
}

func (k *staticKeys) Key() ([]byte, error) {
	if k.err != nil {
		return nil, k.err
	}
	if k.key == nil {
		return nil, keystore.ErrKeyNotFound
	}
	return k.key, nil
}

func (k *staticKeys) GetOrCreateKey() ([]byte, error) {
	if k.err != nil {
		return nil, k.err
	}
	if k.key == nil {
		k.key = bytes.Repeat([]byte{7}, 32)
		k.created++
	}
	return k.key, nil
}

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, keys KeyProvider) *Store {
	t.Helper()
	return NewStore(t.TempDir(), keys, WithClock(func() time.Time { return t0 }))
}

func TestStore_WriteReadOpen(t *testing.T) {
	keys := &staticKeys{}
	s := newTestStore(t, keys)
	mapping := map[string]string{"GITHUB_TOKEN": "ghp_secret", "AWS_KEY": "AKIA123"}

	require.NoError(t, s.Write("my.account@example.com", mapping, 10*time.Minute, "fp1"))
	assert.Equal(t, 1, keys.created, "key is created on first write")

	entry, err := s.Read("my.account@example.com")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "my.account@example.com", entry.AccountID)
	assert.True(t, entry.CreatedAt.Equal(t0))
	assert.Equal(t, 10*time.Minute, entry.TTL)
	assert.Equal(t, "fp1", entry.Fingerprint)

	got, err := s.Open(entry)
	require.NoError(t, err)
	assert.Equal(t, mapping, got)

	raw, err := os.ReadFile(s.Path("my.account@example.com"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ghp_secret", "values must not be stored in plaintext")
	assert.NotContains(t, string(raw), "GITHUB_TOKEN")

	info, err := os.Stat(s.Path("my.account@example.com"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_FreshNoncePerWrite(t *testing.T) {
	s := newTestStore(t, &staticKeys{})
	mapping := map[string]string{"A": "x"}

	require.NoError(t, s.Write("acct", mapping, time.Minute, ""))
	first, err := s.Read("acct")
	require.NoError(t, err)

	require.NoError(t, s.Write("acct", mapping, time.Minute, ""))
	second, err := s.Read("acct")
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestStore_ReadMissing(t *testing.T) {
	s := newTestStore(t, &staticKeys{})

	entry, err := s.Read("nobody")
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestIsFresh_Boundary(t *testing.T) {
	const ttl = 5 * time.Minute
	entry := &Entry{CreatedAt: t0, TTL: ttl}

	tests := []struct {
		name  string
		now   time.Time
		fresh bool
	}{
		{"at creation", t0, true},
		{"mid window", t0.Add(ttl / 2), true},
		{"one nanosecond before expiry", t0.Add(ttl - time.Nanosecond), true},
		{"exactly at created_at + ttl", t0.Add(ttl), false},
		{"after expiry", t0.Add(ttl + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fresh, IsFresh(entry, tt.now))
		})
	}

	assert.False(t, IsFresh(&Entry{CreatedAt: t0}, t0), "zero ttl is never fresh")
	assert.False(t, IsFresh(nil, t0))
}

func TestStore_CorruptFraming(t *testing.T) {
	s := newTestStore(t, &staticKeys{})
	require.NoError(t, os.MkdirAll(s.Dir(), 0700))

	tests := map[string][]byte{
		"garbage":   []byte("definitely not a cache file"),
		"truncated": append([]byte("OPLC\x01"), 0, 0, 0),
		"empty":     {},
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(s.Path("acct"), data, 0600))

			entry, err := s.Read("acct")
			assert.Nil(t, entry)
			assert.True(t, stderrors.Is(err, errors.ErrCorruptCache), "got %v", err)
		})
	}
}

func TestStore_TamperedHeaderFailsAuthentication(t *testing.T) {
	s := newTestStore(t, &staticKeys{})
	require.NoError(t, s.Write("acct", map[string]string{"A": "x"}, time.Minute, "fp"))

	path := s.Path("acct")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Push created_at forward: would extend the entry's life if it were trusted.
	raw[len(magic)+1] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0600))

	entry, err := s.Read("acct")
	require.NoError(t, err)

	_, err = s.Open(entry)
	assert.True(t, stderrors.Is(err, errors.ErrCorruptCache), "got %v", err)
}

func TestStore_OpenWithWrongOrMissingKey(t *testing.T) {
	keys := &staticKeys{}
	s := newTestStore(t, keys)
	require.NoError(t, s.Write("acct", map[string]string{"A": "x"}, time.Minute, ""))
	entry, err := s.Read("acct")
	require.NoError(t, err)

	keys.key = bytes.Repeat([]byte{9}, 32)
	_, err = s.Open(entry)
	assert.True(t, stderrors.Is(err, errors.ErrCorruptCache), "wrong key reads as corrupt")

	keys.key = nil
	_, err = s.Open(entry)
	assert.True(t, stderrors.Is(err, errors.ErrCorruptCache), "deleted key reads as corrupt")
}

func TestStore_KeyStoreFailure(t *testing.T) {
	keys := &staticKeys{err: errors.KeyStoreError("Reading cache key", "locked", nil)}
	s := newTestStore(t, keys)

	err := s.Write("acct", map[string]string{"A": "x"}, time.Minute, "")
	assert.True(t, stderrors.Is(err, errors.ErrKeyStore))

	_, statErr := os.Stat(s.Path("acct"))
	assert.True(t, os.IsNotExist(statErr), "nothing is written without a key")
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, &staticKeys{})
	for _, acct := range []string{"one", "two", "three"} {
		require.NoError(t, s.Write(acct, map[string]string{"V": acct}, time.Hour, ""))
	}

	removed, err := s.Clear("two")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for _, acct := range []string{"one", "three"} {
		entry, err := s.Read(acct)
		require.NoError(t, err)
		require.NotNil(t, entry, "%s must survive clearing another account", acct)
		assert.True(t, IsFresh(entry, t0.Add(time.Minute)))
	}

	removed, err = s.Clear("two")
	require.NoError(t, err, "clearing a missing entry is idempotent")
	assert.Zero(t, removed)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "refresh.lock"), nil, 0600))

	removed, err = s.Clear("")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, corrupt, err := s.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, corrupt)

	_, err = os.Stat(filepath.Join(s.Dir(), "refresh.lock"))
	assert.NoError(t, err, "clearing entries leaves the lock sentinel alone")
}

func TestStore_ClearMissingDirectory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "never-created"), &staticKeys{})

	removed, err := s.Clear("")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_Entries(t *testing.T) {
	s := newTestStore(t, &staticKeys{})
	require.NoError(t, s.Write("zeta", map[string]string{"A": "1"}, time.Hour, ""))
	require.NoError(t, s.Write("alpha", map[string]string{"B": "2"}, time.Minute, ""))
	require.NoError(t, os.WriteFile(s.Path("broken"), []byte("junk"), 0600))

	entries, corrupt, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].AccountID)
	assert.Equal(t, "zeta", entries[1].AccountID)
	assert.Len(t, corrupt, 1)
}

func TestSanitizeAccountID(t *testing.T) {
	tests := map[string]string{
		"ABCDEF123":             "ABCDEF123",
		"me@example.com":        "me_example.com",
		"team/with space":       "team_with_space",
		"":                      "account",
		"my.1password.com":      "my.1password.com",
		"ümlaut":                "_mlaut",
		"../../etc/passwd":      ".._.._etc_passwd",
		"under_score-and-dash.": "under_score-and-dash.",
	}

	for in, want := range tests {
		assert.Equal(t, want, SanitizeAccountID(in), "input %q", in)
	}
}
