// Package cache persists encrypted secret mappings, one file per account.
//
// Reads never take a lock: writes go through a temp file and rename, so a
// reader sees a complete old entry, a complete new entry, or nothing.
package cache

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/fsutil"
	"github.com/brizzbuzz/oploader/internal/keystore"
)

const (
	filePrefix = "env_"
	fileSuffix = ".cache"
)

// KeyProvider supplies the master key. Key returns keystore.ErrKeyNotFound
// before the first write; GetOrCreateKey is only called on the write path.
type KeyProvider interface {
	Key() ([]byte, error)
	GetOrCreateKey() ([]byte, error)
}

type Store struct {
	dir  string
	keys KeyProvider
	now  func() time.Time
}

type Option func(*Store)

// WithClock overrides time.Now for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(dir string, keys KeyProvider, opts ...Option) *Store {
	s := &Store{dir: dir, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the cache root.
func (s *Store) Dir() string { return s.dir }

// Path returns the cache file for accountID.
func (s *Store) Path(accountID string) string {
	return filepath.Join(s.dir, filePrefix+SanitizeAccountID(accountID)+fileSuffix)
}

// Read returns the entry for accountID, or nil when there is none. A file
// that cannot be parsed yields a CorruptCacheError.
func (s *Store) Read(accountID string) (*Entry, error) {
	return s.readFile(s.Path(accountID))
}

func (s *Store) readFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.CorruptCacheError(path, "Cache file is unreadable", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, errors.CorruptCacheError(path, "Cache file framing is invalid", err)
	}
	entry.path = path
	return entry, nil
}

// Open decrypts the mapping held by entry. A missing key or a failed
// authentication check is reported as corruption; an unusable key store as
// a KeyStoreError.
func (s *Store) Open(entry *Entry) (map[string]string, error) {
	key, err := s.keys.Key()
	if stderrors.Is(err, keystore.ErrKeyNotFound) {
		return nil, errors.CorruptCacheError(entry.path, "No cache key exists for this entry", err)
	}
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, errors.KeyStoreError("Preparing cache cipher", "Cache key is unusable", err)
	}
	if len(entry.Nonce) != aead.NonceSize() {
		return nil, errors.CorruptCacheError(entry.path, "Nonce has the wrong size", nil)
	}

	plaintext, err := aead.Open(nil, entry.Nonce, entry.Ciphertext, entry.header)
	if err != nil {
		return nil, errors.CorruptCacheError(entry.path, "Cache entry failed authentication", err)
	}

	var mapping map[string]string
	if err := json.Unmarshal(plaintext, &mapping); err != nil {
		return nil, errors.CorruptCacheError(entry.path, "Decrypted payload is not a mapping", err)
	}
	if mapping == nil {
		mapping = map[string]string{}
	}
	return mapping, nil
}

// Write encrypts mapping under a fresh nonce and atomically replaces the
// account's entry.
func (s *Store) Write(accountID string, mapping map[string]string, ttl time.Duration, fingerprint string) error {
	key, err := s.keys.GetOrCreateKey()
	if err != nil {
		return err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return errors.KeyStoreError("Preparing cache cipher", "Cache key is unusable", err)
	}

	// encoding/json sorts map keys, so equal mappings serialize identically.
	plaintext, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, "Serializing secret mapping", "cache")
	}

	nonce, err := newNonce(aead)
	if err != nil {
		return errors.Wrap(err, "Encrypting cache entry", "cache")
	}

	header, err := encodeHeader(accountID, s.now(), ttl, fingerprint, nonce)
	if err != nil {
		return errors.Wrap(err, "Encoding cache entry", "cache")
	}

	data := aead.Seal(append([]byte(nil), header...), nonce, plaintext, header)

	path := s.Path(accountID)
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return errors.FileOperationError("Writing cache entry", path, "Failed to write cache file", err)
	}
	return nil
}

// Clear removes the entry for accountID, or every entry when accountID is
// empty. Missing entries are not an error; the count removed is returned.
func (s *Store) Clear(accountID string) (int, error) {
	var paths []string
	if accountID != "" {
		paths = []string{s.Path(accountID)}
	} else {
		var err error
		paths, err = s.entryPaths()
		if err != nil {
			return 0, err
		}
	}

	removed := 0
	for _, path := range paths {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return removed, errors.FileOperationError("Clearing cache", path, "Failed to remove cache file", err)
		}
		removed++
	}
	return removed, nil
}

// Entries lists every readable entry header, sorted by account. Corrupt
// files are returned separately so callers can report them.
func (s *Store) Entries() ([]*Entry, []error, error) {
	paths, err := s.entryPaths()
	if err != nil {
		return nil, nil, err
	}

	var entries []*Entry
	var corrupt []error
	for _, path := range paths {
		entry, err := s.readFile(path)
		if err != nil {
			corrupt = append(corrupt, err)
			continue
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].AccountID < entries[j].AccountID })
	return entries, corrupt, nil
}

func (s *Store) entryPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, errors.FileOperationError("Listing cache", s.dir, "Invalid cache directory pattern", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// SanitizeAccountID maps an account id to a safe file name component: ASCII
// letters, digits, '-', '_' and '.' are kept, anything else becomes '_'.
func SanitizeAccountID(accountID string) string {
	var b strings.Builder
	b.Grow(len(accountID))
	for _, r := range accountID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "account"
	}
	return b.String()
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s created=%s ttl=%s", e.AccountID, e.CreatedAt.Format(time.RFC3339), e.TTL)
}
