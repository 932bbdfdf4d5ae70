// Package keystore obtains the symmetric key that encrypts cache entries.
//
// The key lives in the platform secure store (macOS Keychain, Secret Service,
// Windows Credential Manager) under a fixed, versioned identifier:
//   - Service: "op-loader cache key"
//   - Account: "v1"
//
// On platforms without a usable store the provider reports itself
// unavailable and callers skip caching entirely.
package keystore

import (
	"crypto/rand"
	"encoding/base64"
	stderrors "errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/brizzbuzz/oploader/internal/errors"
)

const (
	Service = "op-loader cache key"
	KeyID   = "v1"
	KeySize = 32
)

// ErrKeyNotFound means no key has been created yet.
var ErrKeyNotFound = stderrors.New("cache key not found")

// Backend is the minimal key store surface, so tests and other platforms can
// swap the implementation.
type Backend interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

type osKeyring struct{}

// Keyring returns the go-keyring backed store for the current platform.
func Keyring() Backend { return osKeyring{} }

func (osKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if stderrors.Is(err, keyring.ErrNotFound) {
		return "", ErrKeyNotFound
	}
	return secret, err
}

func (osKeyring) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (osKeyring) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if stderrors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

type Provider struct {
	backend Backend
	service string
	id      string
}

func New(backend Backend) *Provider {
	return &Provider{backend: backend, service: Service, id: KeyID}
}

// Available probes the backend once. A missing key still counts as
// available; any other failure (unsupported platform, no Secret Service,
// locked store) does not.
func (p *Provider) Available() error {
	_, err := p.backend.Get(p.service, p.id)
	if err == nil || stderrors.Is(err, ErrKeyNotFound) {
		return nil
	}
	return errors.KeyStoreError("Probing key store", "Platform key store is not usable", err)
}

// Key returns the stored key or ErrKeyNotFound.
func (p *Provider) Key() ([]byte, error) {
	encoded, err := p.backend.Get(p.service, p.id)
	if stderrors.Is(err, ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.KeyStoreError("Reading cache key", "Failed to read key from the key store", err)
	}
	return decode(encoded)
}

// GetOrCreateKey returns the stored key, creating it on first use. After a
// create it re-reads the store and returns whatever won, so two processes
// racing on first use converge on a single key.
func (p *Provider) GetOrCreateKey() ([]byte, error) {
	key, err := p.Key()
	if err == nil {
		return key, nil
	}
	if !stderrors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	fresh := make([]byte, KeySize)
	if _, err := rand.Read(fresh); err != nil {
		return nil, errors.KeyStoreError("Generating cache key", "Failed to read random bytes", err)
	}

	if err := p.backend.Set(p.service, p.id, base64.StdEncoding.EncodeToString(fresh)); err != nil {
		return nil, errors.KeyStoreError("Storing cache key", "Failed to store key in the key store", err)
	}

	key, err = p.Key()
	if stderrors.Is(err, ErrKeyNotFound) {
		return nil, errors.KeyStoreError("Storing cache key", "Key vanished right after it was stored", err)
	}
	return key, err
}

// DeleteKey removes the key. Entries written with it become unreadable.
func (p *Provider) DeleteKey() error {
	if err := p.backend.Delete(p.service, p.id); err != nil && !stderrors.Is(err, ErrKeyNotFound) {
		return errors.KeyStoreError("Deleting cache key", "Failed to delete key from the key store", err)
	}
	return nil
}

func decode(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.KeyStoreError("Reading cache key", "Stored key is not valid base64", err)
	}
	if len(key) != KeySize {
		return nil, errors.KeyStoreError(
			"Reading cache key",
			fmt.Sprintf("Invalid cache key length: expected %d bytes, got %d", KeySize, len(key)),
			nil,
		)
	}
	return key, nil
}
