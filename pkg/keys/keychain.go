// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of macos-security-libs.
//
// macos-security-libs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keys

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/youmark/pkcs8"
	"gopkg.in/yaml.v3"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

const (
	keychainPrefix  = "keys"
	pemEncryptedKey = "ENCRYPTED PRIVATE KEY"
	pemPublicKey    = "PUBLIC KEY"
)

// ItemInfo is the public metadata of a keychain item. Reading it does not
// require the passphrase.
type ItemInfo struct {
	Label     string
	KeyID     string
	Type      Type
	Created   time.Time
	PublicKey crypto.PublicKey
}

type itemRecord struct {
	Label   string    `yaml:"label"`
	KeyID   string    `yaml:"key_id"`
	Type    Type      `yaml:"type"`
	Created time.Time `yaml:"created"`
	Public  string    `yaml:"public_key"`
	Private string    `yaml:"private_key"`
}

// Keychain stores private keys in a storage.Backend as PKCS#8 documents
// encrypted under a per-item passphrase.
type Keychain struct {
	mu      sync.Mutex
	backend storage.Backend
	logger  logging.Logger
	now     func() time.Time
}

// NewKeychain returns a keychain over backend.
func NewKeychain(backend storage.Backend, logger logging.Logger) *Keychain {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Keychain{backend: backend, logger: logger, now: time.Now}
}

// Add stores kp under label, encrypted with passphrase.
func (k *Keychain) Add(label string, kp *KeyPair, passphrase []byte) (*ItemInfo, error) {
	key, err := itemKey(label)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	exists, err := k.backend.Exists(key)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to check %q: %w", label, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateItem, label)
	}

	rec, err := k.seal(label, kp, passphrase, k.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := k.put(key, rec); err != nil {
		return nil, err
	}
	k.logger.Debug("keychain item added",
		logging.String("label", label),
		logging.String("key_id", rec.KeyID))
	return &ItemInfo{Label: label, KeyID: rec.KeyID, Type: rec.Type, Created: rec.Created, PublicKey: kp.Public()}, nil
}

// Get decrypts the item under label.
func (k *Keychain) Get(label string, passphrase []byte) (*KeyPair, error) {
	rec, err := k.load(label)
	if err != nil {
		return nil, err
	}
	return open(rec, passphrase)
}

// Info returns the metadata and public key of label.
func (k *Keychain) Info(label string) (*ItemInfo, error) {
	rec, err := k.load(label)
	if err != nil {
		return nil, err
	}
	return rec.info()
}

// List returns the metadata of every item, ordered by label.
func (k *Keychain) List() ([]ItemInfo, error) {
	keys, err := k.backend.List(keychainPrefix + "/")
	if err != nil {
		return nil, fmt.Errorf("keys: failed to list items: %w", err)
	}
	out := make([]ItemInfo, 0, len(keys))
	for _, key := range keys {
		rec, err := k.load(strings.TrimPrefix(key, keychainPrefix+"/"))
		if err != nil {
			return nil, err
		}
		info, err := rec.info()
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

// Delete removes label.
func (k *Keychain) Delete(label string) error {
	key, err := itemKey(label)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.backend.Delete(key); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("%w: %q", ErrItemNotFound, label)
		}
		return fmt.Errorf("keys: failed to delete %q: %w", label, err)
	}
	return nil
}

// ChangePassphrase re-encrypts label under a new passphrase.
func (k *Keychain) ChangePassphrase(label string, oldPassphrase, newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return ErrPassphraseRequired
	}
	key, err := itemKey(label)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.load(label)
	if err != nil {
		return err
	}
	kp, err := open(rec, oldPassphrase)
	if err != nil {
		return err
	}
	updated, err := k.seal(label, kp, newPassphrase, rec.Created)
	if err != nil {
		return err
	}
	return k.put(key, updated)
}

func (k *Keychain) seal(label string, kp *KeyPair, passphrase []byte, created time.Time) (*itemRecord, error) {
	kid, err := kp.KeyID()
	if err != nil {
		return nil, err
	}
	der, err := pkcs8.MarshalPrivateKey(kp.Private, passphrase, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to encrypt %q: %w", label, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(kp.Public())
	if err != nil {
		return nil, fmt.Errorf("keys: failed to encode public key: %w", err)
	}
	return &itemRecord{
		Label:   label,
		KeyID:   kid,
		Type:    kp.Type,
		Created: created,
		Public:  string(pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: pubDER})),
		Private: string(pem.EncodeToMemory(&pem.Block{Type: pemEncryptedKey, Bytes: der})),
	}, nil
}

func (k *Keychain) put(key string, rec *itemRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("keys: failed to encode item: %w", err)
	}
	if err := k.backend.Put(key, data); err != nil {
		return fmt.Errorf("keys: failed to store item: %w", err)
	}
	return nil
}

func (k *Keychain) load(label string) (*itemRecord, error) {
	key, err := itemKey(label)
	if err != nil {
		return nil, err
	}
	data, err := k.backend.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %q", ErrItemNotFound, label)
		}
		return nil, fmt.Errorf("keys: failed to read %q: %w", label, err)
	}
	var rec itemRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("keys: corrupt item %q: %w", label, err)
	}
	return &rec, nil
}

func (r *itemRecord) info() (*ItemInfo, error) {
	block, _ := pem.Decode([]byte(r.Public))
	if block == nil || block.Type != pemPublicKey {
		return nil, fmt.Errorf("keys: item %q has no public key", r.Label)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: item %q: %w", r.Label, err)
	}
	return &ItemInfo{Label: r.Label, KeyID: r.KeyID, Type: r.Type, Created: r.Created, PublicKey: pub}, nil
}

func open(rec *itemRecord, passphrase []byte) (*KeyPair, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	block, _ := pem.Decode([]byte(rec.Private))
	if block == nil || block.Type != pemEncryptedKey {
		return nil, fmt.Errorf("keys: item %q has no private key", rec.Label)
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrAuthFailed, rec.Label)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, key)
	}
	return FromSigner(signer)
}

func itemKey(label string) (string, error) {
	if label == "" || strings.Contains(label, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	key := storage.Join(keychainPrefix, label)
	if err := storage.ValidateKey(key); err != nil {
		return "", errors.Join(ErrInvalidLabel, err)
	}
	return key, nil
}
