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

package trust

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

const settingsPrefix = "trust-settings/"

// Setting is a per-certificate trust decision.
type Setting int

const (
	SettingUnspecified Setting = iota
	// SettingTrustRoot makes a self-signed certificate an anchor.
	SettingTrustRoot
	// SettingTrustAsRoot makes any certificate an anchor.
	SettingTrustAsRoot
	// SettingDeny rejects every chain containing the certificate.
	SettingDeny
)

var settingNames = map[Setting]string{
	SettingUnspecified: "unspecified",
	SettingTrustRoot:   "trust_root",
	SettingTrustAsRoot: "trust_as_root",
	SettingDeny:        "deny",
}

func (s Setting) String() string {
	if n, ok := settingNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseSetting is the inverse of Setting.String.
func ParseSetting(s string) (Setting, error) {
	for k, v := range settingNames {
		if v == s {
			return k, nil
		}
	}
	return SettingUnspecified, fmt.Errorf("%w: %q", ErrInvalidSetting, s)
}

func (s Setting) anchors() bool {
	return s == SettingTrustRoot || s == SettingTrustAsRoot
}

// settingsRecord is the persisted document.
type settingsRecord struct {
	Certificate string   `yaml:"certificate"`
	Setting     string   `yaml:"setting"`
	Policies    []string `yaml:"policies,omitempty"`
}

// SettingsEntry is one stored decision.
type SettingsEntry struct {
	Certificate *x509.Certificate
	Setting     Setting
	// Policies restricts the decision to the named policies. Empty means all.
	Policies []string
}

// AppliesTo reports whether the entry covers every policy in names.
func (e SettingsEntry) AppliesTo(names []string) bool {
	if len(e.Policies) == 0 {
		return true
	}
	for _, n := range names {
		if !slices.Contains(e.Policies, n) {
			return false
		}
	}
	return true
}

// Settings persists trust decisions in a storage backend, one YAML document
// per certificate keyed by its SHA-256 fingerprint.
type Settings struct {
	backend storage.Backend
}

func NewSettings(backend storage.Backend) *Settings {
	return &Settings{backend: backend}
}

// Set records setting for cert, optionally limited to policies.
func (s *Settings) Set(cert *x509.Certificate, setting Setting, policies ...string) error {
	if setting == SettingTrustRoot && !selfSigned(cert) {
		return fmt.Errorf("%w: trust_root requires a self-signed certificate", ErrInvalidSetting)
	}
	if setting == SettingUnspecified {
		return s.Remove(cert)
	}
	rec := settingsRecord{
		Certificate: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
		Setting:     setting.String(),
		Policies:    policies,
	}
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode trust settings: %w", err)
	}
	if err := s.backend.Put(settingsKey(cert), data); err != nil {
		return fmt.Errorf("failed to store trust settings: %w", err)
	}
	return nil
}

// Get returns the entry for cert. A certificate without settings yields
// SettingUnspecified and no error.
func (s *Settings) Get(cert *x509.Certificate) (SettingsEntry, error) {
	data, err := s.backend.Get(settingsKey(cert))
	if errors.Is(err, storage.ErrNotFound) {
		return SettingsEntry{Certificate: cert, Setting: SettingUnspecified}, nil
	}
	if err != nil {
		return SettingsEntry{}, fmt.Errorf("failed to read trust settings: %w", err)
	}
	return decodeSettings(data)
}

// Remove deletes the entry for cert. Removing a missing entry is not an error.
func (s *Settings) Remove(cert *x509.Certificate) error {
	err := s.backend.Delete(settingsKey(cert))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to remove trust settings: %w", err)
	}
	return nil
}

// List returns every stored entry, ordered by fingerprint.
func (s *Settings) List() ([]SettingsEntry, error) {
	keys, err := s.backend.List(settingsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list trust settings: %w", err)
	}
	out := make([]SettingsEntry, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		e, err := decodeSettings(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Anchors returns the certificates trusted as anchors for policies.
func (s *Settings) Anchors(policies []string) ([]*x509.Certificate, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*x509.Certificate
	for _, e := range entries {
		if e.Setting.anchors() && e.AppliesTo(policies) {
			out = append(out, e.Certificate)
		}
	}
	return out, nil
}

func decodeSettings(data []byte) (SettingsEntry, error) {
	var rec settingsRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return SettingsEntry{}, fmt.Errorf("failed to decode trust settings: %w", err)
	}
	block, _ := pem.Decode([]byte(rec.Certificate))
	if block == nil {
		return SettingsEntry{}, fmt.Errorf("failed to decode trust settings: no certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return SettingsEntry{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	setting, err := ParseSetting(strings.TrimSpace(rec.Setting))
	if err != nil {
		return SettingsEntry{}, err
	}
	return SettingsEntry{Certificate: cert, Setting: setting, Policies: rec.Policies}, nil
}

func settingsKey(cert *x509.Certificate) string {
	return settingsPrefix + FingerprintHex(cert)
}

func selfSigned(c *x509.Certificate) bool {
	return bytes.Equal(c.RawIssuer, c.RawSubject) && c.CheckSignatureFrom(c) == nil
}
