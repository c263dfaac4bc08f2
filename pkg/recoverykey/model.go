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

package recoverykey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// KeyPair is an enrolled recovery key, as DER encoded SPKIs.
type KeyPair struct {
	SigningSPKI    []byte
	EncryptionSPKI []byte
}

// Equal reports whether both SPKIs match.
func (k KeyPair) Equal(other KeyPair) bool {
	return bytes.Equal(k.SigningSPKI, other.SigningSPKI) &&
		bytes.Equal(k.EncryptionSPKI, other.EncryptionSPKI)
}

func (k KeyPair) fingerprint() string {
	h := sha256.New()
	h.Write(k.SigningSPKI)
	h.Write(k.EncryptionSPKI)
	return hex.EncodeToString(h.Sum(nil))
}

// Peer is a member of the trust circle.
type Peer struct {
	ID      string
	ModelID string

	// PolicyVersion is the policy document the peer claims to follow.
	PolicyVersion uint64

	// IncludedPeerIDs are the peers this peer trusts. Empty means only
	// itself.
	IncludedPeerIDs []string
}

// Policy maps device model prefixes to the views a device of that model may
// join.
type Policy struct {
	Version uint64
	Name    string

	// Views is keyed by model ID prefix, for example "iPhone" or "Watch".
	Views map[string][]string
}

// ViewsFor returns the sorted views for modelID. The longest matching prefix
// wins.
func (p *Policy) ViewsFor(modelID string) ([]string, error) {
	best := ""
	found := false
	for prefix := range p.Views {
		if strings.HasPrefix(modelID, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: version %d has no views for model %q", ErrPolicyNotFound, p.Version, modelID)
	}
	views := slices.Clone(p.Views[best])
	sort.Strings(views)
	return views, nil
}

// Model is the local view of the trust circle: peers, the recovery keys they
// enrolled and the policy documents fetched so far.
type Model struct {
	mu          sync.RWMutex
	peers       map[string]*Peer
	policies    map[uint64]*Policy
	enrollments map[string]string
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		peers:       make(map[string]*Peer),
		policies:    make(map[uint64]*Policy),
		enrollments: make(map[string]string),
	}
}

// RegisterPeer adds or replaces a peer.
func (m *Model) RegisterPeer(p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.IncludedPeerIDs = slices.Clone(p.IncludedPeerIDs)
	m.peers[p.ID] = &p
}

// RemovePeer drops a peer. Enrollments it made are kept.
func (m *Model) RemovePeer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.peers, id)
}

// Peer returns a copy of the peer with id.
func (m *Model) Peer(id string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[id]
	if !ok {
		return Peer{}, false
	}
	out := *p
	out.IncludedPeerIDs = slices.Clone(p.IncludedPeerIDs)
	return out, true
}

// AddPolicy stores a policy document by version.
func (m *Model) AddPolicy(p *Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policies[p.Version] = p
}

// Enroll records that sponsorID vouched for the recovery key pair. The sponsor
// need not be registered yet.
func (m *Model) Enroll(sponsorID string, pair KeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enrollments[pair.fingerprint()] = sponsorID
}

// IsRecoveryKeyEnrolled reports whether any recovery key has been enrolled.
func (m *Model) IsRecoveryKeyEnrolled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.enrollments) > 0
}

// PeerIDThatTrustsRecoveryKeys returns the sponsor of pair.
func (m *Model) PeerIDThatTrustsRecoveryKeys(pair KeyPair) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.enrollments[pair.fingerprint()]
	return id, ok
}

// PolicyVersions returns the sorted set of versions claimed by peers.
func (m *Model) PolicyVersions() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uint64]struct{})
	for _, p := range m.peers {
		seen[p.PolicyVersion] = struct{}{}
	}
	versions := make([]uint64, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}

// HasPolicy reports whether version has been fetched.
func (m *Model) HasPolicy(version uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.policies[version]
	return ok
}

// PolicyFor picks the newest policy claimed by any registered peer in
// peerIDs. Unknown peer IDs are ignored.
func (m *Model) PolicyFor(peerIDs []string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		version uint64
		found   bool
	)
	for _, id := range peerIDs {
		p, ok := m.peers[id]
		if !ok {
			continue
		}
		if !found || p.PolicyVersion > version {
			version, found = p.PolicyVersion, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no registered peers among %v", ErrPolicyNotFound, peerIDs)
	}
	policy, ok := m.policies[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", ErrPolicyNotFound, version)
	}
	return policy, nil
}
