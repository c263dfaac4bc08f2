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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
)

// PermanentInfo is the signed, never changing description of a peer.
type PermanentInfo struct {
	PeerID      string `json:"peer_id"`
	ModelID     string `json:"model_id"`
	Epoch       uint64 `json:"epoch"`
	SigningSPKI []byte `json:"signing_spki"`
}

// Identity is the local peer: its encoded permanent info and the signature
// over it made with the peer's signing key.
type Identity struct {
	PeerID        string
	PermanentInfo []byte
	Signature     []byte
}

// Verify checks the signature and that the embedded peer ID matches the
// signing key, returning the decoded info.
func (id *Identity) Verify() (*PermanentInfo, error) {
	var info PermanentInfo
	if err := json.Unmarshal(id.PermanentInfo, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPermanentInfo, err)
	}
	pub, err := x509.ParsePKIXPublicKey(info.SigningSPKI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPermanentInfo, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: signing key is %T", ErrInvalidPermanentInfo, pub)
	}
	peerID, err := PeerID(ecPub)
	if err != nil {
		return nil, err
	}
	if peerID != info.PeerID || peerID != id.PeerID {
		return nil, fmt.Errorf("%w: peer ID does not match signing key", ErrInvalidPermanentInfo)
	}
	digest := sha512.Sum384(id.PermanentInfo)
	if !ecdsa.VerifyASN1(ecPub, digest[:], id.Signature) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidPermanentInfo)
	}
	return &info, nil
}

// Source refreshes a model from the circle's backing store.
type Source interface {
	// FetchChanges brings peers and enrollments up to date.
	FetchChanges(ctx context.Context, m *Model) error

	// FetchPolicies adds the requested policy documents to m.
	FetchPolicies(ctx context.Context, versions []uint64, m *Model) error
}

// Preflight is the outcome of a successful PreflightVouch.
type Preflight struct {
	// PeerID is the recovery peer that would vouch for us.
	PeerID string
	Views  []string
	Policy *Policy
}

// ContainerOption configures a Container.
type ContainerOption func(*Container)

// WithSource sets the source consulted before every operation.
func WithSource(s Source) ContainerOption {
	return func(c *Container) {
		c.source = s
	}
}

// WithLogger sets the container logger.
func WithLogger(l logging.Logger) ContainerOption {
	return func(c *Container) {
		if l != nil {
			c.logger = l
		}
	}
}

// Container holds the local identity and the circle model. Operations run one
// at a time.
type Container struct {
	mu     sync.Mutex
	model  *Model
	source Source
	ego    *Identity
	logger logging.Logger
}

// NewContainer returns a container over model.
func NewContainer(model *Model, opts ...ContainerOption) *Container {
	c := &Container{model: model, logger: logging.Nop{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the container's model.
func (c *Container) Model() *Model {
	return c.model
}

// Prepare creates a new local identity for a device of modelID and returns it
// with its signing key.
func (c *Container) Prepare(modelID string, epoch uint64) (*Identity, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("recoverykey: failed to generate signing key: %w", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("recoverykey: failed to encode signing key: %w", err)
	}
	peerID, err := PeerID(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(PermanentInfo{
		PeerID:      peerID,
		ModelID:     modelID,
		Epoch:       epoch,
		SigningSPKI: spki,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("recoverykey: failed to encode permanent info: %w", err)
	}
	digest := sha512.Sum384(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, nil, fmt.Errorf("recoverykey: failed to sign permanent info: %w", err)
	}
	id := &Identity{PeerID: peerID, PermanentInfo: data, Signature: sig}

	c.mu.Lock()
	c.ego = id
	c.mu.Unlock()

	c.logger.Debug("prepared identity", logging.String("peer_id", peerID), logging.String("model_id", modelID))
	return id, key, nil
}

// SetIdentity replaces the local identity. A nil identity clears it.
func (c *Container) SetIdentity(id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ego = id
}

// EnrollRecoveryKey derives the key pair for recoveryKey and salt and records
// the local peer as its sponsor.
func (c *Container) EnrollRecoveryKey(ctx context.Context, recoveryKey, salt string) (KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return KeyPair{}, err
	}
	if c.ego == nil {
		return KeyPair{}, ErrNoPreparedIdentity
	}
	keys, err := Derive(recoveryKey, salt)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrFailedToCreateRecoveryKey, err)
	}
	pair, err := keys.KeyPair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrFailedToCreateRecoveryKey, err)
	}
	c.model.Enroll(c.ego.PeerID, pair)
	c.logger.Info("enrolled recovery key", logging.String("sponsor", c.ego.PeerID), logging.String("recovery_peer_id", keys.PeerID))
	return pair, nil
}

// PreflightVouch reports which recovery peer, policy and views the local
// identity would end up with if it joined using recoveryKey, without changing
// anything.
func (c *Container) PreflightVouch(ctx context.Context, recoveryKey, salt string) (*Preflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.preflightVouch(ctx, recoveryKey, salt)
	if err != nil {
		c.logger.Debug("preflight recovery key failed", logging.Error(err))
		return nil, err
	}
	c.logger.Info("preflight recovery key complete",
		logging.String("peer_id", result.PeerID),
		logging.Strings("views", result.Views))
	return result, nil
}

func (c *Container) preflightVouch(ctx context.Context, recoveryKey, salt string) (*Preflight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.source != nil {
		if err := c.source.FetchChanges(ctx, c.model); err != nil {
			return nil, fmt.Errorf("recoverykey: unable to fetch current peers: %w", err)
		}
		missing := make([]uint64, 0)
		for _, v := range c.model.PolicyVersions() {
			if !c.model.HasPolicy(v) {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			if err := c.source.FetchPolicies(ctx, missing, c.model); err != nil {
				return nil, fmt.Errorf("recoverykey: unable to fetch policy documents: %w", err)
			}
		}
	}

	if c.ego == nil {
		return nil, ErrNoPreparedIdentity
	}
	self, err := c.ego.Verify()
	if err != nil {
		return nil, err
	}

	keys, err := Derive(recoveryKey, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateRecoveryKey, err)
	}
	pair, err := keys.KeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateRecoveryKey, err)
	}

	if !c.model.IsRecoveryKeyEnrolled() {
		return nil, ErrRecoveryKeysNotEnrolled
	}
	sponsorID, ok := c.model.PeerIDThatTrustsRecoveryKeys(pair)
	if !ok {
		return nil, ErrUntrustedRecoveryKeys
	}
	sponsor, ok := c.model.Peer(sponsorID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSponsorNotRegistered, sponsorID)
	}

	peerIDs := sponsor.IncludedPeerIDs
	if len(peerIDs) == 0 {
		peerIDs = []string{sponsor.ID}
	}
	policy, err := c.model.PolicyFor(peerIDs)
	if err != nil {
		return nil, err
	}
	views, err := policy.ViewsFor(self.ModelID)
	if err != nil {
		return nil, err
	}
	return &Preflight{PeerID: keys.PeerID, Views: views, Policy: policy}, nil
}

// IsPreflightFailure reports whether err is one of the expected refusals of
// PreflightVouch rather than an I/O failure.
func IsPreflightFailure(err error) bool {
	for _, target := range []error{
		ErrNoPreparedIdentity,
		ErrInvalidPermanentInfo,
		ErrFailedToCreateRecoveryKey,
		ErrRecoveryKeysNotEnrolled,
		ErrUntrustedRecoveryKeys,
		ErrSponsorNotRegistered,
		ErrPolicyNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
