package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSession = errors.New("no session key")
	ErrExpired   = errors.New("session key expired")
)

const authPrompt = "Authorize session key for Tethra tap-to-trade"

// Authorizer is the trader's wallet: it signs the authorization message once
// per session with personal_sign semantics.
type Authorizer interface {
	Address() common.Address
	PersonalSign(ctx context.Context, msg []byte) ([]byte, error)
}

// AuthorizationMessage is the text the trader signs to delegate to a session key.
func AuthorizationMessage(sessionAddr common.Address, expiresAtSeconds int64) string {
	return fmt.Sprintf("%s\n\nSession key: %s\nExpires at: %d", authPrompt, sessionAddr.Hex(), expiresAtSeconds)
}

// Manager owns the single active session key of this client.
type Manager struct {
	mu    sync.Mutex
	store Store
	key   *models.SessionKey
	priv  *ecdsa.PrivateKey
	now   func() time.Time
	log   *logrus.Entry
}

func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		log:   log.WithComponent("session"),
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Create generates a fresh key, asks the wallet to authorize it and persists
// it. A wallet rejection leaves the previous state untouched.
func (m *Manager) Create(ctx context.Context, wallet Authorizer, duration time.Duration) (*models.SessionKey, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("session duration must be positive")
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)

	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()
	expires := now.Add(duration)

	msg := AuthorizationMessage(addr, expires.Unix())
	sig, err := wallet.PersonalSign(ctx, []byte(msg))
	if err != nil {
		return nil, fmt.Errorf("authorize session key: %w", err)
	}

	key := &models.SessionKey{
		PrivateKey:    hexutil.Encode(crypto.FromECDSA(priv)),
		Address:       addr.Hex(),
		ExpiresAt:     expires.UnixMilli(),
		AuthorizedBy:  strings.ToLower(wallet.Address().Hex()),
		AuthSignature: hexutil.Encode(sig),
		CreatedAt:     now.UnixMilli(),
	}
	if err := m.store.Save(key); err != nil {
		return nil, fmt.Errorf("persist session key: %w", err)
	}

	m.mu.Lock()
	m.key = key
	m.priv = priv
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session": addr.Hex(),
		"trader":  key.AuthorizedBy,
		"expires": expires.Format(time.RFC3339),
	}).Info("Session key authorized")

	pub := key.Public()
	return &pub, nil
}

// Restore picks up a persisted session for trader. An expired one is evicted.
func (m *Manager) Restore(trader string) (bool, error) {
	key, err := m.store.Load(trader)
	if err != nil {
		return false, fmt.Errorf("load session key: %w", err)
	}
	if key == nil {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now().UnixMilli() >= key.ExpiresAt {
		m.log.WithField("session", key.Address).Info("Stored session key expired, removing")
		return false, m.store.Delete(trader)
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(key.PrivateKey, "0x"))
	if err != nil {
		return false, fmt.Errorf("decode session key: %w", err)
	}
	m.key = key
	m.priv = priv
	m.log.WithField("session", key.Address).Info("Session key restored")
	return true, nil
}

// Valid reports whether a non-expired session is held, evicting an expired one.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked() == nil
}

func (m *Manager) checkLocked() error {
	if m.key == nil {
		return ErrNoSession
	}
	if m.now().UnixMilli() >= m.key.ExpiresAt {
		trader := m.key.AuthorizedBy
		m.key = nil
		m.priv = nil
		if err := m.store.Delete(trader); err != nil {
			m.log.WithError(err).Warn("Failed to remove expired session key")
		}
		return ErrExpired
	}
	return nil
}

// Sign signs a 32-byte digest with the session key using personal-message
// hashing. V is 27 or 28.
func (m *Manager) Sign(hash []byte) ([]byte, error) {
	m.mu.Lock()
	if err := m.checkLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	priv := m.priv
	m.mu.Unlock()

	if len(hash) != 32 {
		return nil, fmt.Errorf("session sign: hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(accounts.TextHash(hash), priv)
	if err != nil {
		return nil, fmt.Errorf("session sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// Address returns the session key's address when the session is valid.
func (m *Manager) Address() (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(m.key.Address), nil
}

// Current returns the active session without its private key.
func (m *Manager) Current() (models.SessionKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkLocked() != nil {
		return models.SessionKey{}, false
	}
	return m.key.Public(), true
}

// Authorization is what the backend needs to accept a session-signed payload.
func (m *Manager) Authorization() (models.SessionAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return models.SessionAuthorization{}, err
	}
	return models.SessionAuthorization{
		SessionKey:    m.key.Address,
		AuthorizedBy:  m.key.AuthorizedBy,
		AuthSignature: m.key.AuthSignature,
		ExpiresAt:     m.key.ExpiresAt,
	}, nil
}

// Clear drops the session from memory and the store.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return nil
	}
	trader := m.key.AuthorizedBy
	m.key = nil
	m.priv = nil
	m.log.Info("Session key cleared")
	return m.store.Delete(trader)
}

// VerifyAuthorization recovers the address that signed key's authorization.
func VerifyAuthorization(key *models.SessionKey) (common.Address, error) {
	sig, err := hexutil.Decode(key.AuthSignature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode auth signature: %w", err)
	}
	msg := AuthorizationMessage(common.HexToAddress(key.Address), key.ExpiresAt/1000)
	return RecoverPersonal([]byte(msg), sig)
}

// RecoverPersonal recovers the signer of a personal_sign signature.
func RecoverPersonal(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
