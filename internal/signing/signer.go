package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var ErrSignerUnavailable = errors.New("no signer available")

type Kind string

const (
	KindWallet  Kind = "wallet"
	KindSession Kind = "session"
)

// Signer signs 32-byte digests with personal-message semantics.
type Signer interface {
	Address() common.Address
	Kind() Kind
	SignHash(ctx context.Context, hash []byte) ([]byte, error)
}

// WalletProvider is the trader's wallet. Every PersonalSign may prompt the user.
type WalletProvider interface {
	Address() common.Address
	PersonalSign(ctx context.Context, msg []byte) ([]byte, error)
}

// SessionKeys is the subset of the session manager used for signing.
type SessionKeys interface {
	Valid() bool
	Address() (common.Address, error)
	Sign(hash []byte) ([]byte, error)
}

type WalletSigner struct {
	wallet WalletProvider
}

func NewWalletSigner(w WalletProvider) *WalletSigner {
	return &WalletSigner{wallet: w}
}

func (s *WalletSigner) Address() common.Address { return s.wallet.Address() }
func (s *WalletSigner) Kind() Kind              { return KindWallet }

func (s *WalletSigner) SignHash(ctx context.Context, hash []byte) ([]byte, error) {
	sig, err := s.wallet.PersonalSign(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("wallet sign: %w", err)
	}
	return sig, nil
}

type SessionSigner struct {
	keys SessionKeys
	addr common.Address
}

func NewSessionSigner(keys SessionKeys) (*SessionSigner, error) {
	addr, err := keys.Address()
	if err != nil {
		return nil, err
	}
	return &SessionSigner{keys: keys, addr: addr}, nil
}

func (s *SessionSigner) Address() common.Address { return s.addr }
func (s *SessionSigner) Kind() Kind              { return KindSession }

func (s *SessionSigner) SignHash(_ context.Context, hash []byte) ([]byte, error) {
	return s.keys.Sign(hash)
}

// Resolve picks the session key when one is valid, otherwise the wallet.
// Callers resolve once per operation and use the result for every signature
// in it.
func Resolve(sessions SessionKeys, wallet WalletProvider) (Signer, error) {
	if sessions != nil && sessions.Valid() {
		if s, err := NewSessionSigner(sessions); err == nil {
			return s, nil
		}
	}
	if wallet != nil {
		return NewWalletSigner(wallet), nil
	}
	return nil, ErrSignerUnavailable
}
