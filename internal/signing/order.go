package signing

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reads the trader's current meta-transaction nonce.
type NonceSource interface {
	MetaNonce(ctx context.Context, trader common.Address) (*big.Int, error)
}

type MarketOrder struct {
	Trader     common.Address
	Symbol     string
	IsLong     bool
	Collateral *big.Int
	Leverage   *big.Int
	Contract   common.Address
}

type SignedOrder struct {
	Hash      common.Hash
	Signature []byte
	Nonce     *big.Int
	Signer    common.Address
	Kind      Kind
}

type OrderSigner struct {
	sessions SessionKeys
	wallet   WalletProvider
	nonces   NonceSource
}

func NewOrderSigner(sessions SessionKeys, wallet WalletProvider, nonces NonceSource) *OrderSigner {
	return &OrderSigner{sessions: sessions, wallet: wallet, nonces: nonces}
}

// Signer resolves the signer for one operation.
func (s *OrderSigner) Signer() (Signer, error) {
	return Resolve(s.sessions, s.wallet)
}

func (s *OrderSigner) SignMarketOrder(ctx context.Context, o MarketOrder) (*SignedOrder, error) {
	signer, err := s.Signer()
	if err != nil {
		return nil, err
	}
	return SignWith(ctx, signer, s.nonces, o)
}

// SignWith reads a nonce from nonces, hashes o and signs it with signer.
func SignWith(ctx context.Context, signer Signer, nonces NonceSource, o MarketOrder) (*SignedOrder, error) {
	nonce, err := nonces.MetaNonce(ctx, o.Trader)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	hash, err := OrderHash(o.Trader, o.Symbol, o.IsLong, o.Collateral, o.Leverage, nonce, o.Contract)
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}
	sig, err := signer.SignHash(ctx, hash.Bytes())
	if err != nil {
		return nil, err
	}
	return &SignedOrder{
		Hash:      hash,
		Signature: sig,
		Nonce:     nonce,
		Signer:    signer.Address(),
		Kind:      signer.Kind(),
	}, nil
}

// NonceSequencer hands out strictly increasing nonces per trader for the
// lifetime of one batch, even when the chain counter has not moved between
// reads.
type NonceSequencer struct {
	src  NonceSource
	mu   sync.Mutex
	last map[common.Address]*big.Int
}

func NewNonceSequencer(src NonceSource) *NonceSequencer {
	return &NonceSequencer{src: src, last: make(map[common.Address]*big.Int)}
}

func (n *NonceSequencer) MetaNonce(ctx context.Context, trader common.Address) (*big.Int, error) {
	read, err := n.src.MetaNonce(ctx, trader)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	next := new(big.Int).Set(read)
	if prev, ok := n.last[trader]; ok && next.Cmp(prev) <= 0 {
		next.Add(prev, big.NewInt(1))
	}
	n.last[trader] = next
	return new(big.Int).Set(next), nil
}
