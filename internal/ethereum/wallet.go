package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// KeyWallet signs with a locally held private key.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	client  *Client
}

// NewKeyWallet parses a hex private key. client may be nil when the wallet
// never sends transactions.
func NewKeyWallet(privateKeyHex string, client *Client) (*KeyWallet, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyWallet{key: pk, address: crypto.PubkeyToAddress(pk.PublicKey), client: client}, nil
}

func (w *KeyWallet) Address() common.Address { return w.address }

// PersonalSign signs msg with the Ethereum signed message prefix. V is 27 or 28.
func (w *KeyWallet) PersonalSign(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (w *KeyWallet) SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if w.client == nil {
		return common.Hash{}, fmt.Errorf("key wallet has no RPC client")
	}
	return w.client.SignAndSend(ctx, w.key, w.address, to, data)
}

// RPCWallet delegates signing to a node or wallet service that holds the
// account, through personal_sign and eth_sendTransaction.
type RPCWallet struct {
	rpc     *rpc.Client
	address common.Address
}

func NewRPCWallet(ctx context.Context, endpoint, address string) (*RPCWallet, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid wallet address %q", address)
	}
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial wallet RPC: %w", err)
	}
	return &RPCWallet{rpc: c, address: common.HexToAddress(address)}, nil
}

func (w *RPCWallet) Address() common.Address { return w.address }
func (w *RPCWallet) Close()                  { w.rpc.Close() }

func (w *RPCWallet) PersonalSign(ctx context.Context, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := w.rpc.CallContext(ctx, &sig, "personal_sign", hexutil.Bytes(msg), w.address); err != nil {
		return nil, fmt.Errorf("personal_sign: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("personal_sign returned %d bytes", len(sig))
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func (w *RPCWallet) SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	tx := map[string]interface{}{
		"from": w.address,
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	var hash common.Hash
	if err := w.rpc.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendTransaction: %w", err)
	}
	return hash, nil
}
