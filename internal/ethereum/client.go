package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	ReceiptAttempts = 30
	ReceiptInterval = 2 * time.Second

	defaultGasLimit = 100_000
)

var (
	ErrReceiptTimeout = errors.New("transaction receipt not found")
	ErrTxReverted     = errors.New("transaction reverted")
)

type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
}

func NewClient(rpcURL string, chainID int64) (*Client, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	return &Client{rpc: rpc, chainID: big.NewInt(chainID)}, nil
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }
func (c *Client) Close()            { c.rpc.Close() }

// CallContract performs a read-only eth_call and returns the raw result.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]interface{}{
		"to":   to.Hex(),
		"data": fmt.Sprintf("0x%x", data),
	}
	var result string
	err := c.rpc.Client().CallContext(ctx, &result, "eth_call", msg, "latest")
	if err != nil {
		return nil, err
	}
	return common.FromHex(result), nil
}

// SignAndSend signs a legacy transaction with key and broadcasts it.
func (c *Client) SignAndSend(ctx context.Context, key *ecdsa.PrivateKey, from, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      defaultGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls for a receipt up to attempts times. A mined but
// reverted transaction returns ErrTxReverted along with the receipt.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, attempts int, interval time.Duration) (*types.Receipt, error) {
	for i := 0; i < attempts; i++ {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%s: %w", hash.Hex(), ErrTxReverted)
			}
			return receipt, nil
		case !errors.Is(err, geth.NotFound):
			return nil, fmt.Errorf("get receipt: %w", err)
		}

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("%s after %d attempts: %w", hash.Hex(), attempts, ErrReceiptTimeout)
}
