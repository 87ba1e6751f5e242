package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MetaContract reads meta-transaction nonces from a trading contract.
type MetaContract struct {
	client  *Client
	address common.Address
	abi     abi.ABI
}

func NewMetaContract(client *Client, address string) (*MetaContract, error) {
	parsed, err := abi.JSON(metaNonceABI())
	if err != nil {
		return nil, fmt.Errorf("parse meta nonce ABI: %w", err)
	}
	return &MetaContract{client: client, address: common.HexToAddress(address), abi: parsed}, nil
}

func (m *MetaContract) Address() common.Address { return m.address }

func (m *MetaContract) MetaNonce(ctx context.Context, trader common.Address) (*big.Int, error) {
	data, err := m.abi.Pack("metaNonces", trader)
	if err != nil {
		return nil, err
	}
	result, err := m.client.CallContract(ctx, m.address, data)
	if err != nil {
		return nil, fmt.Errorf("metaNonces call: %w", err)
	}
	out, err := m.abi.Unpack("metaNonces", result)
	if err != nil {
		return nil, fmt.Errorf("unpack metaNonces: %w", err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected metaNonces result %T", out[0])
	}
	return nonce, nil
}
