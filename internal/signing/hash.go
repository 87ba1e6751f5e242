package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderHash is keccak256 over the tightly packed
// (address trader, string symbol, bool isLong, uint256 collateral,
// uint256 leverage, uint256 nonce, address contract).
func OrderHash(trader common.Address, symbol string, isLong bool, collateral, leverage, nonce *big.Int, contract common.Address) (common.Hash, error) {
	c, err := packUint256(collateral)
	if err != nil {
		return common.Hash{}, fmt.Errorf("collateral: %w", err)
	}
	l, err := packUint256(leverage)
	if err != nil {
		return common.Hash{}, fmt.Errorf("leverage: %w", err)
	}
	n, err := packUint256(nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	side := byte(0)
	if isLong {
		side = 1
	}
	return crypto.Keccak256Hash(
		trader.Bytes(),
		[]byte(symbol),
		[]byte{side},
		c, l, n,
		contract.Bytes(),
	), nil
}

// BetHash is keccak256 over the tightly packed
// (address trader, string symbol, uint256 betAmount, uint256 targetPrice,
// uint256 targetTime, uint256 nonce, address contract).
func BetHash(trader common.Address, symbol string, betAmount, targetPrice *big.Int, targetTime int64, nonce *big.Int, contract common.Address) (common.Hash, error) {
	fields := []struct {
		name string
		v    *big.Int
	}{
		{"bet amount", betAmount},
		{"target price", targetPrice},
		{"target time", big.NewInt(targetTime)},
		{"nonce", nonce},
	}
	parts := [][]byte{trader.Bytes(), []byte(symbol)}
	for _, f := range fields {
		w, err := packUint256(f.v)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%s: %w", f.name, err)
		}
		parts = append(parts, w)
	}
	parts = append(parts, contract.Bytes())
	return crypto.Keccak256Hash(parts...), nil
}

func packUint256(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("missing value")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", v)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("value exceeds uint256")
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}
