package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/sirupsen/logrus"
)

// TxSender broadcasts a contract call from the trader's account.
type TxSender interface {
	Address() common.Address
	SendTx(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Collateral manages the trader's USDC balance and allowances.
type Collateral struct {
	client          *Client
	token           common.Address
	sender          TxSender
	abi             abi.ABI
	receiptInterval time.Duration
	log             *logrus.Entry
}

func NewCollateral(client *Client, token string, sender TxSender, log *logger.Logger) (*Collateral, error) {
	parsed, err := abi.JSON(erc20ABI())
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	return &Collateral{
		client:          client,
		token:           common.HexToAddress(token),
		sender:          sender,
		abi:             parsed,
		receiptInterval: ReceiptInterval,
		log:             log.WithComponent("collateral"),
	}, nil
}

func (c *Collateral) Balance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "balanceOf", c.sender.Address())
}

func (c *Collateral) Allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, "allowance", c.sender.Address(), spender)
}

// EnsureAllowance approves spender for the maximum amount when the current
// allowance is below amount, then waits for the approval to be mined.
// It reports whether an approval was sent.
func (c *Collateral) EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (bool, error) {
	current, err := c.Allowance(ctx, spender)
	if err != nil {
		return false, err
	}
	if current.Cmp(amount) >= 0 {
		return false, nil
	}

	c.log.WithFields(logrus.Fields{
		"spender": spender.Hex(),
		"current": current.String(),
		"needed":  amount.String(),
	}).Info("Setting collateral allowance")

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data, err := c.abi.Pack("approve", spender, maxUint256)
	if err != nil {
		return false, err
	}
	hash, err := c.sender.SendTx(ctx, c.token, data)
	if err != nil {
		return false, fmt.Errorf("approve tx: %w", err)
	}
	if _, err := c.client.WaitForReceipt(ctx, hash, ReceiptAttempts, c.receiptInterval); err != nil {
		return true, fmt.Errorf("approve receipt: %w", err)
	}
	c.log.WithField("tx", hash.Hex()).Info("Allowance confirmed")
	return true, nil
}

func (c *Collateral) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	result, err := c.client.CallContract(ctx, c.token, data)
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", method, err)
	}
	return new(big.Int).SetBytes(result), nil
}
