package risk

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var ErrBlocked = errors.New("blocked by risk limits")

// ActiveOrderCounter abstracts the open-order count so Guardian can be
// tested without a live tracker.
type ActiveOrderCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// Limits holds the client-side submission limits. Amounts are in
// collateral base units (6 decimals). A zero value disables that check.
type Limits struct {
	MaxOrdersPerBatch     int
	MaxMarginPerBatch     int64
	MinCollateralPerOrder int64
	MaxActiveOrders       int
	MaxBetAmount          int64
}

type Guardian struct {
	limits  Limits
	counter ActiveOrderCounter
}

func NewGuardian(limits Limits, counter ActiveOrderCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

func (g *Guardian) Limits() Limits { return g.limits }

// PreSubmitCheck validates a batch of orders sharing margin before anything
// is signed. Returns nil if the batch is allowed.
func (g *Guardian) PreSubmitCheck(ctx context.Context, orders int, margin *big.Int) error {
	if orders <= 0 {
		return nil
	}
	if g.limits.MaxOrdersPerBatch > 0 && orders > g.limits.MaxOrdersPerBatch {
		return fmt.Errorf("%w: %d orders exceeds max %d per batch",
			ErrBlocked, orders, g.limits.MaxOrdersPerBatch)
	}
	if g.limits.MaxMarginPerBatch > 0 && margin.Cmp(big.NewInt(g.limits.MaxMarginPerBatch)) > 0 {
		return fmt.Errorf("%w: margin %s exceeds max %d per batch",
			ErrBlocked, margin, g.limits.MaxMarginPerBatch)
	}
	if g.limits.MinCollateralPerOrder > 0 {
		per := new(big.Int).Quo(margin, big.NewInt(int64(orders)))
		if per.Cmp(big.NewInt(g.limits.MinCollateralPerOrder)) < 0 {
			return fmt.Errorf("%w: collateral per order %s below min %d",
				ErrBlocked, per, g.limits.MinCollateralPerOrder)
		}
	}

	if g.limits.MaxActiveOrders > 0 && g.counter != nil {
		active, err := g.counter.CountActive(ctx)
		if err != nil {
			return fmt.Errorf("%w: unable to verify active order count: %v", ErrBlocked, err)
		}
		if active+orders > g.limits.MaxActiveOrders {
			return fmt.Errorf("%w: %d active + %d new orders exceeds max %d",
				ErrBlocked, active, orders, g.limits.MaxActiveOrders)
		}
	}
	return nil
}

// BetCheck validates a single one-tap bet amount.
func (g *Guardian) BetCheck(amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: bet amount must be positive", ErrBlocked)
	}
	if g.limits.MaxBetAmount > 0 && amount.Cmp(big.NewInt(g.limits.MaxBetAmount)) > 0 {
		return fmt.Errorf("%w: bet amount %s exceeds max %d", ErrBlocked, amount, g.limits.MaxBetAmount)
	}
	return nil
}
