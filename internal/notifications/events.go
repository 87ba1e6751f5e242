package notifications

import (
	"fmt"
	"math/big"

	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/shopspring/decimal"
)

// OrderTransition reports an order reaching a terminal status.
func (s *Sender) OrderTransition(o models.TapToTradeOrder, from models.OrderStatus) {
	if !o.Status.IsTerminal() {
		return
	}
	level := LevelInfo
	switch o.Status {
	case models.OrderExecuted:
		level = LevelSuccess
	case models.OrderFailed:
		level = LevelFailure
	}
	go s.Notify(Notice{Title: "Order " + string(o.Status), Body: FormatOrderTransition(o, from), Level: level})
}

// BetResolved reports a settled one-tap bet.
func (s *Sender) BetResolved(b models.Bet) {
	if !b.Status.IsResolved() {
		return
	}
	level := LevelInfo
	switch b.Status {
	case models.BetWon:
		level = LevelSuccess
	case models.BetLost:
		level = LevelFailure
	}
	go s.Notify(Notice{Title: "Bet " + string(b.Status), Body: FormatBet(b), Level: level})
}

func (s *Sender) BatchSubmitted(sessionID string, orders int, collateralEach, dropped *big.Int) {
	go s.Notify(Notice{Title: "Batch submitted", Body: FormatBatch(sessionID, orders, collateralEach, dropped)})
}

func FormatBatch(sessionID string, orders int, collateralEach, dropped *big.Int) string {
	msg := fmt.Sprintf("%d orders @ %s USDC (session %s)",
		orders, formatUnits(collateralEach, 6), shortID(sessionID))
	if dropped != nil && dropped.Sign() > 0 {
		msg += fmt.Sprintf(", %s USDC rounding remainder unused", formatUnits(dropped, 6))
	}
	return msg
}

func FormatOrderTransition(o models.TapToTradeOrder, from models.OrderStatus) string {
	side := "SHORT"
	if o.IsLong {
		side = "LONG"
	}
	msg := fmt.Sprintf("Order %s %s -> %s: %s %s @ %s, %s USDC x%d",
		shortID(o.ID), from, o.Status, side, o.Symbol,
		formatFixed(o.TriggerPrice, 8, 2), formatFixed(o.Collateral, 6, 2), o.Leverage)
	if o.ExecutedTxHash != nil && *o.ExecutedTxHash != "" {
		msg += " tx " + *o.ExecutedTxHash
	}
	if o.FailureReason != nil && *o.FailureReason != "" {
		msg += " (" + *o.FailureReason + ")"
	}
	return msg
}

func FormatBet(b models.Bet) string {
	return fmt.Sprintf("Bet %s %s: %s %s USDC target %s, multiplier %s",
		shortID(b.ID), b.Status, b.Symbol, formatFixed(b.BetAmount, 6, 2),
		formatFixed(b.TargetPrice, 8, 2), decimal.New(int64(b.Multiplier), -2).StringFixed(2)+"x")
}

func formatFixed(s string, decimals int32, places int32) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.Shift(-decimals).StringFixed(places)
}

func formatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
