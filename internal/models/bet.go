package models

import "time"

type BetStatus string

const (
	BetActive    BetStatus = "ACTIVE"
	BetWon       BetStatus = "WON"
	BetLost      BetStatus = "LOST"
	BetCancelled BetStatus = "CANCELLED"
)

func (s BetStatus) IsResolved() bool {
	return s == BetWon || s == BetLost || s == BetCancelled
}

// Bet is a one-tap binary bet. Prices carry 8 implied decimals and
// BetAmount 6. Multiplier is scaled by 100.
type Bet struct {
	ID          string     `json:"betId"`
	Trader      string     `json:"trader"`
	Symbol      string     `json:"symbol"`
	BetAmount   string     `json:"betAmount"`
	TargetPrice string     `json:"targetPrice"`
	TargetTime  int64      `json:"targetTime"`
	EntryPrice  string     `json:"entryPrice"`
	EntryTime   int64      `json:"entryTime"`
	Multiplier  uint64     `json:"multiplier"`
	Status      BetStatus  `json:"status"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
	SettlePrice *string    `json:"settlePrice,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
