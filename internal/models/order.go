package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderExecuting OrderStatus = "EXECUTING"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderFailed    OrderStatus = "FAILED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderExecuting, OrderCancelled, OrderExpired},
	OrderExecuting: {OrderExecuted, OrderFailed},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderExecuting, OrderExecuted, OrderCancelled, OrderExpired, OrderFailed:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderExecuted, OrderCancelled, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// CanTransition reports whether the backend may move an order from one
// status to another. Staying in the same status is always allowed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can follow from through zero or more
// transitions. Polling may skip intermediate states.
func Reachable(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if Reachable(next, to) {
			return true
		}
	}
	return false
}

// TapToTradeOrder mirrors the backend record. Collateral has 6 implied
// decimals and TriggerPrice 8.
type TapToTradeOrder struct {
	ID             string      `json:"id"`
	GridSessionID  string      `json:"gridSessionId"`
	CellID         string      `json:"cellId"`
	Trader         string      `json:"trader"`
	Symbol         string      `json:"symbol"`
	IsLong         bool        `json:"isLong"`
	Collateral     string      `json:"collateral"`
	Leverage       int64       `json:"leverage"`
	TriggerPrice   string      `json:"triggerPrice"`
	StartTime      int64       `json:"startTime"`
	EndTime        int64       `json:"endTime"`
	Nonce          string      `json:"nonce"`
	Signature      string      `json:"signature"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	ExecutedAt     *time.Time  `json:"executedAt,omitempty"`
	ExecutedTxHash *string     `json:"executedTxHash,omitempty"`
	FailureReason  *string     `json:"failureReason,omitempty"`
}
