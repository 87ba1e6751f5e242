package models

import "time"

// PricePoint is one journaled price observation.
type PricePoint struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// PriceData is the per-symbol payload of the backend price stream.
type PriceData struct {
	Symbol     string  `json:"symbol,omitempty"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Source     string  `json:"source,omitempty"`
}

// SignedPrice is a backend price attestation verifiable on-chain.
type SignedPrice struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}
