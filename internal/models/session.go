package models

import "time"

// SessionKey is an ephemeral signing key authorized once by the trader.
// ExpiresAt and CreatedAt are epoch milliseconds.
type SessionKey struct {
	PrivateKey    string `json:"privateKey,omitempty"`
	Address       string `json:"address"`
	ExpiresAt     int64  `json:"expiresAt"`
	AuthorizedBy  string `json:"authorizedBy"`
	AuthSignature string `json:"authSignature"`
	CreatedAt     int64  `json:"createdAt"`
}

func (k *SessionKey) ExpiresTime() time.Time {
	return time.UnixMilli(k.ExpiresAt)
}

// Public returns a copy with the private key stripped.
func (k *SessionKey) Public() SessionKey {
	c := *k
	c.PrivateKey = ""
	return c
}

// SessionAuthorization accompanies session-signed payloads so the backend
// can verify the delegation.
type SessionAuthorization struct {
	SessionKey    string `json:"sessionKey"`
	AuthorizedBy  string `json:"authorizedBy"`
	AuthSignature string `json:"authSignature"`
	ExpiresAt     int64  `json:"expiresAt"`
}
