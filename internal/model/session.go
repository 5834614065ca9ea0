package model

import (
	"time"
)

// ConnectionStatus represents the lifecycle state of a chat session connection.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusOffline      ConnectionStatus = "offline"
)

// Close codes with special handling.
const (
	CloseNormal         = 1000
	CloseAbnormal       = 1006
	CloseConnectTimeout = 4000
	CloseUnauthorized   = 4001
	ClosePongTimeout    = 4002
	CloseForbidden      = 4003
)

// IsTerminalClose reports whether code is an authentication rejection that must not be retried.
func IsTerminalClose(code int) bool {
	return code == CloseUnauthorized || code == CloseForbidden
}

// PresenceStatus is a remote user's availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

// Valid reports whether s is one of the known presence values.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceAway:
		return true
	}
	return false
}

// PresenceRecord is the last known presence of one user.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen,omitempty"`
}

// ConnectionEvent is one row of the connection journal.
type ConnectionEvent struct {
	ID         int64            `json:"id"`
	SessionID  string           `json:"sessionId"`
	Status     ConnectionStatus `json:"status"`
	RetryCount int              `json:"retryCount"`
	CloseCode  *int             `json:"closeCode,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}
