package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an acknowledged send is issued while the session is down.
	ErrNotConnected = errors.New("not connected")

	// ErrAckTimeout is returned when no ack or error frame arrives before the ack deadline.
	ErrAckTimeout = errors.New("ack timeout")

	// ErrConnectionClosed is returned to pending acks when the connection closes under them.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrAlreadyOpen is returned when a transport is asked to open twice.
	ErrAlreadyOpen = errors.New("transport already open")

	// ErrDuplicatePending is returned when an ack is already pending for a message id.
	ErrDuplicatePending = errors.New("ack already pending for message id")

	// ErrUnauthorized is returned when the server rejects the credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrSendBufferFull is returned when the transport write buffer cannot take another frame.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrCredentialRequired is returned when Connect is called without a credential.
	ErrCredentialRequired = errors.New("credential is required")
)

// ServerError is a rejection reported by the server for a specific message.
type ServerError struct {
	RefID   string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected %s: %s", e.RefID, e.Message)
}

// IsServerError reports whether err carries a server rejection.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
