package qerr

import (
	"fmt"
	"net"
)

// TransportError is returned by, or reported against, a connection ID: a
// QUIC error code paired with a short human-readable reason. The dispatcher
// never returns these to its own caller (ProcessPacket is infallible); it
// only ever builds them to hand to the stateless terminator or to a
// session's close path.
type TransportError struct {
	ErrorCode    ErrorCode
	ErrorMessage string
}

func (e *TransportError) Error() string {
	if e.ErrorMessage == "" {
		return e.ErrorCode.Error()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode.Error(), e.ErrorMessage)
}

func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	if ok {
		return true
	}
	return target == net.ErrClosed
}

// NewTransportError builds a TransportError for the given code and reason.
func NewTransportError(code ErrorCode, reason string) *TransportError {
	return &TransportError{ErrorCode: code, ErrorMessage: reason}
}
