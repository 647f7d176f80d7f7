package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a frame that could not be turned into a depth snapshot.
	// It is recoverable: the frame is dropped and reading continues.
	ErrDecode = errors.New("decode failed")

	// ErrConnection marks a dial, handshake or transport failure. It ends the
	// current session of one connector only.
	ErrConnection = errors.New("connection failed")

	// ErrReconnectRequested is returned by a venue decoder when the venue
	// asks the client to reconnect. The connector ends the session.
	ErrReconnectRequested = errors.New("venue requested reconnect")
)

type DecodeError struct {
	Exchange string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode: %v", e.Exchange, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// ConnectionError records which step of a session failed.
type ConnectionError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

func decodeErr(exchange string, format string, args ...any) error {
	return &DecodeError{Exchange: exchange, Err: fmt.Errorf(format, args...)}
}
