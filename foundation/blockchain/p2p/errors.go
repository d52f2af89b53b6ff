package p2p

import (
	"errors"
	"fmt"
)

// Set of errors returned by the peer protocol.
var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrSelfConnection = errors.New("connected to self")
	ErrDuplicateNode  = errors.New("node already connected")
	ErrBanned         = errors.New("peer is banned")
	ErrHandshake      = errors.New("handshake failed")
	ErrClosed         = errors.New("connection closed")
	ErrQueueFull      = errors.New("outbound queue full")
	ErrNoResponse     = errors.New("no response from peer")
	ErrMaxPeers       = errors.New("maximum number of peers reached")
)

// NetworkError is used to report a failure on a single peer connection. Only
// that connection is dropped.
type NetworkError struct {
	Peer string
	Op   string
	Err  error
}

// Error implements the error interface.
func (ne *NetworkError) Error() string {
	return fmt.Sprintf("p2p: %s %s: %s", ne.Op, ne.Peer, ne.Err)
}

// Unwrap provides access to the underlying error.
func (ne *NetworkError) Unwrap() error {
	return ne.Err
}

// IsNetworkError checks if an error of type NetworkError exists.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func netErr(peer string, op string, err error) error {
	return &NetworkError{Peer: peer, Op: op, Err: err}
}
