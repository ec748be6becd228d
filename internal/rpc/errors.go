package rpc

import (
	"errors"
	"fmt"
)

// ErrEndpointUnset is wrapped by a ConnectivityError when a call is made
// before the daemon address has been set.
var ErrEndpointUnset = errors.New("rpc endpoint not set")

// ConnectivityError reports that the daemon could not be reached: the
// endpoint was unset, the dial failed, or the connection broke mid-call.
type ConnectivityError struct {
	Method string
	Addr   string
	Err    error
}

func (e *ConnectivityError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s: connect %s: %v", e.Method, e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ProtocolError reports that the daemon answered with a JSON-RPC error
// object, or with a result that could not be decoded.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: decode result: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s: aria2 error %d: %s", e.Method, e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is, or wraps, a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsProtocol reports whether err is, or wraps, a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
