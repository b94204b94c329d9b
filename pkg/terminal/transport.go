package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Endpoint identifies the remote console and the credentials used to log in.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Transport is the raw byte channel a Session talks through.
//
// Open establishes the connection and starts a remote shell; ctx bounds the
// connection attempt only. Poll waits at most d for incoming bytes and returns
// whatever arrived (possibly nothing); it fails with ErrTransportClosed once
// the peer has closed the channel or it broke.
type Transport interface {
	Open(ctx context.Context, ep Endpoint) error
	Write(p []byte) error
	Poll(d time.Duration) ([]byte, error)
	Closed() bool
	Close() error
}

var (
	// ErrTransportClosed is returned by Poll and Write on a closed or broken transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrConnectFailure matches every connection failure, including the refinements below.
	ErrConnectFailure = errors.New("connect failure")
	// ErrAuthenticationFailure is a connect failure caused by rejected credentials.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrConnectionTimeout is a connect failure caused by a timeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrMissingOption is returned when a required construction parameter is absent.
	ErrMissingOption = errors.New("missing required option")
)

// ConnectKind distinguishes the three disjoint connection failure conditions.
type ConnectKind int

const (
	ConnectGeneric ConnectKind = iota
	ConnectAuth
	ConnectTimeout
)

func (k ConnectKind) String() string {
	switch k {
	case ConnectAuth:
		return "authentication failure"
	case ConnectTimeout:
		return "connection timeout"
	default:
		return "connect failure"
	}
}

// ConnectError reports why a transport could not be opened.
type ConnectError struct {
	Kind ConnectKind
	Host string
	Err  error
}

// NewConnectError wraps err as a connection failure of the given kind.
func NewConnectError(kind ConnectKind, host string, err error) *ConnectError {
	return &ConnectError{Kind: kind, Host: host, Err: err}
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Host)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes every ConnectError match ErrConnectFailure, and the refined
// sentinel for its kind.
func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrConnectFailure:
		return true
	case ErrAuthenticationFailure:
		return e.Kind == ConnectAuth
	case ErrConnectionTimeout:
		return e.Kind == ConnectTimeout
	}
	return false
}
