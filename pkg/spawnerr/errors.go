// Package spawnerr defines the six error kinds a launcher can fail with:
// Config, Spawn, Transport, Protocol, Resource and IO. Every kind wraps an
// underlying error so callers can still errors.Is/errors.As through to it.
package spawnerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the six taxonomy buckets an error belongs to.
type Kind uint8

const (
	KindConfig Kind = iota
	KindSpawn
	KindTransport
	KindProtocol
	KindResource
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindSpawn:
		return "spawn"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the concrete type returned by the helpers below. Config errors
// at root are fatal before any child is forked; every other kind is
// whole-job fatal.
type Error struct {
	Kind Kind
	Op   string // short description of what was being attempted
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Config wraps err as a Config-kind error (bad or missing parameter).
func Config(op string, err error) *Error { return newErr(KindConfig, op, err) }

// Spawn wraps err as a Spawn-kind error (fork/exec failed).
func Spawn(op string, err error) *Error { return newErr(KindSpawn, op, err) }

// Transport wraps err as a Transport-kind error (channel I/O failed, peer
// closed mid-protocol).
func Transport(op string, err error) *Error { return newErr(KindTransport, op, err) }

// Protocol wraps err as a Protocol-kind error (peer sent an unexpected
// token for the current state).
func Protocol(op string, err error) *Error { return newErr(KindProtocol, op, err) }

// Resource wraps err as a Resource-kind error (allocation failed).
func Resource(op string, err error) *Error { return newErr(KindResource, op, err) }

// IO wraps err as an IO-kind error (file open/read/write, e.g. for
// file-broadcast).
func IO(op string, err error) *Error { return newErr(KindIO, op, err) }

// Configf, Spawnf, ... are sprintf-style convenience constructors.
func Configf(format string, args ...any) *Error {
	return Config("", fmt.Errorf(format, args...))
}

func Spawnf(format string, args ...any) *Error {
	return Spawn("", fmt.Errorf(format, args...))
}

func Transportf(format string, args ...any) *Error {
	return Transport("", fmt.Errorf(format, args...))
}

func Protocolf(format string, args ...any) *Error {
	return Protocol("", fmt.Errorf(format, args...))
}

func Resourcef(format string, args ...any) *Error {
	return Resource("", fmt.Errorf(format, args...))
}

func IOf(format string, args ...any) *Error {
	return IO("", fmt.Errorf(format, args...))
}

// Is reports whether err (or any error it wraps) is a spawnerr of kind k.
func Is(err error, k Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

// Sentinel protocol-violation errors. ErrChildSlotUnknown is wrapped by
// the tree unfurl (pkg/session) when a connect-back ID matches no forked
// child. ErrUnexpectedToken is not wrapped by any caller in this module;
// the bootstrap state machines (pkg/bootstrap) report unexpected tokens
// through Protocolf messages instead.
var (
	ErrUnexpectedToken  = errors.New("spawnerr: peer sent an unexpected protocol token")
	ErrChildSlotUnknown = errors.New("spawnerr: connect-back ID does not match any pending child slot")
)
