// Package common holds cross-cutting types shared by the compute, mining
// and wasmrun packages: the closed error-kind taxonomy, the LRU cache
// abstraction adapted from the teacher's common/cache.go, and Blake3-based
// hashing/id helpers.
package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed taxonomy of error categories, mirrored 1:1 onto CLI exit
// codes (cmd/compute) and JSON-RPC error codes (mining/rpc.go).
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindCapacityExceeded
	KindNoPeersAvailable
	KindVerificationFailed
	KindTimeout
	KindInsufficientBalance
	KindInvalidSignature
	KindNetwork
	KindRpcError
	KindInvalidResponse
	KindSerializationError
	KindNotConnected
	KindTeleportFailed
	KindExecutionTimeout
	KindOutOfFuel
	KindOutOfMemory
	KindUnsupportedChain
	KindInvalidSchema
	KindInvalidData
	KindStorageError
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindNoPeersAvailable:
		return "NoPeersAvailable"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindTimeout:
		return "Timeout"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindNetwork:
		return "Network"
	case KindRpcError:
		return "RpcError"
	case KindInvalidResponse:
		return "InvalidResponse"
	case KindSerializationError:
		return "SerializationError"
	case KindNotConnected:
		return "NotConnected"
	case KindTeleportFailed:
		return "TeleportFailed"
	case KindExecutionTimeout:
		return "ExecutionTimeout"
	case KindOutOfFuel:
		return "OutOfFuel"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindUnsupportedChain:
		return "UnsupportedChain"
	case KindInvalidSchema:
		return "InvalidSchema"
	case KindInvalidData:
		return "InvalidData"
	case KindStorageError:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a message, optional structured fields and an
// optional cause, in the pkg/errors Wrap/Cause style the teacher uses in
// node/service.go for propagating startup failures.
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]interface{}
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: KindNotFound}) match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs a bare Error of the given kind.
func New(kind Kind, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// Wrap attaches kind/msg context to an existing error without discarding
// it, using pkg/errors underneath so %+v still prints a stack trace.
func Wrap(cause error, kind Kind, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), Cause: errors.WithStack(cause)}
}

// WithFields attaches structured context (e.g. current/max for
// CapacityExceeded, have/need for InsufficientBalance) used by RPC and CLI
// layers to render the original field values.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	e.Fields = fields
	return e
}

// CapacityExceeded builds the {current,max} taxonomy member from spec §7.
func CapacityExceeded(current, max int) *Error {
	return New(KindCapacityExceeded, "capacity exceeded").WithFields(map[string]interface{}{
		"current": current, "max": max,
	})
}

// InsufficientBalance builds the {have,need} taxonomy member from spec §7.
func InsufficientBalance(have, need uint64) *Error {
	return New(KindInsufficientBalance, "insufficient balance").WithFields(map[string]interface{}{
		"have": have, "need": need,
	})
}

// VerificationFailed builds the {reason} taxonomy member.
func VerificationFailed(reason string) *Error {
	return New(KindVerificationFailed, reason)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps a Kind onto the CLI exit codes from spec §6.
func (k Kind) ExitCode() int {
	switch k {
	case KindUnknown:
		return 0
	case KindNotFound, KindNoPeersAvailable:
		return 3
	case KindInsufficientBalance:
		return 4
	case KindTimeout, KindExecutionTimeout:
		return 5
	case KindNetwork, KindRpcError, KindNotConnected:
		return 6
	default:
		return 2
	}
}

// RPCCode maps a Kind onto a JSON-RPC 2.0 error code in the -32000 range,
// consumed by mining/rpc.go.
func (k Kind) RPCCode() int {
	return -32000 - int(k)
}
