package keyvaluestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	ErrClosed               = errors.New("closed")
	ErrNotFound             = errors.New("not found")
	ErrKeyExists            = errors.New("key exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrSendQueueFull        = errors.New("send queue full")
	ErrPoolUnavailable      = errors.New("connection pool unavailable")
	ErrNoNodesAvailable     = errors.New("no nodes available")
	ErrServiceNotSupported  = errors.New("service not supported")
	ErrWrongOwner           = errors.New("partition belongs to another node")
	ErrNoOwner              = errors.New("partition has no owner")
	ErrRevisionMismatch     = errors.New("configuration revision mismatch")
	ErrServerBusy           = errors.New("temporary failure")
	ErrNetwork              = errors.New("network error")
	ErrStaleRevision        = errors.New("stale topology revision")
	ErrInvalidTopology      = errors.New("invalid topology")
	ErrDurabilityPending    = errors.New("durability not yet satisfied")
	ErrDurabilityImpossible = errors.New("durability requirement exceeds configured replicas")
	ErrDurabilityAmbiguous  = errors.New("durability requirement not satisfied before timeout")
	ErrAmbiguousTimeout     = errors.New("operation timed out, mutation may have been applied")
	ErrUnambiguousTimeout   = errors.New("operation timed out before it was sent")
	ErrCanceled             = errors.New("operation canceled")
)

// ErrorKind is the failure taxonomy the executor switches on.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindRetryable
	ErrorKindDurabilityPending
	ErrorKindCallerError
	ErrorKindFatal
	ErrorKindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindRetryable:
		return "retryable"
	case ErrorKindDurabilityPending:
		return "durability-pending"
	case ErrorKindCallerError:
		return "caller-error"
	case ErrorKindFatal:
		return "fatal"
	case ErrorKindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

type RetryReason int

const (
	RetryReasonNone RetryReason = iota
	RetryReasonNetworkError
	RetryReasonWrongOwner
	RetryReasonNoOwner
	RetryReasonRevisionMismatch
	RetryReasonServerBusy
	RetryReasonSendQueueFull
	RetryReasonNodeUnavailable
)

func (r RetryReason) String() string {
	switch r {
	case RetryReasonNone:
		return "none"
	case RetryReasonNetworkError:
		return "network-error"
	case RetryReasonWrongOwner:
		return "wrong-owner"
	case RetryReasonNoOwner:
		return "no-owner"
	case RetryReasonRevisionMismatch:
		return "revision-mismatch"
	case RetryReasonServerBusy:
		return "server-busy"
	case RetryReasonSendQueueFull:
		return "send-queue-full"
	case RetryReasonNodeUnavailable:
		return "node-unavailable"
	default:
		return fmt.Sprintf("RetryReason(%d)", int(r))
	}
}

// Classify maps an error to its kind and, for retryable failures, the
// reason a retry is warranted.
func Classify(err error) (ErrorKind, RetryReason) {
	if err == nil {
		return ErrorKindNone, RetryReasonNone
	}

	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind != ErrorKindNone {
		return opErr.Kind, opErr.Reason
	}

	switch {
	case errors.Is(err, ErrWrongOwner):
		return ErrorKindRetryable, RetryReasonWrongOwner
	case errors.Is(err, ErrNoOwner):
		return ErrorKindRetryable, RetryReasonNoOwner
	case errors.Is(err, ErrRevisionMismatch):
		return ErrorKindRetryable, RetryReasonRevisionMismatch
	case errors.Is(err, ErrServerBusy):
		return ErrorKindRetryable, RetryReasonServerBusy
	case errors.Is(err, ErrSendQueueFull):
		return ErrorKindRetryable, RetryReasonSendQueueFull
	case errors.Is(err, ErrNetwork):
		return ErrorKindRetryable, RetryReasonNetworkError

	case errors.Is(err, ErrDurabilityPending):
		return ErrorKindDurabilityPending, RetryReasonNone

	case errors.Is(err, ErrPoolUnavailable),
		errors.Is(err, ErrNoNodesAvailable):
		return ErrorKindFatal, RetryReasonNodeUnavailable
	case errors.Is(err, ErrClosed),
		errors.Is(err, ErrStaleRevision),
		errors.Is(err, ErrInvalidTopology):
		return ErrorKindFatal, RetryReasonNone

	case errors.Is(err, ErrServiceNotSupported),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrKeyExists),
		errors.Is(err, ErrDurabilityImpossible):
		return ErrorKindCallerError, RetryReasonNone

	case errors.Is(err, ErrAmbiguousTimeout),
		errors.Is(err, ErrUnambiguousTimeout),
		errors.Is(err, ErrDurabilityAmbiguous),
		errors.Is(err, ErrCanceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorKindTimeout, RetryReasonNone
	}

	if isNetworkError(err) {
		return ErrorKindRetryable, RetryReasonNetworkError
	}

	return ErrorKindFatal, RetryReasonNone
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// NetworkError marks err as a transport level failure of a single operation.
func NetworkError(err error) error {
	if err == nil {
		return nil
	}

	return &networkError{cause: err}
}

type networkError struct {
	cause error
}

func (e *networkError) Error() string {
	return fmt.Sprintf("%v: %v", ErrNetwork, e.cause)
}

func (e *networkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *networkError) Unwrap() error {
	return e.cause
}

func (e *networkError) Cause() error {
	return e.cause
}

// OperationError is returned by the executor once an operation has failed
// for good. Err is the last concrete failure observed.
type OperationError struct {
	Kind     ErrorKind
	Reason   RetryReason
	Code     OpCode
	Key      string
	Node     string
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	node := e.Node
	if node == "" {
		node = "<unresolved>"
	}

	return fmt.Sprintf("%v %q failed on %s after %d attempt(s): %v",
		e.Code, e.Key, node, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Cause() error {
	return e.Err
}

// CanRetry reports whether the failure was transient.
func (e *OperationError) CanRetry() bool {
	return e.Kind == ErrorKindRetryable
}
