package execution

import (
	"fmt"

	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

var (
	// ErrUnknownTarget is returned when the target of an invocation does not
	// exist.
	ErrUnknownTarget = xerrors.New("unknown target")
	// ErrUnknownFunction is returned when the function or the method does not
	// exist on the target.
	ErrUnknownFunction = xerrors.New("unknown function")
	// ErrArgumentMismatch is returned when the arguments do not match the
	// schema.
	ErrArgumentMismatch = xerrors.New("argument mismatch")
	// ErrMaxDepth is returned when the call stack is too deep.
	ErrMaxDepth = xerrors.New("maximum call depth reached")
	// ErrResourceLeak is returned when a frame exits with buckets it did not
	// hand over.
	ErrResourceLeak = xerrors.New("resource leak")
	// ErrSandbox is returned when the bytecode engine faults.
	ErrSandbox = xerrors.New("sandbox fault")
	// ErrApplication is returned when a handler rejects the invocation.
	ErrApplication = xerrors.New("application error")
)

// ErrorKind is the category of an error in the kernel.
type ErrorKind string

// Kinds of errors.
const (
	KindResourceError      ErrorKind = "resource"
	KindLockError          ErrorKind = "lock"
	KindAuthorizationError ErrorKind = "authorization"
	KindFeeError           ErrorKind = "fee"
	KindDispatchError      ErrorKind = "dispatch"
	KindSandboxError       ErrorKind = "sandbox"
	KindDepthError         ErrorKind = "depth"
	KindStoreError         ErrorKind = "store"
	KindApplicationError   ErrorKind = "application"
)

// Fatal returns true if an error of this kind cannot be caught.
func (k ErrorKind) Fatal() bool {
	return k == KindFeeError || k == KindDepthError || k == KindStoreError
}

// Error is an error of the kernel with its category.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError returns an error of the kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal returns true if the error aborts the whole transaction whatever the
// parents do.
func (e *Error) Fatal() bool {
	return e.Kind.Fatal()
}

var sentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrMaxDepth, KindDepthError},
	{fee.ErrExhausted, KindFeeError},
	{fee.ErrLoanNotRepaid, KindFeeError},
	{ErrUnknownTarget, KindDispatchError},
	{ErrUnknownFunction, KindDispatchError},
	{ErrArgumentMismatch, KindDispatchError},
	{ErrSandbox, KindSandboxError},
	{resource.ErrInsufficientBalance, KindResourceError},
	{resource.ErrInvalidAmount, KindResourceError},
	{resource.ErrNonFungibleNotFound, KindResourceError},
	{resource.ErrResourceLocked, KindResourceError},
	{resource.ErrResourceMismatch, KindResourceError},
	{ErrResourceLeak, KindResourceError},
	{access.ErrUnauthorized, KindAuthorizationError},
	{access.ErrEmptyZone, KindAuthorizationError},
	{substate.ErrLockConflict, KindLockError},
	{substate.ErrStaleHandle, KindLockError},
	{substate.ErrNotWritable, KindLockError},
	{substate.ErrNotFound, KindStoreError},
	{substate.ErrAlreadyExists, KindStoreError},
	{substate.ErrTransientLeak, KindStoreError},
	{substate.ErrOpenFrames, KindStoreError},
}

// Classify returns the kind of the error. Errors that are not recognized are
// application errors.
func Classify(err error) ErrorKind {
	var kerr *Error
	if xerrors.As(err, &kerr) {
		return kerr.Kind
	}

	for _, s := range sentinels {
		if xerrors.Is(err, s.err) {
			return s.kind
		}
	}

	return KindApplicationError
}

// Wrap returns the error with its kind, or the error itself if it already has
// one.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	var kerr *Error
	if xerrors.As(err, &kerr) {
		return err
	}

	return NewError(Classify(err), err)
}

// IsFatal returns true if the error cannot be caught.
func IsFatal(err error) bool {
	return err != nil && Classify(err).Fatal()
}
