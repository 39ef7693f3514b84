// Package dropserr defines sentinel errors for the drop coordinator. Return
// these unwrapped — wrapping changes the gRPC code on the wire.
package dropserr

import "github.com/heroiclabs/nakama-common/runtime"

// gRPC status codes used across the coordinator.
const (
	CodeOK              = 0
	CodeInvalidArg      = 3  // codes.InvalidArgument
	CodeNotFound        = 5  // codes.NotFound
	CodeResourceExhaust = 8  // codes.ResourceExhausted (429)
	CodeAborted         = 10 // codes.Aborted (409 state conflict)
	CodeOutOfRange      = 11 // codes.OutOfRange (410 gone)
	CodeInternal        = 13 // codes.Internal
	CodeUnauthenticated = 16 // codes.Unauthenticated (401)
	CodeForbidden       = 7  // codes.PermissionDenied (403)
)

// Validation (400-equivalent).
var (
	ErrInvalidInput     = runtime.NewError("invalid request", CodeInvalidArg)
	ErrInvalidTickets   = runtime.NewError("ticket count out of range", CodeInvalidArg)
	ErrInvalidGeoRadius = runtime.NewError("geo radius out of bounds", CodeInvalidArg)
	ErrInvalidTokenFmt  = runtime.NewError("invalid purchase token format", CodeInvalidArg)
	ErrLocationRequired = runtime.NewError("location required for geo-exclusive drop", CodeInvalidArg)
	ErrUnknownConfigKey = runtime.NewError("unknown configuration key", CodeInvalidArg)
)

// Authentication / authorization.
var (
	ErrInvalidSignature = runtime.NewError("invalid purchase token signature", CodeUnauthenticated)
	ErrNotAWinner       = runtime.NewError("user is not a winner", CodeForbidden)
	ErrOutsideGeoFence  = runtime.NewError("outside geo-fence", CodeForbidden)
	ErrNoUserIdFound    = runtime.NewError("no user ID in context", CodeInvalidArg)
	ErrForbidden        = runtime.NewError("administrative access required", CodeForbidden)
)

// Not found.
var (
	ErrDropNotFound  = runtime.NewError("unknown drop", CodeNotFound)
	ErrTokenNotFound = runtime.NewError("unknown queue token", CodeNotFound)
)

// State conflict (409).
var (
	ErrWrongPhase          = runtime.NewError("wrong phase for operation", CodeAborted)
	ErrAlreadyRegistered   = runtime.NewError("user already registered", CodeAborted)
	ErrRegistrationClosed  = runtime.NewError("registration window closed", CodeAborted)
	ErrTokenAlreadyUsed    = runtime.NewError("purchase token already consumed", CodeAborted)
	ErrTokenExpired        = runtime.NewError("purchase token expired", CodeAborted)
	ErrDropAlreadyComplete = runtime.NewError("drop already completed", CodeAborted)
)

// Resource exhausted.
var (
	ErrInventoryDepleted = runtime.NewError("inventory depleted", CodeOutOfRange)
	ErrQueueCapExceeded  = runtime.NewError("cap exceeded", CodeResourceExhaust)
	ErrRateLimited       = runtime.NewError("rate limit exceeded", CodeResourceExhaust)
)

// Internal.
var (
	ErrInternal           = runtime.NewError("internal server error", CodeInternal)
	ErrMarshal            = runtime.NewError("cannot marshal type", CodeInternal)
	ErrUnmarshal          = runtime.NewError("cannot unmarshal type", CodeInternal)
	ErrMissingCommitment  = runtime.NewError("lottery commitment absent", CodeInternal)
	ErrCouldNotReadStore  = runtime.NewError("could not read storage", CodeInternal)
	ErrCouldNotWriteStore = runtime.NewError("could not write storage", CodeInternal)
	ErrConcurrentWrite    = runtime.NewError("concurrent write conflict, retry", CodeInternal)
)
