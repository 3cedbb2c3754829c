// ABOUTME: Error taxonomy for codec operations
// ABOUTME: Sentinel errors matched with errors.Is across the pipeline
package codec

import "errors"

// Error taxonomy shared by all codecs in the pipeline. Engine-specific
// failures are wrapped so callers can match the kind with errors.Is and
// still recover the underlying detail.
var (
	// ErrInvalidArg reports bad caller input or an unrecoverable
	// engine initialization failure.
	ErrInvalidArg = errors.New("codec: invalid argument")

	// ErrNoMemory reports instance slot or working-memory exhaustion.
	ErrNoMemory = errors.New("codec: out of memory")

	// ErrShortBuffer reports a caller-provided output buffer that is
	// too small for the result.
	ErrShortBuffer = errors.New("codec: output buffer too short")

	// ErrBadBitstream reports corrupt compressed input.
	ErrBadBitstream = errors.New("codec: bad bitstream")

	// ErrNotSupported reports an unsupported capability or request.
	ErrNotSupported = errors.New("codec: not supported")

	// ErrInvalidOp reports an operation attempted in the wrong state,
	// such as opening an already-open instance.
	ErrInvalidOp = errors.New("codec: invalid operation")

	// ErrEngineFailure reports an opaque internal engine fault.
	ErrEngineFailure = errors.New("codec: engine failure")

	// ErrFailed is the catch-all for unrecognized engine errors.
	ErrFailed = errors.New("codec: operation failed")
)
