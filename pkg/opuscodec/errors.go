// ABOUTME: Maps libopus engine errors onto the pipeline error taxonomy
// ABOUTME: Every engine call site reports failures through MapEngineError
package opuscodec

import (
	"errors"
	"fmt"

	"github.com/audiobridge/opuscodec/pkg/codec"
	opus "gopkg.in/hraban/opus.v2"
)

// MapEngineError translates an error returned by the opus engine into the
// host taxonomy. The result wraps both the taxonomy sentinel and the
// original error, so callers can match either. Unrecognized errors map to
// codec.ErrFailed; nothing is silently dropped.
func MapEngineError(err error) error {
	if err == nil {
		return nil
	}

	var kind error
	var oe opus.Error
	if errors.As(err, &oe) {
		switch oe {
		case opus.ErrBadArg:
			kind = codec.ErrInvalidArg
		case opus.ErrBufferTooSmall:
			kind = codec.ErrShortBuffer
		case opus.ErrInternalError:
			kind = codec.ErrEngineFailure
		case opus.ErrInvalidPacket:
			kind = codec.ErrBadBitstream
		case opus.ErrUnimplemented:
			kind = codec.ErrNotSupported
		case opus.ErrInvalidState:
			kind = codec.ErrInvalidOp
		case opus.ErrAllocFail:
			kind = codec.ErrEngineFailure
		}
	}
	if kind == nil {
		kind = codec.ErrFailed
	}

	return fmt.Errorf("%w: %w", kind, err)
}
