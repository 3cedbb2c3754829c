// ABOUTME: Frame types exchanged across the codec boundary
// ABOUTME: Defines the audio/none frame unit with payload and timestamp
package codec

// FrameType discriminates a produced frame.
type FrameType int

const (
	// FrameTypeNone marks an empty result: nothing was produced
	// (silent drop on a bad packet, or a DTX gap during recovery).
	FrameTypeNone FrameType = iota

	// FrameTypeAudio marks a frame carrying audio payload.
	FrameTypeAudio
)

// Frame is one unit of media crossing the codec boundary.
//
// Payload buffers are caller-owned: frames returned by Encode, Decode and
// Recover alias the output buffer the caller passed in. The codec never
// retains a reference past the call.
type Frame struct {
	Type      FrameType
	Data      []byte
	Timestamp uint64
}

// None returns an empty frame. Used for silent drops and DTX gaps.
func None() Frame {
	return Frame{Type: FrameTypeNone}
}
