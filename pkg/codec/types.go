// ABOUTME: Stream descriptor and negotiated parameter set definitions
// ABOUTME: Shared between the host pipeline, negotiation layer and codecs
package codec

import "strings"

// MediaKind identifies the media type of a stream.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaAudio
	MediaVideo
)

// StreamDescriptor identifies one candidate stream type during
// negotiation. Supplied by the host per attempt; treat as immutable.
type StreamDescriptor struct {
	Kind        MediaKind
	Name        string // codec tag, e.g. "opus"; matched case-insensitively
	ClockRate   int    // Hz
	Channels    int
	PayloadType uint8
}

// FmtpParam is one named text parameter (fmtp-style) exchanged during
// negotiation.
type FmtpParam struct {
	Name  string
	Value string
}

// FmtpList is an ordered parameter list. Insertion order is significant:
// when a name appears more than once, the first occurrence wins.
type FmtpList []FmtpParam

// Get returns the value of the first parameter whose name matches
// case-insensitively.
func (l FmtpList) Get(name string) (string, bool) {
	for _, p := range l {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// ParameterSet is the negotiated configuration for one stream. Produced
// by the codec's default-parameter step, possibly adjusted by the
// negotiation layer, and consumed by Open. Immutable once handed to Open.
type ParameterSet struct {
	Channels        int
	ClockRate       int // Hz
	AvgBitrate      int // bps
	MaxBitrate      int // bps
	FrameMs         int // frame duration, milliseconds
	BitsPerSample   int
	PayloadType     uint8
	FramesPerPacket int
	VAD             bool // voice activity detection / DTX wanted
	PLC             bool // packet loss concealment wanted

	// EncFmtp carries the far end's parameters applied to our encoder.
	// DecFmtp is advisory metadata surfaced to the negotiation layer
	// describing our decoder; the codec does not consume it.
	EncFmtp FmtpList
	DecFmtp FmtpList
}
