// ABOUTME: Per-stream Opus codec instance state machine
// ABOUTME: Implements open/close lifecycle and encode/decode/recover operations
package opuscodec

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/google/uuid"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/audiobridge/opuscodec/pkg/codec"
)

// encoderComplexity is fixed low for bounded CPU cost; it is not
// negotiated.
const encoderComplexity = 2

// maxScratchSamples sizes the per-instance working buffer: the longest
// legal Opus frame (120 ms at 48 kHz) at two channels.
const maxScratchSamples = 5760 * 2

// Instance is one logical codec instance bound to a single stream.
//
// An instance is single-owner: the host must serialize all calls against
// it. Encoder and decoder handles never escape the instance. Both ready
// flags are false after Alloc and after Close; both become true together
// only after a successful Open.
type Instance struct {
	id uuid.UUID

	enc      *opus.Encoder
	encReady bool

	dec      *opus.Decoder
	decReady bool

	channels int

	// scratch is the instance's private working memory for PCM
	// conversion on the encode/decode hot path. Allocated by the
	// factory at Alloc, released at Dealloc.
	scratch []int16

	// pooled marks a slot sitting on the factory free list. Guarded
	// by the factory mutex.
	pooled bool
}

// ID identifies the instance in logs and host bookkeeping.
func (i *Instance) ID() string {
	return i.id.String()
}

// Open initializes the encoder and the decoder for the negotiated
// parameter set. Calling Open on an already-open instance is a caller
// bug and returns ErrInvalidOp. On engine initialization failure the
// instance stays in its allocated state with both ready flags false;
// re-opening is permitted.
func (i *Instance) Open(p *codec.ParameterSet) error {
	if p == nil {
		return fmt.Errorf("%w: nil parameter set", codec.ErrInvalidArg)
	}
	if i.encReady || i.decReady {
		return fmt.Errorf("%w: instance %s already open", codec.ErrInvalidOp, i.id)
	}

	enc, err := opus.NewEncoder(p.ClockRate, p.Channels, opus.AppVoIP)
	if err != nil {
		log.Printf("opus: unable to init encoder at %d Hz, %d ch: %v", p.ClockRate, p.Channels, err)
		return fmt.Errorf("%w: encoder init: %w", codec.ErrInvalidArg, err)
	}
	if err := enc.SetComplexity(encoderComplexity); err != nil {
		log.Printf("opus: failed to set complexity: %v", err)
	}
	parseEncoderFmtp(p.EncFmtp).apply(enc)

	dec, err := opus.NewDecoder(p.ClockRate, p.Channels)
	if err != nil {
		log.Printf("opus: unable to init decoder at %d Hz, %d ch: %v", p.ClockRate, p.Channels, err)
		return fmt.Errorf("%w: decoder init: %w", codec.ErrInvalidArg, err)
	}

	i.enc = enc
	i.dec = dec
	i.channels = p.Channels
	i.encReady = true
	i.decReady = true

	log.Printf("opus: codec %s open: %d Hz, %d ch, %d ms frames", i.id, p.ClockRate, p.Channels, p.FrameMs)
	return nil
}

// Close shuts the instance down. Idempotent; never fails. The instance
// may be re-opened afterwards.
func (i *Instance) Close() error {
	i.encReady = false
	i.decReady = false
	i.enc = nil
	i.dec = nil
	return nil
}

// Modify accepts a changed parameter set. Mid-stream renegotiation is a
// reserved extension point; the call is a no-op.
func (i *Instance) Modify(p *codec.ParameterSet) error {
	return nil
}

// Parse splits a received packet into frames. The Opus bitstream is
// self-delimiting, so the whole packet is always a single frame carrying
// the caller's timestamp verbatim. The returned frame aliases pkt.
func (i *Instance) Parse(pkt []byte, timestamp uint64) ([]codec.Frame, error) {
	if pkt == nil {
		return nil, fmt.Errorf("%w: nil packet", codec.ErrInvalidArg)
	}
	return []codec.Frame{{
		Type:      codec.FrameTypeAudio,
		Data:      pkt,
		Timestamp: timestamp,
	}}, nil
}

// Encode compresses one PCM frame into out. The input payload is
// 16-bit little-endian samples whose duration must match a legal Opus
// frame. At most len(out) bytes are produced; the returned frame aliases
// out. Engine failures are mapped and propagated with an empty result.
func (i *Instance) Encode(in codec.Frame, out []byte) (codec.Frame, error) {
	if !i.encReady {
		return codec.None(), fmt.Errorf("%w: encoder not open", codec.ErrInvalidOp)
	}

	samples := len(in.Data) / 2
	if samples == 0 || samples > len(i.scratch) {
		return codec.None(), fmt.Errorf("%w: bad input frame of %d bytes", codec.ErrInvalidArg, len(in.Data))
	}
	pcm := i.scratch[:samples]
	for n := range pcm {
		pcm[n] = int16(binary.LittleEndian.Uint16(in.Data[n*2:]))
	}

	n, err := i.enc.Encode(pcm, out)
	if err != nil {
		log.Printf("opus: failed to encode packet: %v", err)
		return codec.None(), MapEngineError(err)
	}

	return codec.Frame{
		Type:      codec.FrameTypeAudio,
		Data:      out[:n],
		Timestamp: in.Timestamp,
	}, nil
}

// Decode decompresses one received frame into out, with the concealment
// path disabled. Decode failures on a live bitstream are expected under
// loss and corruption, so they are absorbed: the stream keeps running
// and the caller gets a none-frame with a nil error. The returned frame
// aliases out.
func (i *Instance) Decode(in codec.Frame, out []byte) (codec.Frame, error) {
	if !i.decReady {
		return codec.None(), fmt.Errorf("%w: decoder not open", codec.ErrInvalidOp)
	}

	pcm := i.decodeBuf(len(out))
	if len(pcm) == 0 {
		return codec.None(), nil
	}

	n, err := i.dec.Decode(in.Data, pcm)
	if err != nil || n == 0 {
		if err != nil {
			log.Printf("opus: failed to decode frame of %d bytes: %v", len(in.Data), err)
		}
		return codec.None(), nil
	}

	size := i.writePCM(pcm[:n*i.channels], out)
	return codec.Frame{
		Type:      codec.FrameTypeAudio,
		Data:      out[:size],
		Timestamp: in.Timestamp,
	}, nil
}

// Recover synthesizes a concealment frame for a lost packet, with no
// input bitstream. The concealment span matches the duration of the
// last decoded packet; before anything has been decoded there is
// nothing to conceal and the result is a none-frame with a nil error.
// Unlike Decode, an engine failure here is fatal: the host only invokes
// recovery on a well-formed request, so failure means the instance
// itself is wrong.
func (i *Instance) Recover(out []byte) (codec.Frame, error) {
	if !i.decReady {
		return codec.None(), fmt.Errorf("%w: decoder not open", codec.ErrInvalidOp)
	}

	missing, err := i.dec.LastPacketDuration()
	if err != nil {
		log.Printf("opus: failed to recover frame: %v", err)
		return codec.None(), fmt.Errorf("%w: recover: %w", codec.ErrInvalidArg, MapEngineError(err))
	}
	if missing == 0 {
		return codec.None(), nil
	}

	pcm := i.decodeBuf(len(out))
	if len(pcm) == 0 {
		return codec.None(), fmt.Errorf("%w: output buffer of %d bytes holds no frame", codec.ErrShortBuffer, len(out))
	}
	if want := missing * i.channels; want < len(pcm) {
		pcm = pcm[0:want:want]
	}

	if err := i.dec.DecodePLC(pcm); err != nil {
		log.Printf("opus: failed to recover frame: %v", err)
		return codec.None(), fmt.Errorf("%w: recover: %w", codec.ErrInvalidArg, MapEngineError(err))
	}

	size := i.writePCM(pcm, out)
	return codec.Frame{
		Type: codec.FrameTypeAudio,
		Data: out[:size],
	}, nil
}

// decodeBuf slices the scratch buffer to the largest whole-channel
// sample count that fits both the caller's byte budget and the scratch
// capacity. The capacity is clamped too: the engine sizes its output
// by the slice capacity, so leaving the full scratch reachable would
// let a long packet overrun the caller's budget.
func (i *Instance) decodeBuf(outBytes int) []int16 {
	samples := outBytes / 2
	if samples > len(i.scratch) {
		samples = len(i.scratch)
	}
	samples -= samples % i.channels
	return i.scratch[0:samples:samples]
}

// writePCM serializes decoded samples into the caller's buffer as
// 16-bit little-endian and returns the byte count.
func (i *Instance) writePCM(pcm []int16, out []byte) int {
	for n, s := range pcm {
		binary.LittleEndian.PutUint16(out[n*2:], uint16(s))
	}
	return len(pcm) * 2
}
