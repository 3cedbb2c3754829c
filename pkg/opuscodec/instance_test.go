// ABOUTME: Tests for the codec instance state machine
// ABOUTME: Covers the open/close lifecycle and encode/decode/recover behavior
package opuscodec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/audiobridge/opuscodec/pkg/codec"
)

// invalidOpusPacket is a code-3 packet declaring 63 frames, more than
// the 120 ms limit, which libopus rejects as an invalid packet.
var invalidOpusPacket = []byte{0xff, 0xff, 0xff}

func openTestInstance(t *testing.T, f *Factory) *Instance {
	t.Helper()

	inst, err := f.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	params := DefaultParams(audioDesc(16000))
	if err := inst.Open(params); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return inst
}

// silentFrame returns one frame of 16-bit silence for the default
// parameter set: 10 ms at 16 kHz mono.
func silentFrame(ts uint64) codec.Frame {
	return codec.Frame{
		Type:      codec.FrameTypeAudio,
		Data:      make([]byte, 160*2),
		Timestamp: ts,
	}
}

func TestOpenSetsBothReadyFlags(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	if !inst.encReady || !inst.decReady {
		t.Error("expected both ready flags true after open")
	}

	if err := inst.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if inst.encReady || inst.decReady {
		t.Error("expected both ready flags false after close")
	}
}

func TestOpenTwiceFails(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	err := inst.Open(DefaultParams(audioDesc(16000)))
	if !errors.Is(err, codec.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp on double open, got %v", err)
	}
}

func TestReopenAfterClose(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	inst.Close()
	if err := inst.Open(DefaultParams(audioDesc(48000))); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !inst.encReady || !inst.decReady {
		t.Error("expected both ready flags true after reopen")
	}
}

func TestOpenEncoderFailure(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst, err := f.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}

	// Three channels is rejected by the engine at encoder init, so the
	// decoder step must never run.
	params := DefaultParams(audioDesc(16000))
	params.Channels = 3
	err = inst.Open(params)
	if !errors.Is(err, codec.ErrInvalidArg) {
		t.Errorf("expected ErrInvalidArg, got %v", err)
	}
	if inst.encReady {
		t.Error("expected encoder not ready after failed open")
	}
	if inst.decReady {
		t.Error("expected decoder never attempted after encoder failure")
	}

	// The instance stays allocated and can be opened with good
	// parameters.
	if err := inst.Open(DefaultParams(audioDesc(16000))); err != nil {
		t.Fatalf("open after failed open: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	for i := 0; i < 3; i++ {
		if err := inst.Close(); err != nil {
			t.Fatalf("close %d failed: %v", i, err)
		}
	}
}

func TestOperationsRequireOpen(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst, err := f.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}

	out := make([]byte, 4000)
	if _, err := inst.Encode(silentFrame(0), out); !errors.Is(err, codec.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp from encode, got %v", err)
	}
	if _, err := inst.Decode(codec.Frame{Data: invalidOpusPacket}, out); !errors.Is(err, codec.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp from decode, got %v", err)
	}
	if _, err := inst.Recover(out); !errors.Is(err, codec.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp from recover, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	const ts = 48517
	packet := make([]byte, 4000)
	enc, err := inst.Encode(silentFrame(ts), packet)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if enc.Type != codec.FrameTypeAudio {
		t.Errorf("expected audio frame, got %v", enc.Type)
	}
	if len(enc.Data) == 0 {
		t.Error("expected non-empty encoded payload")
	}
	if enc.Timestamp != ts {
		t.Errorf("expected timestamp %d preserved, got %d", ts, enc.Timestamp)
	}

	pcm := make([]byte, 160*2)
	dec, err := inst.Decode(enc, pcm)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if dec.Type != codec.FrameTypeAudio {
		t.Fatalf("expected audio frame, got %v", dec.Type)
	}
	if len(dec.Data) != 160*2 {
		t.Errorf("expected full 10 ms frame of %d bytes, got %d", 160*2, len(dec.Data))
	}
	if dec.Timestamp != ts {
		t.Errorf("expected timestamp %d preserved, got %d", ts, dec.Timestamp)
	}
}

func TestDecodeBadBitstreamIsSilentDrop(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	pcm := make([]byte, 4000)
	out, err := inst.Decode(codec.Frame{
		Type: codec.FrameTypeAudio,
		Data: invalidOpusPacket,
	}, pcm)
	if err != nil {
		t.Fatalf("expected bad bitstream to be absorbed, got %v", err)
	}
	if out.Type != codec.FrameTypeNone {
		t.Errorf("expected none-frame, got %v", out.Type)
	}
	if len(out.Data) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(out.Data))
	}
}

func TestDecodeLongPacketIntoShortBuffer(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	// A 60 ms frame: 960 samples at 16 kHz mono.
	long := codec.Frame{
		Type:      codec.FrameTypeAudio,
		Data:      make([]byte, 960*2),
		Timestamp: 7,
	}
	packet := make([]byte, 4000)
	enc, err := inst.Encode(long, packet)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// The output budget holds only 10 ms. The engine must not write
	// past it; the oversized packet is absorbed as a silent drop.
	short := make([]byte, 160*2)
	out, err := inst.Decode(enc, short)
	if err != nil {
		t.Fatalf("expected oversized packet to be absorbed, got %v", err)
	}
	if out.Type != codec.FrameTypeNone {
		t.Errorf("expected none-frame, got %v", out.Type)
	}

	// A matching budget decodes the same packet fine.
	full := make([]byte, 960*2)
	out, err = inst.Decode(enc, full)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Type != codec.FrameTypeAudio || len(out.Data) != 960*2 {
		t.Errorf("expected full 60 ms frame, got type %v with %d bytes", out.Type, len(out.Data))
	}
}

func TestRecoverAfterLoss(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	// Prime the decoder with one good frame so concealment has
	// history to extrapolate from.
	packet := make([]byte, 4000)
	enc, err := inst.Encode(silentFrame(0), packet)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	pcm := make([]byte, 160*2)
	if _, err := inst.Decode(enc, pcm); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	out, err := inst.Recover(pcm)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if out.Type != codec.FrameTypeAudio {
		t.Fatalf("expected concealment audio frame, got %v", out.Type)
	}
	// The concealment span matches the last decoded packet: 10 ms.
	if len(out.Data) != 160*2 {
		t.Errorf("expected %d bytes of concealment, got %d", 160*2, len(out.Data))
	}
}

func TestRecoverBeforeAnyDecode(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	// With no decode history there is nothing to conceal: an empty
	// result, not an error.
	out, err := inst.Recover(make([]byte, 4000))
	if err != nil {
		t.Fatalf("expected no error from recover on a fresh decoder, got %v", err)
	}
	if out.Type != codec.FrameTypeNone {
		t.Errorf("expected none-frame, got %v", out.Type)
	}
	if len(out.Data) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(out.Data))
	}
}

func TestRecoverHonorsOutputBudget(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	packet := make([]byte, 4000)
	enc, err := inst.Encode(silentFrame(0), packet)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := inst.Decode(enc, make([]byte, 160*2)); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// A budget smaller than the missing duration shortens the
	// concealment instead of overrunning the buffer.
	short := make([]byte, 80*2)
	out, err := inst.Recover(short)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if out.Type != codec.FrameTypeAudio {
		t.Fatalf("expected audio frame, got %v", out.Type)
	}
	if len(out.Data) > len(short) {
		t.Errorf("concealment of %d bytes overruns the %d byte budget", len(out.Data), len(short))
	}
}

func TestParseSingleFrame(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst, err := f.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}

	pkt := []byte{0x01, 0x02, 0x03, 0x04}
	frames, err := inst.Parse(pkt, 9000)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if frames[0].Type != codec.FrameTypeAudio {
		t.Errorf("expected audio frame, got %v", frames[0].Type)
	}
	if !bytes.Equal(frames[0].Data, pkt) {
		t.Error("expected frame to span the whole packet")
	}
	if frames[0].Timestamp != 9000 {
		t.Errorf("expected timestamp passed through, got %d", frames[0].Timestamp)
	}

	if _, err := inst.Parse(nil, 0); !errors.Is(err, codec.ErrInvalidArg) {
		t.Errorf("expected ErrInvalidArg for nil packet, got %v", err)
	}
}

func TestModifyIsNoOp(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	params := DefaultParams(audioDesc(48000))
	if err := inst.Modify(params); err != nil {
		t.Errorf("modify failed: %v", err)
	}
	if !inst.encReady || !inst.decReady {
		t.Error("expected instance to stay open across modify")
	}
}

func TestDeallocForcesClose(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst := openTestInstance(t, f)

	if err := f.Dealloc(inst); err != nil {
		t.Fatalf("dealloc failed: %v", err)
	}
	if inst.encReady || inst.decReady {
		t.Error("expected dealloc to force-close the open instance")
	}
}

func TestOpenWithEncoderFmtp(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	inst, err := f.Alloc()
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}

	params := DefaultParams(audioDesc(16000))
	params.EncFmtp = codec.FmtpList{
		{Name: "useinbandfec", Value: "1"},
		{Name: "maxaveragebitrate", Value: "24000"},
		{Name: "maxcodedaudiobandwidth", Value: "16000"},
		{Name: "usedtx", Value: "1"},
	}
	if err := inst.Open(params); err != nil {
		t.Fatalf("open with fmtp failed: %v", err)
	}

	// The negotiated settings must not break the steady state.
	packet := make([]byte, 4000)
	enc, err := inst.Encode(silentFrame(10), packet)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if enc.Type != codec.FrameTypeAudio {
		t.Errorf("expected audio frame, got %v", enc.Type)
	}
}
