// ABOUTME: Parameter negotiation for the Opus codec
// ABOUTME: Builds default parameter sets and translates fmtp entries to encoder settings
package opuscodec

import (
	"log"
	"strconv"
	"strings"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/audiobridge/opuscodec/pkg/codec"
)

const (
	// CodecName is the codec tag advertised during negotiation.
	CodecName = "opus"

	// DefaultPayloadType is the dynamic RTP payload type advertised
	// for the enumerated codec identity.
	DefaultPayloadType = 120

	// frameLengthMs is the fixed frame duration in the default
	// parameter set.
	frameLengthMs = 10

	// Negotiable bitrate range, per RFC 7587 maxaveragebitrate.
	minBitrate = 6000
	maxBitrate = 510000
)

// fmtp parameter names understood by the encoder-side scan. Matching is
// case-insensitive.
const (
	fmtpUseInbandFEC    = "useinbandfec"
	fmtpMaxAvgBitrate   = "maxaveragebitrate"
	fmtpMaxCodedAudioBW = "maxcodedaudiobandwidth"
	fmtpUseDTX          = "usedtx"
)

// DefaultParams builds the default parameter set for a stream described
// by desc. Only the payload type is taken from the descriptor; the rest
// follows the voice-mode bitrate table in the Opus RFC, with 16 kHz as
// the working rate.
func DefaultParams(desc codec.StreamDescriptor) *codec.ParameterSet {
	p := &codec.ParameterSet{
		Channels:        1,
		ClockRate:       16000,
		AvgBitrate:      20000,
		MaxBitrate:      32000,
		FrameMs:         frameLengthMs,
		BitsPerSample:   16,
		PayloadType:     desc.PayloadType,
		FramesPerPacket: 1,
		VAD:             false,
		PLC:             true,
	}
	p.DecFmtp = DecoderFmtp(p)
	return p
}

// DecoderFmtp derives the decoder-side fmtp list from a parameter set.
// The list is advisory metadata for the negotiation layer; the codec
// itself does not read it. Each rule appends at most one entry, and
// order matters: the far end reads the first occurrence of a name.
func DecoderFmtp(p *codec.ParameterSet) codec.FmtpList {
	var list codec.FmtpList
	if !p.PLC {
		list = append(list, codec.FmtpParam{Name: fmtpUseInbandFEC, Value: "0"})
	}
	if p.VAD {
		list = append(list, codec.FmtpParam{Name: fmtpUseDTX, Value: "1"})
	}
	if p.Channels == 2 {
		list = append(list, codec.FmtpParam{Name: "stereo", Value: "1"})
	}
	if p.ClockRate < 48000 {
		list = append(list, codec.FmtpParam{
			Name:  fmtpMaxCodedAudioBW,
			Value: strconv.Itoa(p.ClockRate),
		})
	}
	return list
}

// encoderSettings is the concrete engine configuration extracted from an
// encoder-side fmtp list. Nil fields were not negotiated and leave the
// engine at its prior value.
type encoderSettings struct {
	inbandFEC    *bool
	bitrate      *int
	maxBandwidth *opus.Bandwidth
	dtx          *bool
}

// parseEncoderFmtp scans the encoder-side fmtp list in a single pass.
// The first occurrence of each parameter name consumes its category;
// later duplicates are ignored, and one category never stops the scan
// for the others. Non-numeric values and out-of-range bitrates are
// dropped silently: negotiation noise must not fail Open.
func parseEncoderFmtp(list codec.FmtpList) encoderSettings {
	var s encoderSettings
	var seen struct {
		fec, bitrate, bandwidth, dtx bool
	}
	for _, param := range list {
		switch {
		case strings.EqualFold(param.Name, fmtpUseInbandFEC):
			if seen.fec {
				continue
			}
			seen.fec = true
			if v, err := strconv.Atoi(param.Value); err == nil {
				fec := v != 0
				s.inbandFEC = &fec
			}
		case strings.EqualFold(param.Name, fmtpMaxAvgBitrate):
			if seen.bitrate {
				continue
			}
			seen.bitrate = true
			if v, err := strconv.Atoi(param.Value); err == nil {
				if v >= minBitrate && v <= maxBitrate {
					s.bitrate = &v
				} else {
					log.Printf("opus: ignoring out-of-range maxaveragebitrate %d", v)
				}
			}
		case strings.EqualFold(param.Name, fmtpMaxCodedAudioBW):
			if seen.bandwidth {
				continue
			}
			seen.bandwidth = true
			if v, err := strconv.Atoi(param.Value); err == nil {
				if bw, ok := bandwidthForRate(v); ok {
					s.maxBandwidth = &bw
				}
			}
		case strings.EqualFold(param.Name, fmtpUseDTX):
			if seen.dtx {
				continue
			}
			seen.dtx = true
			if v, err := strconv.Atoi(param.Value); err == nil {
				dtx := v != 0
				s.dtx = &dtx
			}
		}
	}
	return s
}

// bandwidthForRate maps a maxcodedaudiobandwidth value in Hz onto the
// nearest engine bandwidth class. Rates above fullband are not
// negotiable and report ok=false.
func bandwidthForRate(hz int) (opus.Bandwidth, bool) {
	switch {
	case hz <= 8000:
		return opus.Narrowband, true
	case hz <= 12000:
		return opus.Mediumband, true
	case hz <= 16000:
		return opus.Wideband, true
	case hz <= 24000:
		return opus.SuperWideband, true
	case hz <= 48000:
		return opus.Fullband, true
	default:
		return 0, false
	}
}

// apply pushes the negotiated settings onto an encoder. Individual ctl
// failures are logged and skipped: a refused tuning knob must not tear
// down the stream.
func (s encoderSettings) apply(enc *opus.Encoder) {
	if s.inbandFEC != nil {
		if err := enc.SetInBandFEC(*s.inbandFEC); err != nil {
			log.Printf("opus: failed to set in-band FEC: %v", err)
		}
	}
	if s.bitrate != nil {
		if err := enc.SetBitrate(*s.bitrate); err != nil {
			log.Printf("opus: failed to set bitrate: %v", err)
		}
	}
	if s.maxBandwidth != nil {
		if err := enc.SetMaxBandwidth(*s.maxBandwidth); err != nil {
			log.Printf("opus: failed to set max bandwidth: %v", err)
		}
	}
	if s.dtx != nil {
		if err := enc.SetDTX(*s.dtx); err != nil {
			log.Printf("opus: failed to set DTX: %v", err)
		}
	}
}
