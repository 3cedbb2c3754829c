// ABOUTME: Entry point for the opusbridge demo pipeline
// ABOUTME: Encodes a WAV through the Opus codec with simulated packet loss
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiobridge/opuscodec/pkg/codec"
	"github.com/audiobridge/opuscodec/pkg/opuscodec"
)

var (
	configFile = flag.String("config", "", "Optional config file (YAML, TOML or JSON)")
	inFile     = flag.String("in", "", "Input WAV file (8/12/16/24/48 kHz, mono or stereo)")
	outFile    = flag.String("out", "opusbridge-out.wav", "Output WAV file")
	lossPct    = flag.Int("loss", 0, "Simulated packet loss percentage (0-100)")
	play       = flag.Bool("play", false, "Play the decoded audio when done")
	logFile    = flag.String("log-file", "", "Log file path (default: stdout only)")
)

// encodedPacketCap bounds one encoded Opus packet.
const encodedPacketCap = 4000

func main() {
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	if *inFile == "" {
		log.Fatal("no input file: use -in <file.wav>")
	}
	if *lossPct < 0 || *lossPct > 100 {
		log.Fatalf("loss percentage %d out of range", *lossPct)
	}

	cfg := LoadConfig(*configFile)
	if err := run(cfg); err != nil {
		log.Fatalf("opusbridge: %v", err)
	}
}

func run(cfg Config) error {
	in, err := os.Open(*inFile)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	decoder := wav.NewDecoder(in)
	if !decoder.IsValidFile() {
		return fmt.Errorf("not a valid WAV file: %s", *inFile)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("read PCM: %w", err)
	}

	rate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	log.Printf("Input: %s, %d Hz, %d channels, %d samples", *inFile, rate, channels, len(buf.Data))

	factory := opuscodec.NewFactory(opuscodec.FactoryConfig{MaxInstances: cfg.MaxInstances})
	defer factory.Close()

	desc := codec.StreamDescriptor{
		Kind:        codec.MediaAudio,
		Name:        opuscodec.CodecName,
		ClockRate:   rate,
		Channels:    channels,
		PayloadType: opuscodec.DefaultPayloadType,
	}
	if !factory.Supports(desc) {
		return fmt.Errorf("stream not supported: %d Hz %s", rate, opuscodec.CodecName)
	}

	params := factory.DefaultParams(desc)
	params.ClockRate = rate
	params.Channels = channels
	params.FrameMs = cfg.FrameMs
	params.EncFmtp = negotiatedFmtp(cfg)
	log.Printf("Negotiated decoder fmtp: %v", params.DecFmtp)

	inst, err := factory.Alloc()
	if err != nil {
		return fmt.Errorf("alloc codec: %w", err)
	}
	defer factory.Dealloc(inst)

	if err := inst.Open(params); err != nil {
		return fmt.Errorf("open codec: %w", err)
	}
	defer inst.Close()

	decoded, stats, err := pump(inst, buf.Data, params, *lossPct)
	if err != nil {
		return err
	}
	log.Printf("Frames: %d encoded, %d lost, %d recovered, %d silent gaps",
		stats.encoded, stats.lost, stats.recovered, stats.gaps)

	if err := writeWAV(*outFile, decoded, rate, channels); err != nil {
		return err
	}
	log.Printf("Wrote %s (%d bytes of PCM)", *outFile, len(decoded))

	created, free := factory.Stats()
	log.Printf("Factory: %d slots constructed, %d free", created, free)

	if *play {
		return playPCM(decoded, rate, channels)
	}
	return nil
}

type pumpStats struct {
	encoded, lost, recovered, gaps int
}

// pump drives the codec frame by frame: encode, then either decode the
// packet or drop it at the configured rate and let the concealment path
// fill the gap.
func pump(inst *opuscodec.Instance, samples []int, params *codec.ParameterSet, lossPct int) ([]byte, pumpStats, error) {
	var stats pumpStats
	frameSamples := params.ClockRate * params.FrameMs / 1000 * params.Channels
	frameBytes := frameSamples * 2

	pcmFrame := make([]byte, frameBytes)
	packet := make([]byte, encodedPacketCap)
	pcmOut := make([]byte, frameBytes)
	var decoded []byte

	var timestamp uint64
	for start := 0; start+frameSamples <= len(samples); start += frameSamples {
		for n := 0; n < frameSamples; n++ {
			binary.LittleEndian.PutUint16(pcmFrame[n*2:], uint16(int16(samples[start+n])))
		}

		enc, err := inst.Encode(codec.Frame{
			Type:      codec.FrameTypeAudio,
			Data:      pcmFrame,
			Timestamp: timestamp,
		}, packet)
		if err != nil {
			return nil, stats, fmt.Errorf("encode at ts %d: %w", timestamp, err)
		}
		stats.encoded++

		var out codec.Frame
		if rand.Intn(100) < lossPct {
			stats.lost++
			out, err = inst.Recover(pcmOut)
			if err != nil {
				return nil, stats, fmt.Errorf("recover at ts %d: %w", timestamp, err)
			}
			if out.Type == codec.FrameTypeAudio {
				stats.recovered++
			}
		} else {
			frames, err := inst.Parse(enc.Data, enc.Timestamp)
			if err != nil {
				return nil, stats, fmt.Errorf("parse at ts %d: %w", timestamp, err)
			}
			out, err = inst.Decode(frames[0], pcmOut)
			if err != nil {
				return nil, stats, fmt.Errorf("decode at ts %d: %w", timestamp, err)
			}
		}

		if out.Type == codec.FrameTypeAudio {
			decoded = append(decoded, out.Data...)
		} else {
			// Keep the timeline contiguous through DTX gaps.
			decoded = append(decoded, make([]byte, frameBytes)...)
			stats.gaps++
		}
		timestamp += uint64(frameSamples / params.Channels)
	}
	return decoded, stats, nil
}

// negotiatedFmtp builds the encoder-side fmtp list a remote answer
// would normally carry.
func negotiatedFmtp(cfg Config) codec.FmtpList {
	var list codec.FmtpList
	if cfg.FEC {
		list = append(list, codec.FmtpParam{Name: "useinbandfec", Value: "1"})
	}
	if cfg.Bitrate > 0 {
		list = append(list, codec.FmtpParam{Name: "maxaveragebitrate", Value: fmt.Sprint(cfg.Bitrate)})
	}
	if cfg.MaxBandwidth > 0 {
		list = append(list, codec.FmtpParam{Name: "maxcodedaudiobandwidth", Value: fmt.Sprint(cfg.MaxBandwidth)})
	}
	if cfg.DTX {
		list = append(list, codec.FmtpParam{Name: "usedtx", Value: "1"})
	}
	return list
}

func writeWAV(path string, pcm []byte, rate, channels int) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	encoder := wav.NewEncoder(out, rate, 16, channels, 1)
	intBuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: channels},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for n := range intBuf.Data {
		intBuf.Data[n] = int(int16(binary.LittleEndian.Uint16(pcm[n*2:])))
	}
	if err := encoder.Write(intBuf); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return encoder.Close()
}
