// ABOUTME: Live audio playback for the opusbridge demo using oto
// ABOUTME: Plays decoded PCM so loss concealment can be heard directly
package main

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/ebitengine/oto/v3"
)

// playPCM plays 16-bit little-endian PCM through the default audio
// device and blocks until playback finishes.
func playPCM(pcm []byte, sampleRate, channels int) error {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	log.Printf("Playing %d bytes: %dHz, %d channels", len(pcm), sampleRate, channels)

	player := ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	return player.Close()
}
