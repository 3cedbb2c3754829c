// ABOUTME: Configuration loading for the opusbridge demo
// ABOUTME: Viper-backed defaults with an optional config file override
package main

import (
	"log"

	"github.com/spf13/viper"
)

// Config holds the demo pipeline settings. The fmtp-style fields stand
// in for what a real deployment would receive from the remote side of
// the negotiation.
type Config struct {
	FrameMs      int  // frame duration handed to the codec
	MaxInstances int  // factory instance cap, 0 = unbounded
	Bitrate      int  // maxaveragebitrate fmtp, 0 = not negotiated
	MaxBandwidth int  // maxcodedaudiobandwidth fmtp, 0 = not negotiated
	FEC          bool // useinbandfec fmtp
	DTX          bool // usedtx fmtp
}

func setViperDefaults() {
	viper.SetDefault("framems", 10)
	viper.SetDefault("maxinstances", 0)
	viper.SetDefault("bitrate", 0)
	viper.SetDefault("maxbandwidth", 0)
	viper.SetDefault("fec", false)
	viper.SetDefault("dtx", false)
}

// LoadConfig reads settings from the given file, falling back to
// defaults when the path is empty or the file is missing.
func LoadConfig(configFilePath string) Config {
	setViperDefaults()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			log.Printf("config file %s not loaded: %v", configFilePath, err)
		}
	}

	return Config{
		FrameMs:      viper.GetInt("framems"),
		MaxInstances: viper.GetInt("maxinstances"),
		Bitrate:      viper.GetInt("bitrate"),
		MaxBandwidth: viper.GetInt("maxbandwidth"),
		FEC:          viper.GetBool("fec"),
		DTX:          viper.GetBool("dtx"),
	}
}
