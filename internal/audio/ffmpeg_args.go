package audio

import (
	"strconv"
	"strings"

	"emocall/internal/ports"
)

const (
	defaultCodec   = "libopus"
	defaultBitrate = "32k"
	analysisRate   = 16000
)

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setString := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setInt(&cfg.SampleRate, 48000)
	setInt(&cfg.Channels, 1)
	setString(&cfg.InputFormat, "pulse")
	setString(&cfg.InputDevice, "default")
	setString(&cfg.Codec, defaultCodec)
	setString(&cfg.Bitrate, defaultBitrate)
	return cfg
}

// inputDevice prefers the echo-cancel source when echo cancellation is on.
func inputDevice(cfg ports.AudioConfig) string {
	if cfg.EchoCancellation && cfg.EchoCancelSource != "" {
		return cfg.EchoCancelSource
	}
	return cfg.InputDevice
}

// filterChain maps noise suppression to afftdn and auto gain to dynaudnorm.
func filterChain(cfg ports.AudioConfig) string {
	var chain []string
	if cfg.NoiseSuppression {
		chain = append(chain, "afftdn")
	}
	if cfg.AutoGain {
		chain = append(chain, "dynaudnorm")
	}
	return strings.Join(chain, ",")
}

// buildArgs produces two outputs from one input: the encoded webm stream on
// stdout and a 16 kHz mono s16le tap on fd 3 for level metering.
func buildArgs(cfg ports.AudioConfig) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", cfg.InputFormat, "-i", inputDevice(cfg)}
	if chain := filterChain(cfg); chain != "" {
		args = append(args, "-af", chain)
	}

	encoded := []string{"-map", "0:a",
		"-ac", strconv.Itoa(cfg.Channels), "-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", cfg.Codec, "-b:a", cfg.Bitrate, "-f", "webm", "pipe:1"}
	tap := []string{"-map", "0:a",
		"-ac", "1", "-ar", strconv.Itoa(analysisRate), "-f", "s16le", "pipe:3"}

	return append(append(args, encoded...), tap...)
}
