// Package audio provides PCM16 sample-rate conversion and the capture/playback
// engine that moves audio between the hardware device and the voice pipeline.
//
// All audio in Parlance is little-endian 16-bit mono PCM. The hardware runs at
// its native rate (typically 48 kHz); the speech transport consumes 16 kHz and
// synthesis produces 24 kHz, so both directions pass through [Resample].
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned when a requested conversion ratio falls outside
// the supported 1:8 – 8:1 band, or when either rate is not positive.
var ErrInvalidRate = errors.New("audio: invalid sample rate ratio")

// maxRateRatio bounds the conversion ratio in either direction. Ratios beyond
// 8:1 would allocate pathological output sizes for large inputs.
const maxRateRatio = 8

// Resample converts mono int16 samples from fromRate to toRate using linear
// interpolation. The output length is round(len(samples) * toRate / fromRate).
// An empty input yields an empty output. Deterministic and side-effect free;
// safe to call from any goroutine.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if err := checkRates(fromRate, toRate); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return []int16{}, nil
	}
	if fromRate == toRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	dstLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if dstLen == 0 {
		return []int16{}, nil
	}

	out := make([]int16, dstLen)
	ratio := float64(fromRate) / float64(toRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= len(samples) {
			srcIdx = len(samples) - 1
		}
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}

		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out, nil
}

// ResampleBytes converts little-endian PCM16 mono bytes from fromRate to
// toRate. It is a convenience wrapper around [Resample] for callers that work
// with raw byte buffers (device callbacks, transport chunks). An odd trailing
// byte is an error.
func ResampleBytes(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: resample: odd byte count %d in PCM16 data", len(pcm))
	}
	out, err := Resample(BytesToSamples(pcm), fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return SamplesToBytes(out), nil
}

// checkRates validates a rate pair against the supported ratio band.
func checkRates(fromRate, toRate int) error {
	if fromRate <= 0 || toRate <= 0 {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidRate, fromRate, toRate)
	}
	if fromRate > toRate*maxRateRatio || toRate > fromRate*maxRateRatio {
		return fmt.Errorf("%w: %d -> %d exceeds %d:1", ErrInvalidRate, fromRate, toRate, maxRateRatio)
	}
	return nil
}

// SamplesToBytes encodes int16 samples as little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16 bytes into int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
