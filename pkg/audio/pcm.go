// Package audio provides the sample-level building blocks of the Parley
// playback pipeline: decoding of wire-format PCM frames into normalized
// float32 samples, the matching encoder used by capture paths and test
// fixtures, duration arithmetic, mono resampling, and the pending-sample
// [Accumulator] that absorbs network arrival jitter before scheduling.
//
// All samples in this package are mono, normalized float32 in [-1, 1].
package audio

import (
	"fmt"
	"time"
)

// DecodePCM16 converts a wire-format frame of 16-bit signed little-endian PCM
// samples into normalized float32 samples.
//
// Normalization is asymmetric so that both int16 extremes map exactly onto
// [-1, 1]: negative samples are divided by 32768, non-negative samples by
// 32767. An empty frame decodes to an empty (nil) sample slice.
//
// A frame with an odd byte count cannot be a valid int16 sequence and is
// rejected with an error; callers drop such frames and continue.
func DecodePCM16(frame []byte) ([]float32, error) {
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM frame length %d", len(frame))
	}
	if len(frame) == 0 {
		return nil, nil
	}

	samples := make([]float32, len(frame)/2)
	for i := range samples {
		s := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		if s < 0 {
			samples[i] = float32(s) / 32768
		} else {
			samples[i] = float32(s) / 32767
		}
	}
	return samples, nil
}

// EncodePCM16 converts normalized float32 samples back into 16-bit signed
// little-endian PCM bytes. Samples outside [-1, 1] are clamped. It is the
// inverse of [DecodePCM16] up to quantization.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		var s int16
		if f < 0 {
			s = int16(f * 32768)
		} else {
			s = int16(f * 32767)
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Duration returns the playback duration of n samples at the given sample rate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// SampleCount returns the number of samples spanning d at the given sample
// rate, rounding down.
func SampleCount(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// ResampleMono resamples normalized mono samples from srcRate to dstRate
// using linear interpolation. If the rates match (or the input is shorter
// than two samples) the input slice is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
