package audio

import (
	"encoding/binary"
	"math"
)

// Clamp limits one sample to [-1, 1].
func Clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// ApplyGain scales samples in place and clamps the result.
func ApplyGain(samples []float32, gain float64) {
	g := float32(gain)
	for i, v := range samples {
		samples[i] = Clamp(v * g)
	}
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Convert rewrites src from one format to another with linear interpolation
// for rate changes and modulo mapping for channel changes. The returned slice
// reuses dst when it has capacity.
func Convert(dst, src []float32, from, to Format) []float32 {
	if from == to {
		return append(dst[:0], src...)
	}
	if !from.Valid() || !to.Valid() || len(src) < from.Channels {
		return dst[:0]
	}

	srcFrames := len(src) / from.Channels
	dstFrames := srcFrames
	if from.SampleRate != to.SampleRate {
		dstFrames = int(int64(srcFrames) * int64(to.SampleRate) / int64(from.SampleRate))
	}

	need := dstFrames * to.Channels
	if cap(dst) < need {
		dst = make([]float32, need)
	}
	dst = dst[:need]

	step := float64(from.SampleRate) / float64(to.SampleRate)
	for frame := 0; frame < dstFrames; frame++ {
		pos := float64(frame) * step
		i0 := int(pos)
		if i0 >= srcFrames {
			i0 = srcFrames - 1
		}
		i1 := i0 + 1
		if i1 >= srcFrames {
			i1 = srcFrames - 1
		}
		frac := float32(pos - float64(i0))

		for c := 0; c < to.Channels; c++ {
			sc := c % from.Channels
			s0 := src[i0*from.Channels+sc]
			s1 := src[i1*from.Channels+sc]
			dst[frame*to.Channels+c] = s0 + (s1-s0)*frac
		}
	}
	return dst
}

// EncodeFloat32LE serializes samples as little-endian float32 bytes.
func EncodeFloat32LE(dst []byte, samples []float32) []byte {
	need := len(samples) * 4
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
	return dst
}

// DecodeFloat32LE parses little-endian float32 bytes into dst and returns the
// sample count. Trailing partial samples are ignored.
func DecodeFloat32LE(dst []float32, raw []byte) int {
	n := len(raw) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return n
}
