package voice

import (
	"encoding/binary"
	"math"
)

// SilenceThreshold is the RMS level, on a [-1,1] scale, under which a
// captured frame is treated as silence and not sent.
const SilenceThreshold = 0.01

// HasSound reports whether an int16 PCM frame is louder than SilenceThreshold.
func HasSound(frame []byte) bool {
	n := len(frame) / 2
	if n == 0 {
		return false
	}
	var acc float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		acc += v * v
	}
	return math.Sqrt(acc/float64(n)) >= SilenceThreshold
}

// Float32ToInt16 converts [-1,1] float samples, clipping out-of-range values.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7FFF
		}
	}
	return out
}

// EncodePCM packs samples little-endian.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM unpacks little-endian samples; a trailing odd byte is ignored.
func DecodePCM(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out
}

// ClampVolume limits level to [0,1]. NaN becomes 0.
func ClampVolume(level float64) float64 {
	switch {
	case math.IsNaN(level), level < 0:
		return 0
	case level > 1:
		return 1
	}
	return level
}
