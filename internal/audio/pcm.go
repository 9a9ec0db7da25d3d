package audio

import (
	"encoding/binary"
	"math"
)

// PCM16FromFloat32 converts 32-bit float samples to signed 16-bit
// little-endian PCM, clamping to [-1, 1] before clipping to integer range.
// The destination must hold 2*len(samples) bytes.
func PCM16FromFloat32(samples []float32, dst []byte) {
	for i, sample := range samples {
		s := sample
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(v))
	}
}

// Float32FromPCM16 converts signed 16-bit little-endian PCM bytes to float
// samples in [-1, 1). len(raw) must be even.
func Float32FromPCM16(raw []byte, dst []float32) {
	for i := 0; i+1 < len(raw); i += 2 {
		v := int16(binary.LittleEndian.Uint16(raw[i:]))
		dst[i/2] = float32(v) / 0x8000
	}
}

// Float32FromLE reinterprets little-endian IEEE-754 bytes as float samples.
// len(raw) must be a multiple of 4.
func Float32FromLE(raw []byte, dst []float32) {
	for i := 0; i+3 < len(raw); i += 4 {
		bits := binary.LittleEndian.Uint32(raw[i:])
		dst[i/4] = math.Float32frombits(bits)
	}
}
