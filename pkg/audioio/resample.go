package audioio

import (
	"math"
)

// ResampledLen returns the number of samples Resample produces for n input
// samples.
func ResampledLen(n, fromRate, toRate int) int {
	if fromRate == toRate {
		return n
	}
	ratio := float64(toRate) / float64(fromRate)
	return int(math.Round(float64(n) * ratio))
}

// Resample converts audio from one sample rate to another using linear
// interpolation between the two neighbouring source samples.
// The upper neighbour is clamped to the last source sample, so the tail of
// every buffer interpolates towards itself rather than wrapping.
// When the rates match the input slice is returned unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return samples
	}

	if len(samples) == 0 {
		return []float32{}
	}

	ratio := float64(toRate) / float64(fromRate)
	newLen := ResampledLen(len(samples), fromRate, toRate)
	result := make([]float32, newLen)
	last := len(samples) - 1

	for i := 0; i < newLen; i++ {
		pos := float64(i) / ratio
		floor := math.Floor(pos)
		frac := pos - floor

		lo := int(floor)
		if lo > last {
			lo = last
		}
		hi := min(lo+1, last)

		s1 := float64(samples[lo])
		s2 := float64(samples[hi])
		result[i] = float32(s1*(1-frac) + s2*frac)
	}

	return result
}

// QuantizeSample converts a float sample to signed 16-bit PCM. The input is
// clamped to [-1, 1]; negative values scale by 32768 and positive values by
// 32767 so both ends of the int16 range are reachable. The product is
// truncated toward zero.
func QuantizeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// FloatToPCM16 quantizes a buffer of float samples to PCM16.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = QuantizeSample(s)
	}
	return out
}

// RMS returns the root mean square amplitude of float samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// bytesToFloat32 decodes little-endian IEEE-754 float32 samples.
func bytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
