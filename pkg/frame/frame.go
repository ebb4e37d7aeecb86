// Package frame defines the audio frame types that flow through the
// meshline pipeline, together with the conversions between raw device
// PCM bytes and the normalized float32 representation used everywhere
// above the device layer.
package frame

import "math"

// PCMFrame is one frame of raw interleaved PCM audio samples,
// normalized to the range [-1.0, 1.0].
type PCMFrame = []float32

// EncodedFrame is one frame of encoded audio. The pipeline never
// interprets the contents, only the codec that produced it can.
type EncodedFrame = []byte

// Frame is a single playback quantum buffered inside a sink.
// Exactly one of PCM or Encoded is set: a sink fed by an encoding
// source queues Encoded frames and decodes them in its digest loop,
// while a sink fed raw audio queues PCM frames directly.
type Frame struct {
	PCM     PCMFrame
	Encoded EncodedFrame
}

// The scale constants are deliberately asymmetric: decoding divides by
// 32768 (the full negative range of int16) while encoding multiplies by
// 32767, so +1.0 cannot overflow the positive extreme. A byte-exact
// round trip is therefore within one quantization step.
const (
	decodeScale = 32768.0
	encodeScale = 32767.0
)

// BytesToFloat32 interprets b as little-endian signed 16 bit PCM and
// returns the samples normalized into [-1.0, ~1.0). A trailing odd byte
// is ignored.
func BytesToFloat32(b []byte) PCMFrame {
	pcm := make(PCMFrame, len(b)/2)
	for i := range pcm {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		pcm[i] = float32(s) / decodeScale
	}
	return pcm
}

// Float32ToBytes converts normalized samples to little-endian signed
// 16 bit PCM. Samples outside [-1.0, 1.0] are clamped, never wrapped.
func Float32ToBytes(pcm PCMFrame) []byte {
	b := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(math.Round(float64(v) * encodeScale))
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
