// Package codec defines the audio codec contract consumed by the stream
// engine, the framing descriptor used for frame-duration negotiation,
// and the concrete Opus and PCM codecs.
package codec

import "github.com/meshline/meshline/pkg/frame"

// Descriptor declares a codec's framing constraints. It is supplied once
// at source/sink construction and must not change afterwards.
//
// Zero values mean "no constraint": a codec with no preferred sample
// rate leaves PreferredSampleRate at 0, a codec that accepts any frame
// duration leaves the remaining fields unset.
type Descriptor struct {
	// PreferredSampleRate is the sample rate the codec wants its input
	// captured at, in Hz. 0 means the codec has no preference.
	PreferredSampleRate int

	// FrameQuantaMs is the smallest increment of frame duration the codec
	// accepts; valid durations are exact multiples of it. 0 means any.
	FrameQuantaMs float64

	// FrameMaxMs is the longest frame duration the codec accepts. 0 means
	// unbounded.
	FrameMaxMs float64

	// ValidFrameMs is a discrete list of the only frame durations the
	// codec accepts. When set it is the final authority over the quanta
	// and maximum. Nil means any duration (subject to the fields above).
	ValidFrameMs []float64
}

// Codec encodes normalized PCM frames into opaque encoded frames and
// back. Implementations hold per-stream state (e.g. an Opus encoder) and
// are not safe for concurrent use; each LineSource and LineSink owns its
// own instance.
type Codec interface {
	Encode(pcm frame.PCMFrame) (frame.EncodedFrame, error)
	Decode(data frame.EncodedFrame) (frame.PCMFrame, error)
	Descriptor() Descriptor
}
