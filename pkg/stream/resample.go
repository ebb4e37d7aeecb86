package stream

import (
	"github.com/meshline/meshline/pkg/frame"
	"github.com/oov/audio/resampler"
)

const (
	// To avoid reallocating for every frame, reuse a buffer with "enough size".
	//
	// As a rough estimate, 48000Hz stereo audio with a frame of 120ms is
	// 11520 samples, so a buffer of 2**14 = 16384 is enough for anything.
	resampleBufferSize = 16384

	resampleQuality = 10
)

// resampleFunc converts one frame of interleaved float32 PCM from the
// capture rate to the stream rate. The returned slice aliases an
// internal buffer and is only valid until the next call.
type resampleFunc func(frame.PCMFrame) frame.PCMFrame

func newResampleFunc(fromRate, toRate, numChannels int) resampleFunc {
	if numChannels == 1 {
		r := resampler.New(1, fromRate, toRate, resampleQuality)
		buf := make(frame.PCMFrame, resampleBufferSize)
		return func(in frame.PCMFrame) frame.PCMFrame {
			_, written := r.ProcessFloat32(0, in, buf)
			return buf[:written]
		}
	}

	r := resampler.New(2, fromRate, toRate, resampleQuality)
	leftIn := make(frame.PCMFrame, resampleBufferSize/2)
	rightIn := make(frame.PCMFrame, resampleBufferSize/2)
	leftOut := make(frame.PCMFrame, resampleBufferSize/2)
	rightOut := make(frame.PCMFrame, resampleBufferSize/2)
	buf := make(frame.PCMFrame, resampleBufferSize)
	return func(in frame.PCMFrame) frame.PCMFrame {
		if len(in)%2 == 1 {
			in = in[:len(in)-1]
		}

		// Deinterleave, the resampler wants planar channels.
		for i := range len(in) / 2 {
			leftIn[i] = in[2*i]
			rightIn[i] = in[2*i+1]
		}

		_, written := r.ProcessFloat32(0, leftIn[:len(in)/2], leftOut)
		r.ProcessFloat32(1, rightIn[:len(in)/2], rightOut)

		for i := range written {
			buf[2*i] = leftOut[i]
			buf[2*i+1] = rightOut[i]
		}
		return buf[:2*written]
	}
}
