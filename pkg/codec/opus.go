package codec

import (
	"errors"
	"fmt"

	"github.com/meshline/meshline/pkg/frame"
	"gopkg.in/hraban/opus.v2"
)

// Opus framing: the codec only accepts a discrete set of frame
// durations, up to 120 ms, and performs best fed 48 kHz audio.
const (
	opusPreferredSampleRate = 48000
	opusMaxFrameMs          = 120
)

var opusValidFrameMs = []float64{2.5, 5, 10, 20, 40, 60, 80, 100, 120}

// maxPacketSize is the recommended upper bound for a single encoded
// Opus packet (per the libopus documentation).
const maxPacketSize = 4000

// OpusCodec is a Codec backed by libopus in VoIP mode. The encode and
// decode buffers are allocated once and reused, so returned frames are
// only valid until the next call.
type OpusCodec struct {
	sampleRate  int
	numChannels int

	encoder      *opus.Encoder
	encodeBuf    frame.EncodedFrame
	decoder      *opus.Decoder
	decodedFrame frame.PCMFrame
}

// NewOpusCodec creates an Opus codec for the given stream format.
// sampleRate must be one of the rates libopus accepts (8, 12, 16, 24 or
// 48 kHz); numChannels must be 1 or 2.
func NewOpusCodec(sampleRate int, numChannels int) (*OpusCodec, error) {
	encoder, errEnc := opus.NewEncoder(sampleRate, numChannels, opus.AppVoIP)
	decoder, errDec := opus.NewDecoder(sampleRate, numChannels)
	if err := errors.Join(errEnc, errDec); err != nil {
		return nil, fmt.Errorf("opus codec: %w", err)
	}

	decodedSamples := sampleRate * numChannels * opusMaxFrameMs / 1000
	return &OpusCodec{
		sampleRate:   sampleRate,
		numChannels:  numChannels,
		encoder:      encoder,
		encodeBuf:    make(frame.EncodedFrame, maxPacketSize),
		decoder:      decoder,
		decodedFrame: make(frame.PCMFrame, decodedSamples),
	}, nil
}

func (c *OpusCodec) Encode(pcm frame.PCMFrame) (frame.EncodedFrame, error) {
	n, err := c.encoder.EncodeFloat32(pcm, c.encodeBuf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return c.encodeBuf[:n], nil
}

func (c *OpusCodec) Decode(data frame.EncodedFrame) (frame.PCMFrame, error) {
	n, err := c.decoder.DecodeFloat32(data, c.decodedFrame)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return c.decodedFrame[:n*c.numChannels], nil
}

func (c *OpusCodec) Descriptor() Descriptor {
	return Descriptor{
		PreferredSampleRate: opusPreferredSampleRate,
		FrameMaxMs:          opusMaxFrameMs,
		ValidFrameMs:        opusValidFrameMs,
	}
}
