package codec

import "github.com/meshline/meshline/pkg/frame"

// PCMCodec passes audio through uncompressed: encoded frames are plain
// little-endian 16 bit PCM. Useful on links with bandwidth to spare and
// for running the pipeline without a native codec library.
//
// The descriptor carries no framing constraints, so any frame duration
// the caller asks for is used as-is.
type PCMCodec struct{}

func (PCMCodec) Encode(pcm frame.PCMFrame) (frame.EncodedFrame, error) {
	return frame.Float32ToBytes(pcm), nil
}

func (PCMCodec) Decode(data frame.EncodedFrame) (frame.PCMFrame, error) {
	return frame.BytesToFloat32(data), nil
}

func (PCMCodec) Descriptor() Descriptor {
	return Descriptor{}
}
