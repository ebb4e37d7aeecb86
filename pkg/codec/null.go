package codec

import (
	"errors"

	"github.com/meshline/meshline/pkg/frame"
)

// ErrNullCodec is returned by every NullCodec operation.
var ErrNullCodec = errors.New("null codec used")

// NullCodec rejects every frame. It is not a passthrough — use PCMCodec
// for that. NullCodec exists to exercise the failure paths of the
// capture and digest loops in tests.
type NullCodec struct {
	// Desc is returned by Descriptor, so tests can simulate arbitrary
	// framing constraints on a codec that never produces output.
	Desc Descriptor
}

func (NullCodec) Encode(frame.PCMFrame) (frame.EncodedFrame, error) {
	return nil, ErrNullCodec
}

func (NullCodec) Decode(frame.EncodedFrame) (frame.PCMFrame, error) {
	return nil, ErrNullCodec
}

func (c NullCodec) Descriptor() Descriptor {
	return c.Desc
}
