package stream

import (
	"fmt"

	"github.com/meshline/meshline/pkg/audiodevice"
	"github.com/meshline/meshline/pkg/codec"
)

// EndpointKind selects where a source or sink sits relative to the
// local node. The set is closed: local endpoints wrap an audio device
// on this machine, remote endpoints are reserved for the mesh transport
// layer and cannot be constructed yet.
type EndpointKind int

const (
	EndpointLocal EndpointKind = iota
	EndpointRemote
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointLocal:
		return "local"
	case EndpointRemote:
		return "remote"
	default:
		return fmt.Sprintf("EndpointKind(%d)", int(k))
	}
}

// NewSource constructs the Source variant for the given endpoint kind.
// EndpointLocal yields a [LineSource] over dev; EndpointRemote returns
// [ErrRemoteEndpoint].
func NewSource(kind EndpointKind, dev audiodevice.CaptureDevice, c codec.Codec, opts ...SourceOption) (Source, error) {
	switch kind {
	case EndpointLocal:
		return NewLineSource(dev, c, opts...), nil
	case EndpointRemote:
		return nil, ErrRemoteEndpoint
	default:
		return nil, fmt.Errorf("unknown endpoint kind %d", int(kind))
	}
}

// NewSink constructs the Sink variant for the given endpoint kind.
// EndpointLocal yields a [LineSink] over dev; EndpointRemote returns
// [ErrRemoteEndpoint].
func NewSink(kind EndpointKind, dev audiodevice.PlaybackDevice, opts ...SinkOption) (Sink, error) {
	switch kind {
	case EndpointLocal:
		return NewLineSink(dev, opts...), nil
	case EndpointRemote:
		return nil, ErrRemoteEndpoint
	default:
		return nil, fmt.Errorf("unknown endpoint kind %d", int(kind))
	}
}
