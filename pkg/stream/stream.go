// Package stream implements the duplex audio streaming engine at the
// heart of a meshline voice call: the Source/Sink capability contract,
// the line-device implementations of both (LineSource capturing from a
// microphone-like device, LineSink playing through a speaker-like
// device), and the buffering, backpressure, and underrun state machine
// between them.
//
// A Source produces frames and pushes them to at most one attached
// Sink. A Sink accepts frames into a bounded queue and plays them back.
// The two never share a lock: all communication passes through the
// bounded frame queue and the two-method admission contract
// (CanReceive / HandleFrame).
package stream

import (
	"errors"
	"time"

	"github.com/meshline/meshline/pkg/audiodevice"
	"github.com/meshline/meshline/pkg/frame"
)

var (
	// ErrDeviceUnavailable wraps a capture or playback device that could
	// not be acquired. Fatal for the component instance; the caller must
	// retry with another device or abort the call.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrRemoteEndpoint is returned when constructing the remote endpoint
	// variant, which is reserved but not implemented.
	ErrRemoteEndpoint = errors.New("remote endpoint not implemented")
)

// Source is a producer of audio frames. Implementations capture (or
// otherwise obtain) audio, encode it, and push it to the attached Sink.
type Source interface {
	// Start begins producing frames. Idempotent: starting a running
	// source is a no-op.
	Start() error

	// Stop ends frame production and releases the underlying device.
	// Idempotent. Guaranteed to take effect within one frame duration.
	Stop()

	// SetSink attaches sink as the destination for produced frames,
	// replacing any previous attachment. A nil sink detaches. Takes
	// effect on the next frame produced.
	SetSink(sink Sink)

	// Properties reports the stream format this source produces.
	Properties() audiodevice.DeviceProperties

	// FrameDuration reports the negotiated duration of one frame.
	FrameDuration() time.Duration
}

// Sink is a consumer of audio frames.
type Sink interface {
	// Start begins playback. Idempotent.
	Start() error

	// Stop ends playback, clears any buffered frames, and releases the
	// underlying device. Idempotent.
	Stop()

	// CanReceive answers whether an immediate HandleFrame would be
	// accepted without forcing an overflow drop. It is advisory — a
	// hint for the producer to skip wasted encode work — and must be
	// O(1), non-blocking, and free of any lock the producer's hot path
	// could contend on.
	CanReceive(from Source) bool

	// HandleFrame accepts a frame unconditionally, even if CanReceive
	// would have said no; the queue's overflow policy bounds the cost.
	// Must never block the caller.
	HandleFrame(f frame.Frame, from Source)
}
