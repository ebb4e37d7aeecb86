package stream

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshline/meshline/pkg/audiodevice"
	"github.com/meshline/meshline/pkg/audiodevice/mock"
	"github.com/meshline/meshline/pkg/codec"
	"github.com/meshline/meshline/pkg/frame"
)

// sinkStub records frames pushed by a source under test.
type sinkStub struct {
	reject atomic.Bool

	mu     sync.Mutex
	frames []frame.Frame
}

func (s *sinkStub) Start() error { return nil }
func (s *sinkStub) Stop()        {}

func (s *sinkStub) CanReceive(from Source) bool {
	return !s.reject.Load()
}

func (s *sinkStub) HandleFrame(f frame.Frame, from Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *sinkStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *sinkStub) frame(i int) frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

// countingCodec counts encodes on top of plain PCM passthrough.
type countingCodec struct {
	codec.PCMCodec
	encodes atomic.Int64
}

func (c *countingCodec) Encode(pcm frame.PCMFrame) (frame.EncodedFrame, error) {
	c.encodes.Add(1)
	return c.PCMCodec.Encode(pcm)
}

func int16Bytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestNegotiatesFormatFromCodec(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	src := NewLineSource(device, codec.NullCodec{
		Desc: codec.Descriptor{PreferredSampleRate: 8000},
	})
	defer src.Stop()

	if got := src.Properties(); got != (audiodevice.DeviceProperties{SampleRate: 8000, NumChannels: 1}) {
		t.Fatalf("Properties = %+v", got)
	}
	if got := src.FrameDuration(); got != 80*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 80ms", got)
	}

	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := device.Starts()
	if len(calls) != 1 {
		t.Fatalf("StartRecording called %d times, want 1", len(calls))
	}
	// 80ms at 8000Hz.
	want := mock.StartRecordingCall{SampleRate: 8000, NumChannels: 1, SamplesPerFrame: 640}
	if calls[0] != want {
		t.Fatalf("StartRecording args = %+v, want %+v", calls[0], want)
	}
}

func TestFrameDurationSnapsToCodecConstraints(t *testing.T) {
	t.Parallel()

	src := NewLineSource(&mock.CaptureDevice{}, codec.NullCodec{
		Desc: codec.Descriptor{
			PreferredSampleRate: 48000,
			FrameQuantaMs:       2.5,
			FrameMaxMs:          120,
			ValidFrameMs:        []float64{20, 40, 60, 80, 100, 120},
		},
	}, WithFrameDuration(77*time.Millisecond))

	// 77 quantizes up to 77.5, then snaps to the nearest valid duration.
	if got := src.FrameDuration(); got != 80*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 80ms", got)
	}
	if got := src.SamplesPerFrame(); got != 3840 {
		t.Fatalf("SamplesPerFrame = %d, want 3840", got)
	}
}

func TestCaptureRateDiffersFromStreamRate(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	src := NewLineSource(device, codec.PCMCodec{},
		WithCaptureSampleRate(16000),
		WithFrameDuration(80*time.Millisecond),
	)
	defer src.Stop()

	// Stream format follows the codec default, not the capture rate.
	if got := src.Properties().SampleRate; got != 48000 {
		t.Fatalf("stream sample rate = %d, want 48000", got)
	}

	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := device.Starts()
	// The device is opened at its own rate, 80ms at 16000Hz.
	want := mock.StartRecordingCall{SampleRate: 16000, NumChannels: 1, SamplesPerFrame: 1280}
	if calls[0] != want {
		t.Fatalf("StartRecording args = %+v, want %+v", calls[0], want)
	}
}

func TestGainAppliedBeforeEncode(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	device.QueueFrames(int16Bytes(8192)) // 0.25
	sink := &sinkStub{}

	src := NewLineSource(device, codec.PCMCodec{},
		WithGain(2.0),
		WithFrameDuration(10*time.Millisecond),
	)
	src.SetSink(sink)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	waitFor(t, time.Second, func() bool { return sink.count() == 1 },
		"frame never delivered")

	pcm := frame.BytesToFloat32(sink.frame(0).Encoded)
	if got := pcm[0]; got < 0.499 || got > 0.501 {
		t.Fatalf("sample after gain = %v, want ~0.5", got)
	}
}

func TestGainClampsInsteadOfWrapping(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	device.QueueFrames(int16Bytes(29491)) // ~0.9
	sink := &sinkStub{}

	src := NewLineSource(device, codec.PCMCodec{},
		WithGain(2.0),
		WithFrameDuration(10*time.Millisecond),
	)
	src.SetSink(sink)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	waitFor(t, time.Second, func() bool { return sink.count() == 1 },
		"frame never delivered")

	if got, want := sink.frame(0).Encoded, int16Bytes(32767); !bytes.Equal(got, want) {
		t.Fatalf("overdriven sample = %v, want full scale %v", got, want)
	}
}

func TestBackpressureSkipsEncode(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	device.QueueFrames(int16Bytes(1), int16Bytes(2))
	sink := &sinkStub{}
	sink.reject.Store(true)
	c := &countingCodec{}

	src := NewLineSource(device, c, WithFrameDuration(10*time.Millisecond))
	src.SetSink(sink)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	waitFor(t, time.Second, func() bool { return device.Pending() == 0 },
		"capture frames never consumed")
	time.Sleep(20 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Fatalf("sink received %d frames while rejecting, want 0", got)
	}
	if got := c.encodes.Load(); got != 0 {
		t.Fatalf("encoder ran %d times behind a rejecting sink, want 0", got)
	}
	if !src.Running() {
		t.Fatal("source stopped on backpressure")
	}
}

func TestEncodeErrorDropsFrameAndContinues(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	device.QueueFrames(int16Bytes(1), int16Bytes(2))
	sink := &sinkStub{}

	src := NewLineSource(device, codec.NullCodec{}, WithFrameDuration(10*time.Millisecond))
	src.SetSink(sink)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	waitFor(t, time.Second, func() bool { return device.Pending() == 0 },
		"capture frames never consumed")
	time.Sleep(20 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Fatalf("sink received %d frames from a failing codec, want 0", got)
	}
	if !src.Running() {
		t.Fatal("source stopped on encode error")
	}
}

func TestSourceStartStopIdempotent(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	src := NewLineSource(device, codec.PCMCodec{}, WithFrameDuration(10*time.Millisecond))

	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(device.Starts()); got != 1 {
		t.Fatalf("StartRecording called %d times, want 1", got)
	}

	src.Stop()
	src.Stop()
	if src.Running() {
		t.Fatal("source still running after Stop")
	}
	if got := device.StopCount(); got != 1 {
		t.Fatalf("StopRecording called %d times, want 1", got)
	}
}

func TestSourceStartDeviceError(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{StartError: errors.New("no microphone")}
	src := NewLineSource(device, codec.PCMCodec{})

	err := src.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if src.Running() {
		t.Fatal("source running after failed Start")
	}
}

func TestSetSinkMidStream(t *testing.T) {
	t.Parallel()

	device := &mock.CaptureDevice{}
	device.QueueFrames(int16Bytes(1))
	sink := &sinkStub{}

	// No sink attached: the frame is consumed and discarded.
	src := NewLineSource(device, codec.PCMCodec{}, WithFrameDuration(10*time.Millisecond))
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	waitFor(t, time.Second, func() bool { return device.Pending() == 0 },
		"frame never consumed without a sink")

	src.SetSink(sink)
	device.QueueFrames(int16Bytes(2))
	waitFor(t, time.Second, func() bool { return sink.count() == 1 },
		"frame never delivered after SetSink")
}
