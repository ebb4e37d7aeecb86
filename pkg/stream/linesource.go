package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/meshline/meshline/internal/observe"
	"github.com/meshline/meshline/pkg/audiodevice"
	"github.com/meshline/meshline/pkg/codec"
	"github.com/meshline/meshline/pkg/frame"
)

const (
	// defaultFrameDurationMs is the target frame duration when the caller
	// does not pick one. 80ms keeps the per-frame overhead of a
	// low-bandwidth mesh link small while staying inside every codec's
	// valid frame set after negotiation.
	defaultFrameDurationMs = 80.0

	// defaultSampleRate is used when the codec expresses no preference.
	defaultSampleRate = 48000

	defaultNumChannels = 1
)

// SourceOption configures a LineSource.
type SourceOption func(*LineSource)

// WithFrameDuration sets the target frame duration. The effective
// duration is negotiated against the codec's framing constraints and
// may differ; read it back with [LineSource.FrameDuration].
func WithFrameDuration(d time.Duration) SourceOption {
	return func(s *LineSource) { s.targetFrameMs = float64(d) / float64(time.Millisecond) }
}

// WithGain sets a linear gain multiplier applied to captured samples
// before encoding. Default 1.0 (no scaling, and the multiply is
// skipped entirely).
func WithGain(gain float32) SourceOption {
	return func(s *LineSource) { s.gain = gain }
}

// WithNumChannels sets the channel count captured and produced.
// Default mono, which is all a voice call needs.
func WithNumChannels(numChannels int) SourceOption {
	return func(s *LineSource) { s.numChannels = numChannels }
}

// WithCaptureSampleRate sets the rate the capture device is opened at
// when it differs from the stream rate the codec wants. Captured audio
// is resampled to the stream rate before encoding.
func WithCaptureSampleRate(rate int) SourceOption {
	return func(s *LineSource) { s.captureRate = rate }
}

// WithSourceMetrics overrides the metrics instance, mainly so tests can
// isolate their own meter provider.
func WithSourceMetrics(m *observe.Metrics) SourceOption {
	return func(s *LineSource) { s.metrics = m }
}

// LineSource captures audio from a local device, applies gain, encodes
// each frame, and pushes it to the attached sink. One goroutine runs
// the capture loop for the lifetime of a Start/Stop cycle.
type LineSource struct {
	logger  *slog.Logger
	uuid    uuid.UUID
	metrics *observe.Metrics

	device audiodevice.CaptureDevice
	codec  codec.Codec

	// Stream format, fixed at construction.
	sampleRate      int
	numChannels     int
	samplesPerFrame int
	frameDuration   time.Duration
	targetFrameMs   float64

	// Capture format. Equal to the stream format unless
	// WithCaptureSampleRate installed a resampler.
	captureRate            int
	captureSamplesPerFrame int
	resample               resampleFunc

	gain float32

	sinkMu sync.RWMutex
	sink   Sink

	running     atomic.Bool
	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewLineSource creates a source capturing from dev and encoding with c.
// The frame duration is negotiated immediately: the target duration
// (default 80ms) is adjusted to satisfy the codec's framing constraints,
// and the stream sample rate follows the codec's preference (48000Hz
// when it has none).
func NewLineSource(dev audiodevice.CaptureDevice, c codec.Codec, opts ...SourceOption) *LineSource {
	id := uuid.New()
	s := &LineSource{
		logger:        slog.Default().With("line source uuid", id),
		uuid:          id,
		device:        dev,
		codec:         c,
		numChannels:   defaultNumChannels,
		targetFrameMs: defaultFrameDurationMs,
		gain:          1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	desc := c.Descriptor()
	s.sampleRate = desc.PreferredSampleRate
	if s.sampleRate == 0 {
		s.sampleRate = defaultSampleRate
	}

	frameMs := codec.AdjustFrameDuration(s.targetFrameMs, desc)
	s.frameDuration = time.Duration(frameMs * float64(time.Millisecond))
	s.samplesPerFrame = int(math.Round(frameMs * float64(s.sampleRate) / 1000.0))

	if s.captureRate == 0 || s.captureRate == s.sampleRate {
		s.captureRate = s.sampleRate
		s.captureSamplesPerFrame = s.samplesPerFrame
	} else {
		s.captureSamplesPerFrame = int(math.Round(frameMs * float64(s.captureRate) / 1000.0))
		s.resample = newResampleFunc(s.captureRate, s.sampleRate, s.numChannels)
	}

	s.logger.Debug(
		"line source created",
		"sampleRate", s.sampleRate,
		"captureRate", s.captureRate,
		"numChannels", s.numChannels,
		"frameDuration", s.frameDuration,
		"samplesPerFrame", s.samplesPerFrame,
	)
	return s
}

// Properties returns the stream format this source produces, after any
// capture-side resampling.
func (s *LineSource) Properties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  s.sampleRate,
		NumChannels: s.numChannels,
	}
}

// FrameDuration returns the negotiated frame duration.
func (s *LineSource) FrameDuration() time.Duration {
	return s.frameDuration
}

// SamplesPerFrame returns the per-channel sample count of one frame at
// the stream rate.
func (s *LineSource) SamplesPerFrame() int {
	return s.samplesPerFrame
}

// Running reports whether the capture loop is active.
func (s *LineSource) Running() bool {
	return s.running.Load()
}

// SetSink attaches sink as the frame destination, replacing any previous
// one. Takes effect on the next captured frame. A nil sink detaches.
func (s *LineSource) SetSink(sink Sink) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

func (s *LineSource) currentSink() Sink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

// Start opens the capture device and launches the capture loop.
// Idempotent: a second Start on a running source is a no-op. Returns an
// error wrapping [ErrDeviceUnavailable] if the device cannot start.
func (s *LineSource) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.device.StartRecording(s.captureRate, s.numChannels, s.captureSamplesPerFrame); err != nil {
		s.running.Store(false)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.captureLoop(s.stopCh, s.doneCh)

	s.logger.Info("line source started")
	return nil
}

// Stop halts the capture loop and releases the device. Blocks until the
// loop has exited, which takes at most about one frame duration.
// Idempotent.
func (s *LineSource) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("line source stopped")
}

func (s *LineSource) captureLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if err := s.device.StopRecording(); err != nil {
			s.logger.Error("error stopping capture device", "err", err)
		}
	}()

	ctx := context.Background()
	s.metrics.ActiveSources.Add(ctx, 1)
	defer s.metrics.ActiveSources.Add(ctx, -1)

	backpressureLog := newRateLimitedLogger(s.logger, time.Second)
	readErrLog := newRateLimitedLogger(s.logger, time.Second)

	// How long to wait when the device has no data yet. A fraction of the
	// frame duration so Stop stays responsive and a just-late frame is
	// picked up quickly.
	idlePause := max(s.frameDuration/8, time.Millisecond)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		raw, err := s.device.ReadAudio(s.captureSamplesPerFrame)
		if err != nil {
			readErrLog.Error("error reading from capture device", "err", err)
			select {
			case <-stopCh:
				return
			case <-time.After(idlePause):
			}
			continue
		}
		if raw == nil {
			select {
			case <-stopCh:
				return
			case <-time.After(idlePause):
			}
			continue
		}

		pcm := frame.BytesToFloat32(raw)
		if s.resample != nil {
			pcm = s.resample(pcm)
		}
		if s.gain != 1.0 {
			for i := range pcm {
				pcm[i] *= s.gain
			}
		}
		s.metrics.FramesCaptured.Add(ctx, 1)

		// Checking admission before encoding means a saturated sink costs
		// us a dropped frame, not a dropped frame plus a wasted encode.
		sink := s.currentSink()
		if sink == nil {
			continue
		}
		if !sink.CanReceive(s) {
			backpressureLog.Warn("sink not accepting frames, dropping")
			s.metrics.RecordFrameDrop(ctx, observe.StageSource, observe.DropBackpressure)
			continue
		}

		start := time.Now()
		encoded, err := s.codec.Encode(pcm)
		s.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.logger.Error("error encoding frame, dropping", "err", err)
			s.metrics.RecordFrameDrop(ctx, observe.StageSource, observe.DropEncodeError)
			continue
		}

		// The codec reuses its output buffer, but the sink queue holds
		// frames beyond this iteration.
		out := make(frame.EncodedFrame, len(encoded))
		copy(out, encoded)

		sink.HandleFrame(frame.Frame{Encoded: out}, s)
	}
}
