package stream

import (
	"context"
	"fmt"
	"log/slog"
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
	// MaxFrames is the hard capacity of a sink's frame queue. At the
	// default 80ms frame duration this bounds buffered playback latency
	// to just under half a second.
	MaxFrames = 6

	// bufferMaxHeight is the admission threshold: CanReceive answers
	// false once the queue holds this many frames, leaving headroom
	// between "please stop sending" and "forced to drop".
	bufferMaxHeight = MaxFrames - 3

	// autostartMinFrames is how many queued frames it takes for an
	// auto-start sink to begin playback.
	autostartMinFrames = 1

	// frameTimeoutFrames is the underrun timeout expressed in frame
	// durations: a running sink whose queue stays empty this long stops
	// itself rather than playing synthetic silence.
	frameTimeoutFrames = 8
)

// SinkOption configures a LineSink.
type SinkOption func(*LineSink)

// WithoutAutoStart disables the default behaviour of starting playback
// on its own once the queue reaches the auto-start threshold, leaving
// the caller in charge of Start.
func WithoutAutoStart() SinkOption {
	return func(s *LineSink) { s.autoStart = false }
}

// WithLowLatency asks the playback device for its smallest buffers at
// the cost of underrun robustness.
func WithLowLatency() SinkOption {
	return func(s *LineSink) { s.lowLatency = true }
}

// WithSinkCodec sets the codec used to decode frames that arrive
// encoded. A sink without one can only play raw PCM frames.
func WithSinkCodec(c codec.Codec) SinkOption {
	return func(s *LineSink) { s.codec = c }
}

// WithSinkFormat pins the playback format instead of adopting it from
// the first source that delivers a frame.
func WithSinkFormat(props audiodevice.DeviceProperties, frameDuration time.Duration) SinkOption {
	return func(s *LineSink) {
		s.props = props
		s.frameDuration = frameDuration
	}
}

// WithSinkMetrics overrides the metrics instance, mainly so tests can
// isolate their own meter provider.
func WithSinkMetrics(m *observe.Metrics) SinkOption {
	return func(s *LineSink) { s.metrics = m }
}

// LineSink plays frames through a local device. Incoming frames land in
// a bounded FIFO queue; a digest goroutine drains it, decoding and
// writing to the device.
//
// The queue never blocks a producer. At capacity the oldest frame is
// dropped to admit the newest, and the digest loop sheds further excess
// whenever the queue sits above the admission threshold, so a sender
// that ignores CanReceive loses old audio rather than growing latency.
// An empty queue is handled by the underrun timeout: after
// frameTimeoutFrames frame durations with nothing to play, the sink
// stops itself cleanly instead of feeding the device silence.
type LineSink struct {
	logger  *slog.Logger
	uuid    uuid.UUID
	metrics *observe.Metrics

	device audiodevice.PlaybackDevice
	codec  codec.Codec

	autoStart  bool
	lowLatency bool

	queue chan frame.Frame

	// formatMu guards the playback format, written once on adoption.
	formatMu      sync.Mutex
	props         audiodevice.DeviceProperties
	frameDuration time.Duration

	running     atomic.Bool
	lifecycleMu sync.Mutex
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewLineSink creates a sink playing through dev. Unless pinned with
// [WithSinkFormat], the playback format and frame duration are adopted
// from the first source to deliver a frame.
func NewLineSink(dev audiodevice.PlaybackDevice, opts ...SinkOption) *LineSink {
	id := uuid.New()
	s := &LineSink{
		logger:    slog.Default().With("line sink uuid", id),
		uuid:      id,
		device:    dev,
		queue:     make(chan frame.Frame, MaxFrames),
		autoStart: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Running reports whether the digest loop is active.
func (s *LineSink) Running() bool {
	return s.running.Load()
}

// QueueLen returns the number of frames currently buffered.
func (s *LineSink) QueueLen() int {
	return len(s.queue)
}

// CanReceive reports whether the queue has admission headroom. Purely
// advisory: a quick length check with no locking, so the answer may be
// stale by the time the producer acts on it. HandleFrame tolerates
// that.
func (s *LineSink) CanReceive(from Source) bool {
	return len(s.queue) < bufferMaxHeight
}

// HandleFrame enqueues f, dropping the oldest queued frame when the
// queue is at capacity. Never blocks. If auto-start is enabled and
// playback is not running, the sink starts itself once the queue
// reaches the auto-start threshold.
func (s *LineSink) HandleFrame(f frame.Frame, from Source) {
	s.adoptFormat(from)

	select {
	case s.queue <- f:
	default:
		// Full: evict the oldest to admit the newest.
		select {
		case <-s.queue:
			s.metrics.RecordFrameDrop(context.Background(), observe.StageSink, observe.DropOverflow)
		default:
		}
		select {
		case s.queue <- f:
		default:
			// Lost the refill race to another producer; this frame is the
			// casualty instead.
			s.metrics.RecordFrameDrop(context.Background(), observe.StageSink, observe.DropOverflow)
		}
	}

	if s.autoStart && !s.running.Load() && len(s.queue) >= autostartMinFrames {
		if err := s.Start(); err != nil {
			s.logger.Error("auto-start failed", "err", err)
		}
	}
}

// adoptFormat latches the playback format from the first source seen.
func (s *LineSink) adoptFormat(from Source) {
	if from == nil {
		return
	}
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	if s.props.SampleRate != 0 {
		return
	}
	s.props = from.Properties()
	s.frameDuration = from.FrameDuration()
	s.logger.Debug(
		"adopted playback format",
		"sampleRate", s.props.SampleRate,
		"numChannels", s.props.NumChannels,
		"frameDuration", s.frameDuration,
	)
}

// format returns the playback format, falling back to defaults when no
// source has delivered a frame yet and nothing was pinned.
func (s *LineSink) format() (audiodevice.DeviceProperties, time.Duration) {
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	props, dur := s.props, s.frameDuration
	if props.SampleRate == 0 {
		props = audiodevice.DeviceProperties{SampleRate: defaultSampleRate, NumChannels: defaultNumChannels}
	}
	if dur == 0 {
		dur = time.Duration(defaultFrameDurationMs * float64(time.Millisecond))
	}
	return props, dur
}

// Start opens the playback device and launches the digest loop.
// Idempotent. Returns an error wrapping [ErrDeviceUnavailable] if the
// device cannot start.
func (s *LineSink) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	// A previous loop that stopped itself on underrun may still be
	// releasing the device.
	if s.doneCh != nil {
		<-s.doneCh
	}

	props, _ := s.format()
	if err := s.device.StartPlayback(props.SampleRate, props.NumChannels, s.lowLatency); err != nil {
		s.running.Store(false)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.digestLoop(s.stopCh, s.doneCh)

	s.logger.Info("line sink started")
	return nil
}

// Stop halts playback, releases the device, and clears the queue so a
// later restart does not replay stale audio. Idempotent.
func (s *LineSink) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.CompareAndSwap(true, false) {
		close(s.stopCh)
		<-s.doneCh
		s.logger.Info("line sink stopped")
	}

	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

func (s *LineSink) digestLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if err := s.device.StopPlayback(); err != nil {
			s.logger.Error("error stopping playback device", "err", err)
		}
	}()

	ctx := context.Background()
	s.metrics.ActiveSinks.Add(ctx, 1)
	defer s.metrics.ActiveSinks.Add(ctx, -1)

	lagLog := newRateLimitedLogger(s.logger, time.Second)

	_, frameDur := s.format()
	pollTimeout := max(frameDur/2, time.Millisecond)
	underrunLimit := frameTimeoutFrames * frameDur

	// Zero while frames are flowing; set at the first empty poll so the
	// timeout measures a continuous gap.
	var underrunStart time.Time

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return

		case f := <-s.queue:
			underrunStart = time.Time{}

			pcm, ok := s.decodeFrame(ctx, f)
			if !ok {
				continue
			}
			if err := s.device.WriteAudio(frame.Float32ToBytes(pcm)); err != nil {
				s.logger.Error("error writing to playback device", "err", err)
				continue
			}
			s.metrics.FramesPlayed.Add(ctx, 1)

			// Lag protection: a queue still above the admission threshold
			// after playing a frame means we are falling behind, so shed
			// the oldest rather than let latency build.
			if len(s.queue) > bufferMaxHeight {
				select {
				case <-s.queue:
					lagLog.Warn("playback lagging, dropping oldest frame", "queued", len(s.queue))
					s.metrics.RecordFrameDrop(ctx, observe.StageSink, observe.DropLag)
				default:
				}
			}

		case <-time.After(pollTimeout):
			if underrunStart.IsZero() {
				underrunStart = time.Now()
				continue
			}
			if time.Since(underrunStart) > underrunLimit {
				s.logger.Info("no frames within underrun timeout, stopping playback",
					"timeout", underrunLimit)
				s.metrics.UnderrunStops.Add(ctx, 1)
				// Clean self-stop. If an external Stop won the race it owns
				// the shutdown; either way this loop is done.
				s.running.CompareAndSwap(true, false)
				return
			}
		}
	}
}

// decodeFrame turns a queued frame into playable PCM. Encoded frames
// need the sink codec; raw PCM frames pass through.
func (s *LineSink) decodeFrame(ctx context.Context, f frame.Frame) (frame.PCMFrame, bool) {
	if f.Encoded == nil {
		return f.PCM, true
	}
	if s.codec == nil {
		s.logger.Error("received encoded frame but sink has no codec, dropping")
		s.metrics.RecordFrameDrop(ctx, observe.StageSink, observe.DropDecodeError)
		return nil, false
	}

	start := time.Now()
	pcm, err := s.codec.Decode(f.Encoded)
	s.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("error decoding frame, dropping", "err", err)
		s.metrics.RecordFrameDrop(ctx, observe.StageSink, observe.DropDecodeError)
		return nil, false
	}
	return pcm, true
}
