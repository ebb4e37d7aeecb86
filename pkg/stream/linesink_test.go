package stream

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/meshline/meshline/pkg/audiodevice"
	"github.com/meshline/meshline/pkg/audiodevice/mock"
	"github.com/meshline/meshline/pkg/codec"
	"github.com/meshline/meshline/pkg/frame"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func pcmFrame(v float32) frame.Frame {
	return frame.Frame{PCM: frame.PCMFrame{v}}
}

// Format small enough to keep underrun tests fast.
var testFormat = audiodevice.DeviceProperties{SampleRate: 8000, NumChannels: 1}

const testFrameDur = 20 * time.Millisecond

func TestHandleFrameDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	sink := NewLineSink(&mock.PlaybackDevice{}, WithoutAutoStart())
	for i := 1; i <= MaxFrames+1; i++ {
		sink.HandleFrame(pcmFrame(float32(i)), nil)
	}

	if got := sink.QueueLen(); got != MaxFrames {
		t.Fatalf("queue length = %d, want %d", got, MaxFrames)
	}

	// Frame 1 was evicted to admit frame 7.
	want := float32(2)
	for {
		select {
		case f := <-sink.queue:
			if f.PCM[0] != want {
				t.Fatalf("queued frame = %v, want %v", f.PCM[0], want)
			}
			want++
		default:
			if want != float32(MaxFrames+2) {
				t.Fatalf("drained up to frame %v, want %v", want-1, MaxFrames+1)
			}
			return
		}
	}
}

func TestCanReceiveThreshold(t *testing.T) {
	t.Parallel()

	sink := NewLineSink(&mock.PlaybackDevice{}, WithoutAutoStart())
	for i := 0; i < bufferMaxHeight; i++ {
		if !sink.CanReceive(nil) {
			t.Fatalf("CanReceive = false with %d queued frames", i)
		}
		sink.HandleFrame(pcmFrame(0), nil)
	}
	if sink.CanReceive(nil) {
		t.Fatalf("CanReceive = true with %d queued frames", bufferMaxHeight)
	}
}

func TestAutoStartOnFirstFrame(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	sink.HandleFrame(pcmFrame(0.5), nil)

	if !sink.Running() {
		t.Fatal("sink not running after first frame with auto-start")
	}
	calls := device.Starts()
	if len(calls) != 1 {
		t.Fatalf("StartPlayback called %d times, want 1", len(calls))
	}
	if calls[0].SampleRate != testFormat.SampleRate || calls[0].NumChannels != testFormat.NumChannels {
		t.Fatalf("StartPlayback format = %+v, want %+v", calls[0], testFormat)
	}
}

func TestUnderrunTimeoutStopsPlayback(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkFormat(testFormat, testFrameDur),
	)

	sink.HandleFrame(pcmFrame(0.5), nil)
	waitFor(t, time.Second, func() bool { return len(device.Writes()) == 1 },
		"frame never played")

	// No synthetic silence: exactly the one real frame reaches the
	// device, then the sink stops itself after 8 empty frame durations.
	waitFor(t, time.Second, func() bool { return !sink.Running() },
		"sink did not stop after underrun timeout")

	if got := len(device.Writes()); got != 1 {
		t.Fatalf("device received %d writes, want 1", got)
	}
	waitFor(t, time.Second, func() bool { return device.StopCount() == 1 },
		"playback device not released after underrun stop")
}

func TestHandleFrameAfterUnderrunRestartsPlayback(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	sink.HandleFrame(pcmFrame(0.1), nil)
	waitFor(t, time.Second, func() bool { return !sink.Running() },
		"sink did not stop after underrun timeout")

	sink.HandleFrame(pcmFrame(0.2), nil)
	if !sink.Running() {
		t.Fatal("sink did not auto-start again after underrun stop")
	}
	if got := len(device.Starts()); got != 2 {
		t.Fatalf("StartPlayback called %d times, want 2", got)
	}
}

func TestLagDropsOldestAfterWrite(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithoutAutoStart(),
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	// Fill the queue to capacity before playback begins, so the digest
	// loop finds itself lagging on its very first write.
	for i := 1; i <= MaxFrames; i++ {
		sink.HandleFrame(pcmFrame(float32(i)/10), nil)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// After playing frame 1 the queue holds 5, still above the admission
	// threshold, so frame 2 is shed; from then on the queue stays at or
	// below the threshold and the remaining frames play in order.
	waitFor(t, time.Second, func() bool { return len(device.Writes()) == MaxFrames-1 },
		"queue never drained")
	waitFor(t, time.Second, func() bool { return sink.QueueLen() == 0 },
		"queue not empty after drain")

	want := []float32{0.1, 0.3, 0.4, 0.5, 0.6}
	writes := device.Writes()
	if len(writes) != len(want) {
		t.Fatalf("device received %d writes, want %d", len(writes), len(want))
	}
	for i, w := range writes {
		if got, wantBytes := w, frame.Float32ToBytes(frame.PCMFrame{want[i]}); !bytes.Equal(got, wantBytes) {
			t.Fatalf("write %d = %v, want frame %v", i, got, want[i])
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device, WithSinkFormat(testFormat, testFrameDur))

	if err := sink.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(device.Starts()); got != 1 {
		t.Fatalf("StartPlayback called %d times, want 1", got)
	}

	sink.Stop()
	sink.Stop()
	if sink.Running() {
		t.Fatal("sink still running after Stop")
	}
	if got := device.StopCount(); got != 1 {
		t.Fatalf("StopPlayback called %d times, want 1", got)
	}
}

func TestStartDeviceError(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{StartError: errors.New("no speaker")}
	sink := NewLineSink(device, WithSinkFormat(testFormat, testFrameDur))

	err := sink.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if sink.Running() {
		t.Fatal("sink running after failed Start")
	}
}

func TestStopClearsQueue(t *testing.T) {
	t.Parallel()

	sink := NewLineSink(&mock.PlaybackDevice{}, WithoutAutoStart())
	for i := 0; i < 3; i++ {
		sink.HandleFrame(pcmFrame(float32(i)), nil)
	}

	sink.Stop()
	if got := sink.QueueLen(); got != 0 {
		t.Fatalf("queue length after Stop = %d, want 0", got)
	}
}

func TestSinkPlaysQueuedPCM(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	pcm := frame.PCMFrame{0.0, 0.25, -0.5}
	sink.HandleFrame(frame.Frame{PCM: pcm}, nil)

	waitFor(t, time.Second, func() bool { return len(device.Writes()) == 1 },
		"frame never played")
	if got, want := device.Writes()[0], frame.Float32ToBytes(pcm); !bytes.Equal(got, want) {
		t.Fatalf("device write = %v, want %v", got, want)
	}
}

func TestSinkDecodesEncodedFrames(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkCodec(codec.PCMCodec{}),
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	pcm := frame.PCMFrame{0.5, -0.25}
	encoded, err := codec.PCMCodec{}.Encode(pcm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sink.HandleFrame(frame.Frame{Encoded: encoded}, nil)

	waitFor(t, time.Second, func() bool { return len(device.Writes()) == 1 },
		"frame never played")
	if got, want := device.Writes()[0], frame.Float32ToBytes(pcm); !bytes.Equal(got, want) {
		t.Fatalf("device write = %v, want %v", got, want)
	}
}

func TestSinkWithoutCodecDropsEncodedFrames(t *testing.T) {
	t.Parallel()

	device := &mock.PlaybackDevice{}
	sink := NewLineSink(device,
		WithSinkFormat(testFormat, testFrameDur),
	)
	defer sink.Stop()

	sink.HandleFrame(frame.Frame{Encoded: frame.EncodedFrame{1, 2, 3}}, nil)
	sink.HandleFrame(pcmFrame(0.5), nil)

	// The undecodable frame is dropped, the raw one still plays.
	waitFor(t, time.Second, func() bool { return len(device.Writes()) == 1 },
		"raw frame never played")
	if got, want := device.Writes()[0], frame.Float32ToBytes(frame.PCMFrame{0.5}); !bytes.Equal(got, want) {
		t.Fatalf("device write = %v, want %v", got, want)
	}
}
