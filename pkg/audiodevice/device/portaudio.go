package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
)

// PortAudioCapture is a CaptureDevice that records from the default
// system microphone through PortAudio.
type PortAudioCapture struct {
	logger *slog.Logger
	uuid   uuid.UUID

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

// NewPortAudioCapture creates a capture device bound to the default
// input device. The stream is not opened until StartRecording.
func NewPortAudioCapture() *PortAudioCapture {
	id := uuid.New()
	return &PortAudioCapture{
		logger: slog.Default().With("portaudio capture uuid", id),
		uuid:   id,
	}
}

// StartRecording initialises PortAudio and opens the default input
// stream at the requested format.
func (d *PortAudioCapture) StartRecording(sampleRate, numChannels, samplesPerFrame int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return errors.New("portaudio capture already recording")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio initialize: %w", err)
	}

	d.buf = make([]int16, samplesPerFrame*numChannels)
	stream, err := portaudio.OpenDefaultStream(numChannels, 0, float64(sampleRate), samplesPerFrame, d.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio start input stream: %w", err)
	}

	d.stream = stream
	d.logger.Debug(
		"portaudio capture started",
		"sampleRate", sampleRate,
		"channels", numChannels,
		"samplesPerFrame", samplesPerFrame,
	)
	return nil
}

// ReadAudio blocks until PortAudio fills one buffer, then returns it as
// little-endian 16 bit PCM. An input overflow is reported as "no data
// yet" so the capture loop simply retries.
func (d *PortAudioCapture) ReadAudio(samplesPerFrame int) ([]byte, error) {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return nil, errors.New("portaudio capture not recording")
	}

	if err := stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			d.logger.Warn("input overflow detected")
			return nil, nil
		}
		return nil, fmt.Errorf("portaudio read: %w", err)
	}

	out := make([]byte, len(d.buf)*2)
	for i, s := range d.buf {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

// StopRecording closes the stream and tears PortAudio down. Safe to
// call repeatedly.
func (d *PortAudioCapture) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return nil
	}

	var errStop, errClose error
	errStop = d.stream.Stop()
	errClose = d.stream.Close()
	d.stream = nil
	portaudio.Terminate()

	d.logger.Debug("portaudio capture stopped")
	return errors.Join(errStop, errClose)
}
