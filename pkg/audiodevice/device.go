// Package audiodevice defines the hardware collaborator contracts
// consumed by the stream engine: a capture device that a LineSource
// pulls raw PCM from, and a playback device that a LineSink pushes
// decoded PCM into.
//
// Concrete implementations live in the device subpackage (portaudio
// microphone capture, oto speaker playback, wav file devices); the
// mock subpackage provides scriptable in-memory devices for tests.
package audiodevice

// DeviceProperties describes the stream format of an audio device.
type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// CaptureDevice is a microphone-like device. A LineSource holds
// exclusive ownership of its CaptureDevice while running and releases
// it via StopRecording unconditionally, even when the capture loop
// exits on an error.
type CaptureDevice interface {
	// StartRecording opens the device for capture at the given format.
	// Failure here is fatal for the owning source's Start.
	StartRecording(sampleRate, numChannels, samplesPerFrame int) error

	// ReadAudio returns one frame of little-endian 16 bit PCM, already
	// filtered by the device layer. A nil slice with a nil error means
	// no data is available yet — the caller should pause and retry.
	ReadAudio(samplesPerFrame int) ([]byte, error)

	// StopRecording releases the device. It must be safe to call after
	// a failed StartRecording and more than once.
	StopRecording() error
}

// PlaybackDevice is a speaker-like device, the mirror of CaptureDevice.
type PlaybackDevice interface {
	// StartPlayback opens the device for playback at the given format.
	// When lowLatency is set the device should request its platform's
	// low-latency path, if one exists.
	StartPlayback(sampleRate, numChannels int, lowLatency bool) error

	// WriteAudio submits one frame of little-endian 16 bit PCM.
	WriteAudio(pcm []byte) error

	// StopPlayback releases the device. Same guarantees as StopRecording.
	StopPlayback() error
}
