// Package mock provides in-memory mock implementations of the
// [audiodevice.CaptureDevice] and [audiodevice.PlaybackDevice]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call
// so that tests can assert on call counts and arguments, and they
// expose exported fields that the test can set to control behaviour.
//
// Typical usage:
//
//	capture := &mock.CaptureDevice{}
//	capture.QueueFrames(frameA, frameB)
//	src := stream.NewLineSource(capture, codec.PCMCodec{})
package mock

import (
	"sync"
)

// --------------------------------------------------------------------------------
// CaptureDevice

// StartRecordingCall records the arguments of a single StartRecording invocation.
type StartRecordingCall struct {
	SampleRate      int
	NumChannels     int
	SamplesPerFrame int
}

// CaptureDevice is a mock implementation of [audiodevice.CaptureDevice].
// ReadAudio returns queued frames in order; once the queue is empty it
// reports "no data yet" (nil, nil) unless ReadError is set.
type CaptureDevice struct {
	mu sync.Mutex

	// StartError is returned by StartRecording.
	StartError error

	// ReadError, when set, is returned by every ReadAudio call once the
	// queued frames are exhausted.
	ReadError error

	// StopError is returned by StopRecording.
	StopError error

	// StartCalls records all StartRecording invocations.
	StartCalls []StartRecordingCall

	// CallCountRead records how many times ReadAudio was called.
	CallCountRead int

	// CallCountStop records how many times StopRecording was called.
	CallCountStop int

	frames [][]byte
}

// QueueFrames appends PCM byte frames for ReadAudio to hand out.
func (d *CaptureDevice) QueueFrames(frames ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frames...)
}

// StartRecording implements [audiodevice.CaptureDevice]. Records the call.
func (d *CaptureDevice) StartRecording(sampleRate, numChannels, samplesPerFrame int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCalls = append(d.StartCalls, StartRecordingCall{
		SampleRate:      sampleRate,
		NumChannels:     numChannels,
		SamplesPerFrame: samplesPerFrame,
	})
	return d.StartError
}

// ReadAudio implements [audiodevice.CaptureDevice]. Pops the next queued frame.
func (d *CaptureDevice) ReadAudio(samplesPerFrame int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountRead++
	if len(d.frames) == 0 {
		return nil, d.ReadError
	}
	f := d.frames[0]
	d.frames = d.frames[1:]
	return f, nil
}

// StopRecording implements [audiodevice.CaptureDevice]. Records the call.
func (d *CaptureDevice) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	return d.StopError
}

// Pending returns how many queued frames have not been read yet.
func (d *CaptureDevice) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// Starts returns a snapshot of all StartRecording invocations. Safe to
// call while the device is in use from another goroutine.
func (d *CaptureDevice) Starts() []StartRecordingCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]StartRecordingCall, len(d.StartCalls))
	copy(out, d.StartCalls)
	return out
}

// ReadCount returns how many times ReadAudio was called.
func (d *CaptureDevice) ReadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountRead
}

// StopCount returns how many times StopRecording was called.
func (d *CaptureDevice) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountStop
}

// --------------------------------------------------------------------------------
// PlaybackDevice

// StartPlaybackCall records the arguments of a single StartPlayback invocation.
type StartPlaybackCall struct {
	SampleRate  int
	NumChannels int
	LowLatency  bool
}

// PlaybackDevice is a mock implementation of [audiodevice.PlaybackDevice].
type PlaybackDevice struct {
	mu sync.Mutex

	// StartError is returned by StartPlayback.
	StartError error

	// WriteError is returned by WriteAudio.
	WriteError error

	// StopError is returned by StopPlayback.
	StopError error

	// StartCalls records all StartPlayback invocations.
	StartCalls []StartPlaybackCall

	// CallCountStop records how many times StopPlayback was called.
	CallCountStop int

	writes [][]byte
}

// StartPlayback implements [audiodevice.PlaybackDevice]. Records the call.
func (d *PlaybackDevice) StartPlayback(sampleRate, numChannels int, lowLatency bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCalls = append(d.StartCalls, StartPlaybackCall{
		SampleRate:  sampleRate,
		NumChannels: numChannels,
		LowLatency:  lowLatency,
	})
	return d.StartError
}

// WriteAudio implements [audiodevice.PlaybackDevice]. Stores a copy of pcm.
func (d *PlaybackDevice) WriteAudio(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteError != nil {
		return d.WriteError
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	d.writes = append(d.writes, cp)
	return nil
}

// StopPlayback implements [audiodevice.PlaybackDevice]. Records the call.
func (d *PlaybackDevice) StopPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	return d.StopError
}

// Starts returns a snapshot of all StartPlayback invocations. Safe to
// call while the device is in use from another goroutine.
func (d *PlaybackDevice) Starts() []StartPlaybackCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]StartPlaybackCall, len(d.StartCalls))
	copy(out, d.StartCalls)
	return out
}

// StopCount returns how many times StopPlayback was called.
func (d *PlaybackDevice) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountStop
}

// Writes returns a snapshot of every frame written so far.
func (d *PlaybackDevice) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	copy(out, d.writes)
	return out
}
