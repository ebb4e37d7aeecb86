package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------
// FileCapture

// FileCapture is a CaptureDevice that reads frames out of a .WAV file.
// Useful for tests, the fileloopback example, and injecting recorded
// audio into a call without any audio hardware.
//
// In realtime mode ReadAudio paces frames at the wall-clock rate a
// microphone would produce them; otherwise frames are returned as fast
// as the caller asks. Once the file is exhausted ReadAudio reports
// "no data yet" forever, which lets the downstream sink run into its
// underrun timeout and stop cleanly.
type FileCapture struct {
	logger *slog.Logger
	uuid   uuid.UUID

	path     string
	realtime bool

	mu         sync.Mutex
	data       []int
	sampleRate int
	channels   int
	pos        int
	frameDur   time.Duration
	nextDue    time.Time
	started    bool
}

// NewFileCapture creates a capture device over the .WAV file at
// audioFilePath. The file is opened and decoded on StartRecording.
func NewFileCapture(audioFilePath string, realtime bool) *FileCapture {
	id := uuid.New()
	return &FileCapture{
		logger:   slog.Default().With("file capture uuid", id),
		uuid:     id,
		path:     audioFilePath,
		realtime: realtime,
	}
}

// StartRecording decodes the file into memory. The requested format
// must match the file's own sample rate and channel count; a file
// device cannot resample.
func (d *FileCapture) StartRecording(sampleRate, numChannels, samplesPerFrame int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("file capture already recording")
	}

	f, err := os.Open(d.path)
	if err != nil {
		d.logger.Error("could not open audio file", "audioFile", d.path, "err", err)
		return err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		d.logger.Error("could not decode audio file", "audioFile", d.path, "err", decoder.Err())
		return errors.New("error while decoding audio file")
	}

	if int(decoder.SampleRate) != sampleRate || int(decoder.NumChans) != numChannels {
		return fmt.Errorf("file is %d Hz / %d channels, requested %d Hz / %d channels",
			decoder.SampleRate, decoder.NumChans, sampleRate, numChannels)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		d.logger.Error("could not get full PCM buffer from audio file", "err", err)
		return err
	}

	d.data = buf.Data
	d.sampleRate = sampleRate
	d.channels = numChannels
	d.pos = 0
	d.frameDur = time.Duration(samplesPerFrame) * time.Second / time.Duration(sampleRate)
	d.nextDue = time.Now()
	d.started = true

	d.logger.Debug(
		"loaded audio file",
		"audioFile", d.path,
		"sampleRate", sampleRate,
		"channels", numChannels,
		"totalSamples", len(d.data),
	)
	return nil
}

// ReadAudio returns the next frame of the file as 16 bit PCM bytes, or
// nil when pacing says the frame is not due yet or the file has ended.
func (d *FileCapture) ReadAudio(samplesPerFrame int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil, errors.New("file capture not recording")
	}
	if d.pos >= len(d.data) {
		return nil, nil
	}
	if d.realtime {
		if time.Now().Before(d.nextDue) {
			return nil, nil
		}
		d.nextDue = d.nextDue.Add(d.frameDur)
	}

	want := samplesPerFrame * d.channels
	end := min(d.pos+want, len(d.data))
	out := make([]byte, (end-d.pos)*2)
	for i, sample := range d.data[d.pos:end] {
		s := int16(sample)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	d.pos = end
	return out, nil
}

// Exhausted reports whether the whole file has been read out.
func (d *FileCapture) Exhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started && d.pos >= len(d.data)
}

// StopRecording drops the decoded buffer. Safe to call repeatedly.
func (d *FileCapture) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = nil
	d.started = false
	return nil
}

// --------------------------------------------------------------------------------
// FilePlayback

// FilePlayback is a PlaybackDevice that records incoming frames to a
// .WAV file. The file is only valid after StopPlayback has run; besides
// testing, this is how a call leg gets recorded.
type FilePlayback struct {
	logger *slog.Logger
	uuid   uuid.UUID

	path string

	mu         sync.Mutex
	fileHandle *os.File
	encoder    *wav.Encoder
	bufFormat  *goaudio.Format
}

// NewFilePlayback creates a playback device that writes to a .WAV file
// at audioFilePath. The file is created on StartPlayback.
func NewFilePlayback(audioFilePath string) *FilePlayback {
	id := uuid.New()
	return &FilePlayback{
		logger: slog.Default().With("file playback uuid", id),
		uuid:   id,
		path:   audioFilePath,
	}
}

// StartPlayback creates the output file and its wav encoder. The
// lowLatency flag is meaningless for a file and ignored.
func (d *FilePlayback) StartPlayback(sampleRate, numChannels int, lowLatency bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder != nil {
		return errors.New("file playback already started")
	}

	f, err := os.Create(d.path)
	if err != nil {
		d.logger.Error("could not create audio file", "audioFile", d.path, "err", err)
		return err
	}

	d.fileHandle = f
	d.encoder = wav.NewEncoder(f, sampleRate, 16, numChannels, 1)
	d.bufFormat = &goaudio.Format{
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}

	d.logger.Debug(
		"file playback started",
		"audioFile", d.path,
		"sampleRate", sampleRate,
		"channels", numChannels,
	)
	return nil
}

// WriteAudio appends one frame of 16 bit PCM to the file.
func (d *FilePlayback) WriteAudio(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return errors.New("file playback not started")
	}

	buf := &goaudio.IntBuffer{
		Format:         d.bufFormat,
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	return d.encoder.Write(buf)
}

// StopPlayback finalises the wav header and closes the file. Safe to
// call repeatedly.
func (d *FilePlayback) StopPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return nil
	}

	errEnc := d.encoder.Close()
	errSync := d.fileHandle.Sync()
	errClose := d.fileHandle.Close()
	d.encoder = nil
	d.fileHandle = nil

	d.logger.Debug("file playback closed", "audioFile", d.path)
	return errors.Join(errEnc, errSync, errClose)
}
