package device

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/google/uuid"
)

// lowLatencyBufferSize is the device buffer requested when the sink asks
// for the low-latency path. The oto default (platform dependent, around
// 50-100 ms) is kept otherwise.
const lowLatencyBufferSize = 10 * time.Millisecond

// OtoPlayback is a PlaybackDevice that plays through the default system
// output via the oto library.
//
// An oto context cannot be destroyed once created, so StopPlayback
// suspends it and a later StartPlayback at the same format resumes it.
type OtoPlayback struct {
	logger *slog.Logger
	uuid   uuid.UUID

	mu          sync.Mutex
	otoCtx      *oto.Context
	suspended   bool
	sampleRate  int
	numChannels int
}

// NewOtoPlayback creates a playback device bound to the default output.
// The device is not opened until StartPlayback.
func NewOtoPlayback() *OtoPlayback {
	id := uuid.New()
	return &OtoPlayback{
		logger: slog.Default().With("oto playback uuid", id),
		uuid:   id,
	}
}

// StartPlayback opens an oto context at the requested format and waits
// for the audio backend to become ready. Reopening after StopPlayback
// resumes the suspended context; the format must then match the one the
// context was created with.
func (d *OtoPlayback) StartPlayback(sampleRate, numChannels int, lowLatency bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.otoCtx != nil {
		if !d.suspended {
			return errors.New("oto playback already started")
		}
		if sampleRate != d.sampleRate || numChannels != d.numChannels {
			return fmt.Errorf("oto context is fixed at %d Hz / %d channels, cannot reopen at %d Hz / %d channels",
				d.sampleRate, d.numChannels, sampleRate, numChannels)
		}
		if err := d.otoCtx.Resume(); err != nil {
			return fmt.Errorf("oto resume: %w", err)
		}
		d.suspended = false
		d.logger.Debug("oto playback resumed")
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
	}
	if lowLatency {
		op.BufferSize = lowLatencyBufferSize
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("oto context: %w", err)
	}
	<-ready

	d.otoCtx = ctx
	d.sampleRate = sampleRate
	d.numChannels = numChannels
	d.logger.Debug(
		"oto playback started",
		"sampleRate", sampleRate,
		"channels", numChannels,
		"lowLatency", lowLatency,
	)
	return nil
}

// WriteAudio submits one PCM frame for playback. The write is
// asynchronous; oto drains the frame on its own mixer goroutine.
func (d *OtoPlayback) WriteAudio(pcm []byte) error {
	d.mu.Lock()
	ctx, suspended := d.otoCtx, d.suspended
	d.mu.Unlock()
	if ctx == nil || suspended {
		return errors.New("oto playback not started")
	}

	player := ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	return nil
}

// StopPlayback suspends the oto context. Safe to call repeatedly.
func (d *OtoPlayback) StopPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.otoCtx == nil || d.suspended {
		return nil
	}

	if err := d.otoCtx.Suspend(); err != nil {
		return fmt.Errorf("oto suspend: %w", err)
	}
	d.suspended = true
	d.logger.Debug("oto playback suspended")
	return nil
}
