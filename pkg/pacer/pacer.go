// Package pacer smooths a prerecorded media source's packet delivery to
// the WHIP session. Reading straight off disk delivers access units in
// bursts far faster than their RTP clock; Pacer buffers each track in a
// small leaky bucket and restores real-time spacing from the RTP
// timestamp delta, the way the teacher's pkg/bridge pacer smooths RTSP
// bursts before they reach the WebRTC track.
package pacer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// catchupThreshold is the queue depth at which a track switches to
	// draining faster than real time to burn down a backlog.
	catchupThreshold = 5

	// catchupSpeedMultiplier is how much faster than real time a track
	// drains once catchupThreshold is hit.
	catchupSpeedMultiplier = 1.1

	// maxPacketDelay caps the computed delay so a timestamp
	// discontinuity in the source can't stall the pacer indefinitely.
	maxPacketDelay = 200 * time.Millisecond

	queueDepth = 10
)

// Unit is one access unit or frame queued for paced delivery.
type Unit struct {
	Timestamp uint32
	Keyframe  bool
	Payload   [][]byte
}

// WriteFunc delivers one paced Unit to the session.
type WriteFunc func(payload [][]byte, timestamp uint32, keyframe bool) error

// track runs one leaky bucket for one media type (video or audio), each
// with its own clock rate since video and audio timestamps advance on
// different clocks.
type track struct {
	name      string
	clockRate uint32
	write     WriteFunc
	logger    zerolog.Logger

	queue chan Unit

	started bool
	lastTS  uint32
	lastAt  time.Time

	catchupEvents uint64
}

// Pacer runs one track per media type, each pacing independently so a
// stalled video track never blocks audio delivery or vice versa.
type Pacer struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	video *track
	audio *track
}

// New constructs a Pacer. videoClockRate/audioClockRate are the RTP
// clock rates (typically 90000 and 48000) used to convert a timestamp
// delta into a wall-clock delay.
func New(ctx context.Context, logger zerolog.Logger, videoClockRate, audioClockRate uint32, writeVideo, writeAudio WriteFunc) *Pacer {
	ctx, cancel := context.WithCancel(ctx)
	return &Pacer{
		ctx:    ctx,
		cancel: cancel,
		video:  newTrack("video", videoClockRate, writeVideo, logger),
		audio:  newTrack("audio", audioClockRate, writeAudio, logger),
	}
}

func newTrack(name string, clockRate uint32, write WriteFunc, logger zerolog.Logger) *track {
	return &track{
		name:      name,
		clockRate: clockRate,
		write:     write,
		logger:    logger.With().Str("track", name).Logger(),
		queue:     make(chan Unit, queueDepth),
	}
}

// Start launches the per-track pacing goroutines.
func (p *Pacer) Start() {
	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.video.run(p.ctx) }()
	go func() { defer p.wg.Done(); p.audio.run(p.ctx) }()
}

// Stop cancels both tracks and waits for their goroutines to exit.
func (p *Pacer) Stop() {
	p.cancel()
	p.wg.Wait()
}

// EnqueueVideo queues one access unit, blocking if the bucket is full.
func (p *Pacer) EnqueueVideo(u Unit) error { return p.video.enqueue(p.ctx, u) }

// EnqueueAudio queues one frame, blocking if the bucket is full.
func (p *Pacer) EnqueueAudio(u Unit) error { return p.audio.enqueue(p.ctx, u) }

func (t *track) enqueue(ctx context.Context, u Unit) error {
	select {
	case t.queue <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		t.logger.Warn().Int("queue_depth", len(t.queue)).Msg("source burst absorbed, applying backpressure")
		select {
		case t.queue <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *track) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-t.queue:
			if err := t.pace(ctx, u); err != nil {
				t.logger.Error().Err(err).Uint32("timestamp", u.Timestamp).Msg("failed to deliver paced unit")
			}
		}
	}
}

func (t *track) pace(ctx context.Context, u Unit) error {
	if !t.started {
		t.started = true
		t.lastTS = u.Timestamp
		t.lastAt = time.Now()
		return t.write(u.Payload, u.Timestamp, u.Keyframe)
	}

	delay := t.delayFor(u.Timestamp)

	if depth := len(t.queue); depth >= catchupThreshold {
		delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
		t.catchupEvents++
		if t.catchupEvents%10 == 1 {
			t.logger.Info().Int("queue_depth", depth).Uint64("catchup_events", t.catchupEvents).Msg("catch-up mode active")
		}
	}
	if delay > maxPacketDelay {
		delay = maxPacketDelay
	}
	if delay < 0 {
		delay = 0
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.lastTS = u.Timestamp
	t.lastAt = time.Now()
	if err := t.write(u.Payload, u.Timestamp, u.Keyframe); err != nil {
		return fmt.Errorf("write %s unit: %w", t.name, err)
	}
	return nil
}

func (t *track) delayFor(timestamp uint32) time.Duration {
	deltaTS := int64(timestamp) - int64(t.lastTS)
	wallDelta := time.Duration(deltaTS) * time.Second / time.Duration(t.clockRate)
	elapsed := time.Since(t.lastAt)
	return wallDelta - elapsed
}
