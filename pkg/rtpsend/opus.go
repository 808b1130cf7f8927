package rtpsend

import (
	"github.com/pion/rtp/codecs"
)

// opusFrameSamples is the sample count of a 20ms Opus frame at the
// mandatory 48kHz clock rate: 48000 * 0.02.
const opusFrameSamples = 960

// AudioMuxer packetizes Opus frames into SRTP. Opus has no concept of
// fragmentation across RTP packets, so each call to WriteFrame produces
// exactly one RTP packet.
type AudioMuxer struct {
	muxer
	payloader codecs.OpusPayloader

	// FixedOpusTimestamps, when true, ignores the timestamp passed to
	// WriteFrame and instead synthesizes strictly incrementing
	// multiples of 960 samples. libopus-based sources are known to
	// jitter their own PTS by a sample or two per frame; FFmpeg's WHIP
	// muxer works around this the same way. Defaults to true.
	FixedOpusTimestamps bool

	frameCount uint32
}

// NewAudioMuxer constructs an AudioMuxer with FixedOpusTimestamps
// enabled.
func NewAudioMuxer(payloadType byte, ssrc uint32, clockRate uint32, pktSize int, encrypt EncryptFunc, send SendFunc) *AudioMuxer {
	return &AudioMuxer{
		muxer:               muxer{payloadType: payloadType, ssrc: ssrc, clockRate: clockRate, maxPayload: PktSizeToMaxPayload(pktSize), encrypt: encrypt, send: send},
		FixedOpusTimestamps: true,
	}
}

// WriteFrame packetizes one Opus frame.
func (m *AudioMuxer) WriteFrame(frame []byte, timestamp uint32) error {
	ts := timestamp
	if m.FixedOpusTimestamps {
		ts = m.frameCount * opusFrameSamples
		m.frameCount++
	}

	fragments := m.payloader.Payload(m.maxPayload, frame)
	return m.writeFragments(fragments, ts, true)
}
