package session

import (
	"fmt"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// WriteVideoAccessUnit packetizes and sends one H.264 access unit. It
// refuses to write before the session reaches Ready, since no SRTP
// context exists yet to protect the packet.
func (s *Session) WriteVideoAccessUnit(nalus [][]byte, timestamp uint32, keyframe bool) error {
	const op = "session.WriteVideoAccessUnit"
	if !s.State().AtLeast(whiprtc.StateReady) {
		return whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("session not ready (state=%s)", s.State()))
	}
	return s.video.WriteAccessUnit(nalus, timestamp, keyframe)
}

// WriteAudioFrame packetizes and sends one Opus frame.
func (s *Session) WriteAudioFrame(frame []byte, timestamp uint32) error {
	const op = "session.WriteAudioFrame"
	if !s.State().AtLeast(whiprtc.StateReady) {
		return whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("session not ready (state=%s)", s.State()))
	}
	return s.audio.WriteFrame(frame, timestamp)
}
