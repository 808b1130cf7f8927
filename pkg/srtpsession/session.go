// Package srtpsession builds the four independent SRTP/SRTCP encryption
// contexts a WHIP publish session needs from one DTLS-SRTP key export.
// Audio, video and RTCP each get their own pion/srtp/v3 Context sharing
// identical key material but independent sequence/ROC state, because
// SRTP's replay window and rollover counter are per-context, not
// per-key.
package srtpsession

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"

	"github.com/ethanmoon/whip-publish/pkg/dtlsengine"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

const profile = srtp.ProtectionProfileAes128CmHmacSha1_80

// Session owns the send-side audio/video/RTCP contexts plus the single
// receive-side context used for inbound RTCP feedback (PLI, REMB, RR).
type Session struct {
	audioSend *srtp.Context
	videoSend *srtp.Context
	rtcpSend  *srtp.Context
	recv      *srtp.Context
}

// New derives all four contexts from km. The server (local) key/salt
// protects everything this publisher sends; the client (remote) key/salt
// protects the one direction it receives, RTCP feedback from the WHIP
// endpoint's media server.
func New(km *dtlsengine.KeyingMaterial) (*Session, error) {
	const op = "srtpsession.New"

	audioSend, err := srtp.CreateContext(km.ServerMasterKey, km.ServerMasterSalt, profile)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("audio_send context: %w", err))
	}
	videoSend, err := srtp.CreateContext(km.ServerMasterKey, km.ServerMasterSalt, profile)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("video_send context: %w", err))
	}
	rtcpSend, err := srtp.CreateContext(km.ServerMasterKey, km.ServerMasterSalt, profile)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("rtcp_send context: %w", err))
	}
	recv, err := srtp.CreateContext(km.ClientMasterKey, km.ClientMasterSalt, profile)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("recv context: %w", err))
	}

	return &Session{audioSend: audioSend, videoSend: videoSend, rtcpSend: rtcpSend, recv: recv}, nil
}

// EncryptAudioRTP encrypts one plaintext RTP packet using the audio_send
// context, appending an authentication tag.
func (s *Session) EncryptAudioRTP(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	out, err := s.audioSend.EncryptRTP(dst, plaintext, header)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, "srtpsession.EncryptAudioRTP", err)
	}
	return out, nil
}

// EncryptVideoRTP encrypts one plaintext RTP packet using the video_send
// context.
func (s *Session) EncryptVideoRTP(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	out, err := s.videoSend.EncryptRTP(dst, plaintext, header)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, "srtpsession.EncryptVideoRTP", err)
	}
	return out, nil
}

// EncryptRTCP encrypts one outbound SRTCP compound packet (sender
// reports, if this publisher ever emits them) using the rtcp_send
// context.
func (s *Session) EncryptRTCP(dst, decrypted []byte, header *rtcp.Header) ([]byte, error) {
	out, err := s.rtcpSend.EncryptRTCP(dst, decrypted, header)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, "srtpsession.EncryptRTCP", err)
	}
	return out, nil
}

// DecryptRTCP decrypts one inbound SRTCP compound packet (PLI, FIR,
// REMB, RR) using the recv context.
func (s *Session) DecryptRTCP(dst, encrypted []byte, header *rtcp.Header) ([]byte, error) {
	out, err := s.recv.DecryptRTCP(dst, encrypted, header)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, "srtpsession.DecryptRTCP", err)
	}
	return out, nil
}
