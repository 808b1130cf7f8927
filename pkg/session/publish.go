package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/ethanmoon/whip-publish/pkg/dtlsengine"
	"github.com/ethanmoon/whip-publish/pkg/h264nal"
	"github.com/ethanmoon/whip-publish/pkg/rtpsend"
	"github.com/ethanmoon/whip-publish/pkg/sdpneg"
	"github.com/ethanmoon/whip-publish/pkg/srtpsession"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// Publish drives the session from Init to Ready: it builds and POSTs the
// SDP offer, sends STUN Binding Requests to the answer's candidate until
// a Binding Response or an inbound Binding Request confirms UDP
// connectivity, runs the DTLS-SRTP handshake, and builds the SRTP
// contexts and RTP muxers media writes need. The ICE check and DTLS
// handshake are bounded by cfg.HandshakeTimeout, measured from the
// moment the answer is parsed.
func (s *Session) Publish(ctx context.Context) error {
	const op = "session.Publish"

	ps, err := h264nal.ParseExtradata(s.cfg.VideoExtradata)
	if err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}
	if len(ps.SPS) == 0 && !ps.AnnexB {
		s.setState(whiprtc.StateFailed)
		return whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("no SPS available to derive profile-level-id"))
	}
	sps := ps.SPS
	if ps.AnnexB {
		nalus := h264nal.SplitAnnexB(s.cfg.VideoExtradata)
		for _, n := range nalus {
			if len(n) > 0 && h264nal.NALType(n[0]) == h264nal.NALUTypeSPS {
				sps = n
				break
			}
		}
	}

	s.videoSSRC = randomSSRC()
	s.audioSSRC = randomSSRC()

	offerSDP, err := sdpneg.BuildOffer(sdpneg.OfferParams{
		SessionID:        1,
		IceUfrag:         s.localUfrag,
		IcePassword:      s.localPwd,
		Fingerprint:      s.cert.Fingerprint,
		Address:          publicBindAddress(s.conn),
		Port:             s.LocalPort(),
		VideoPayloadType: s.cfg.VideoPayloadType,
		VideoSPS:         sps,
		VideoSSRC:        s.videoSSRC,
		AudioPayloadType: s.cfg.AudioPayloadType,
		AudioClockRate:   s.cfg.AudioClockRate,
		AudioSSRC:        s.audioSSRC,
	})
	if err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}
	s.setState(whiprtc.StateOffer)

	start := time.Now()
	result, err := s.whipClient.Publish(ctx, s.cfg.WhipEndpoint, offerSDP)
	if err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}
	s.recordPhase("whip_publish", time.Since(start))
	s.whipLocation = result.Location
	s.remoteUfrag = result.Answer.IceUfrag
	s.remotePwd = result.Answer.IcePassword
	candidateIP := net.ParseIP(result.Answer.Address)
	if candidateIP == nil {
		s.setState(whiprtc.StateFailed)
		return whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("answer candidate address %q is not an IP", result.Answer.Address))
	}
	s.remoteCandidate = &net.UDPAddr{IP: candidateIP, Port: result.Answer.Port}
	s.setState(whiprtc.StateAnswer)
	s.setState(whiprtc.StateNegotiated)

	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	s.wg.Add(1)
	go s.readLoop()

	s.setState(whiprtc.StateIceConnecting)
	if err := s.waitForICE(handshakeCtx); err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}

	km, err := s.runDTLS(handshakeCtx)
	if err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}
	s.setState(whiprtc.StateDTLSFinished)

	srtpSess, err := srtpsession.New(km)
	if err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}
	s.srtp = srtpSess
	s.setState(whiprtc.StateSRTPFinished)

	if err := s.buildMuxers(); err != nil {
		s.setState(whiprtc.StateFailed)
		return err
	}

	s.setState(whiprtc.StateReady)
	return nil
}

// waitForICE drives the ICE-lite connectivity check: it emits a Binding
// Request to the answer's host candidate, then retransmits on every tick
// until the demux loop observes either a Binding Response to our request
// or an inbound Binding Request from the peer (see handleSTUN), either of
// which confirms connectivity and learns the remote's send address.
func (s *Session) waitForICE(ctx context.Context) error {
	const op = "session.waitForICE"
	const retransmitInterval = 50 * time.Millisecond

	if err := s.sendBindingRequest(); err != nil {
		return err
	}

	ticker := time.NewTicker(retransmitInterval)
	defer ticker.Stop()

	for {
		if s.State().AtLeast(whiprtc.StateIceConnected) {
			return nil
		}
		select {
		case <-ctx.Done():
			return whiprtc.New(whiprtc.KindTimeout, op, ctx.Err())
		case <-ticker.C:
			if err := s.sendBindingRequest(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) runDTLS(ctx context.Context) (*dtlsengine.KeyingMaterial, error) {
	engine := dtlsengine.New(s.cert, udpSink{s}, func(state dtlsengine.State) {
		s.logger.Debug().Stringer("dtls_state", dtlsStateLogValue(state)).Msg("dtls handshake progress")
	})
	s.engine = engine
	return engine.Run(ctx)
}

// udpSink adapts the session's UDP socket to dtlsengine.Sink.
type udpSink struct{ s *Session }

func (u udpSink) WriteRecord(record []byte) error { return u.s.sendToRemote(record) }

type dtlsStateLogValue dtlsengine.State

func (v dtlsStateLogValue) String() string {
	switch dtlsengine.State(v) {
	case dtlsengine.StateHandshaking:
		return "handshaking"
	case dtlsengine.StateFinished:
		return "finished"
	case dtlsengine.StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s *Session) buildMuxers() error {
	videoMux, err := rtpsend.NewVideoMuxer(s.cfg.VideoPayloadType, s.videoSSRC, 90000, s.cfg.PktSize, s.cfg.VideoExtradata,
		s.srtp.EncryptVideoRTP, s.sendToRemote)
	if err != nil {
		return err
	}
	s.video = videoMux
	s.audio = rtpsend.NewAudioMuxer(s.cfg.AudioPayloadType, s.audioSSRC, s.cfg.AudioClockRate, s.cfg.PktSize,
		s.srtp.EncryptAudioRTP, s.sendToRemote)
	return nil
}

func (s *Session) sendToRemote(packet []byte) error {
	_, err := s.conn.WriteToUDP(packet, s.remoteAddr)
	return err
}

func publicBindAddress(conn *net.UDPConn) net.IP {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
		return addr.IP
	}
	return net.IPv4(0, 0, 0, 0)
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
