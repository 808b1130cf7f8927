package session

import (
	"net"

	"github.com/pion/rtcp"

	"github.com/ethanmoon/whip-publish/pkg/stunmsg"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

const demuxBufferSize = 2048

// classifyDatagram reports which of STUN, DTLS, or RTP/RTCP a UDP
// datagram's leading byte identifies it as. STUN messages' two most
// significant bits are always 0, giving a leading byte of 0x00-0x03;
// DTLS record content types occupy 20-63 (0x14-0x3F); everything else is
// SRTP/SRTCP, whose version bits (0b10......) put the leading byte at
// 128 or above.
func classifyDatagram(b []byte) datagramKind {
	if len(b) == 0 {
		return kindUnknown
	}
	switch {
	case b[0] <= 0x03:
		return kindSTUN
	case b[0] >= 0x14 && b[0] <= 0x3F:
		return kindDTLS
	default:
		return kindRTPOrRTCP
	}
}

type datagramKind int

const (
	kindUnknown datagramKind = iota
	kindSTUN
	kindDTLS
	kindRTPOrRTCP
)

// readLoop is the session's single UDP-reading goroutine: every inbound
// datagram is classified and dispatched, whether that means answering a
// STUN Binding Request directly, feeding a DTLS record to the handshake
// engine, or decrypting an SRTCP feedback packet.
func (s *Session) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, demuxBufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn().Err(err).Msg("udp read failed")
				return
			}
		}
		datagram := buf[:n]

		switch classifyDatagram(datagram) {
		case kindSTUN:
			s.handleSTUN(datagram, addr)
		case kindDTLS:
			if s.engine != nil {
				s.engine.Feed(datagram)
			}
		case kindRTPOrRTCP:
			s.handleRTCP(datagram)
		}
	}
}

func (s *Session) handleSTUN(datagram []byte, addr *net.UDPAddr) {
	switch stunmsg.Classify(datagram) {
	case stunmsg.ClassBindingRequest:
		s.handleBindingRequest(datagram, addr)
	case stunmsg.ClassBindingResponse:
		s.handleBindingResponse(addr)
	}
}

// handleBindingRequest answers an inbound Binding Request (the peer
// probing us) and, as a side effect of the first one received, learns
// the peer's send address and confirms connectivity.
func (s *Session) handleBindingRequest(datagram []byte, addr *net.UDPAddr) {
	tid := stunmsg.TransactionID(datagram)
	if tid == nil {
		return
	}

	if s.remoteAddr == nil {
		s.remoteAddr = addr
		if !s.State().AtLeast(whiprtc.StateUDPConnected) {
			s.setState(whiprtc.StateUDPConnected)
		}
	}

	response := stunmsg.BuildBindingResponse(tid, s.localPwd)
	if _, err := s.conn.WriteToUDP(response, addr); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write stun binding response")
		return
	}

	if s.State() == whiprtc.StateUDPConnected || s.State() == whiprtc.StateIceConnecting {
		s.setState(whiprtc.StateIceConnected)
	}
}

// handleBindingResponse processes a reply to the Binding Request we sent
// in waitForICE, confirming connectivity on our side of the check.
func (s *Session) handleBindingResponse(addr *net.UDPAddr) {
	if s.remoteAddr == nil {
		s.remoteAddr = addr
		if !s.State().AtLeast(whiprtc.StateUDPConnected) {
			s.setState(whiprtc.StateUDPConnected)
		}
	}

	if s.State() == whiprtc.StateUDPConnected || s.State() == whiprtc.StateIceConnecting {
		s.setState(whiprtc.StateIceConnected)
	}
}

// sendBindingRequest emits one STUN Binding Request to the answer's host
// candidate, authenticated with the credentials exchanged in the SDP
// offer/answer.
func (s *Session) sendBindingRequest() error {
	wire, _ := stunmsg.BuildBindingRequest(s.remoteUfrag, s.localUfrag, s.remotePwd)
	if _, err := s.conn.WriteToUDP(wire, s.remoteCandidate); err != nil {
		return whiprtc.New(whiprtc.KindIO, "session.sendBindingRequest", err)
	}
	return nil
}

// handleRTCP decrypts an inbound SRTCP compound packet carrying
// publisher feedback (PLI, FIR, REMB, receiver reports). A decode
// failure is not fatal to the session; it just means this one feedback
// packet is dropped.
func (s *Session) handleRTCP(ciphertext []byte) {
	if s.srtp == nil {
		return
	}
	plaintext, err := s.srtp.DecryptRTCP(nil, ciphertext, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping undecryptable rtcp packet")
		return
	}
	packets, err := rtcp.Unmarshal(plaintext)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping unparseable rtcp packet")
		return
	}
	for _, p := range packets {
		if _, ok := p.(*rtcp.PictureLossIndication); ok {
			s.logger.Debug().Msg("received PLI, next keyframe will be prefixed with parameter sets")
		}
	}
}
