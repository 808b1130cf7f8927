// Package rtpsend packetizes H.264 and Opus media into SRTP and hands the
// ciphertext to a sender. It wraps pion/rtp's codecs.H264Payloader and
// codecs.OpusPayloader as black-box payloaders, adding the keyframe
// parameter-set prefixing (RFC 6184 STAP-A) and the sequence/timestamp
// bookkeeping the teacher's pkg/bridge/bridge.go does by hand rather than
// through pion/rtp.Packetizer.
package rtpsend

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// EncryptFunc matches srtpsession.Session's per-stream Encrypt* methods:
// marshal-then-encrypt, returning ciphertext ready to send.
type EncryptFunc func(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error)

// SendFunc hands one ciphertext RTP packet to the transport (a UDP
// socket, in production; a recording buffer, in tests).
type SendFunc func(packet []byte) error

// DefaultPktSize is the outbound RTP MTU used when a caller doesn't pin
// one explicitly.
const DefaultPktSize = 1200

// srtpTagOverhead is the room PktSizeToMaxPayload reserves for the SRTP
// auth tag (10 bytes under AES128_CM_HMAC_SHA1_80), subtracted from the
// configured MTU to get the fragmentation budget handed to the payloader.
const srtpTagOverhead = 16

// SmallPktSizeThreshold is the floor below which PktSizeToMaxPayload's
// caller should log a warning rather than fail outright; pkt_size under
// this is unusual but not invalid.
const SmallPktSizeThreshold = 532

// PktSizeToMaxPayload converts the configured outbound RTP MTU into the
// fragmentation budget handed to a payloader, reserving room for the
// SRTP auth tag appended after encryption.
func PktSizeToMaxPayload(pktSize int) uint16 {
	max := pktSize - srtpTagOverhead
	if max < 0 {
		max = 0
	}
	return uint16(max)
}

type muxer struct {
	payloadType   byte
	ssrc          uint32
	clockRate     uint32
	seq           uint16
	maxPayload    uint16
	encrypt       EncryptFunc
	send          SendFunc
}

// writeFragments sends each fragment as one RTP packet. markerOnLast
// controls whether the final fragment's marker bit is set — true when
// this call packetizes the last NAL unit of an access unit, false for
// every NAL unit before it.
func (m *muxer) writeFragments(fragments [][]byte, timestamp uint32, markerOnLast bool) error {
	for i, fragment := range fragments {
		header := rtp.Header{
			Version:        2,
			PayloadType:    m.payloadType,
			SequenceNumber: m.seq,
			Timestamp:      timestamp,
			SSRC:           m.ssrc,
			Marker:         markerOnLast && i == len(fragments)-1,
		}
		plaintext, err := header.Marshal()
		if err != nil {
			return whiprtc.New(whiprtc.KindIO, "rtpsend.writeFragments", fmt.Errorf("marshal header: %w", err))
		}
		plaintext = append(plaintext, fragment...)

		ciphertext, err := m.encrypt(nil, plaintext, nil)
		if err != nil {
			return err
		}
		if err := m.send(ciphertext); err != nil {
			return whiprtc.New(whiprtc.KindIO, "rtpsend.writeFragments", fmt.Errorf("send: %w", err))
		}
		m.seq++
	}
	return nil
}
