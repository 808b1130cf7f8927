package rtpsend

import (
	"fmt"

	"github.com/pion/rtp/codecs"

	"github.com/ethanmoon/whip-publish/pkg/h264nal"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// VideoMuxer packetizes an H.264 access unit (one or more Annex-B NAL
// units belonging to the same frame) into SRTP, prefixing every keyframe
// with a synthesized STAP-A carrying SPS and PPS so a mid-stream WHIP
// subscriber can decode from the first IDR it sees.
type VideoMuxer struct {
	muxer
	payloader    codecs.H264Payloader
	ps           h264nal.ParameterSets
	annexBParams [][]byte
}

// NewVideoMuxer constructs a VideoMuxer from the stream's extradata,
// parsed once up front so every keyframe's STAP-A prefix reuses the same
// parameter sets. ssrc identifies this publisher's video stream to the
// receiving SRTP contexts.
func NewVideoMuxer(payloadType byte, ssrc uint32, clockRate uint32, pktSize int, extradata []byte, encrypt EncryptFunc, send SendFunc) (*VideoMuxer, error) {
	ps, err := h264nal.ParseExtradata(extradata)
	if err != nil {
		return nil, err
	}

	m := &VideoMuxer{
		muxer: muxer{payloadType: payloadType, ssrc: ssrc, clockRate: clockRate, maxPayload: PktSizeToMaxPayload(pktSize), encrypt: encrypt, send: send},
		ps:    ps,
	}
	if ps.AnnexB {
		m.annexBParams = h264nal.SplitAnnexB(extradata)
	}
	return m, nil
}

// WriteAccessUnit packetizes nalus (already split out of AVCC or
// Annex-B, start codes and length prefixes stripped) sharing timestamp.
// When keyframe is true, a STAP-A aggregating the stream's parameter
// sets is sent immediately before the access unit's own NAL units,
// inheriting the same timestamp.
func (m *VideoMuxer) WriteAccessUnit(nalus [][]byte, timestamp uint32, keyframe bool) error {
	const op = "rtpsend.VideoMuxer.WriteAccessUnit"
	if len(nalus) == 0 {
		return whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("empty access unit"))
	}

	if keyframe {
		stapa := m.parameterSetSTAPA()
		if stapa != nil {
			if err := m.writeFragments([][]byte{stapa}, timestamp, false); err != nil {
				return err
			}
		}
	}

	for i, nalu := range nalus {
		fragments := m.payloader.Payload(m.maxPayload, nalu)
		if err := m.writeFragments(fragments, timestamp, i == len(nalus)-1); err != nil {
			return err
		}
	}
	return nil
}

// parameterSetSTAPA builds the keyframe-prefix packet from whichever
// parameter sets this stream carries. For AVCC sources it aggregates the
// parsed SPS and PPS; for Annex-B sources it aggregates every NAL unit
// found in the raw extradata (normally exactly SPS and PPS).
func (m *VideoMuxer) parameterSetSTAPA() []byte {
	if m.ps.AnnexB {
		if len(m.annexBParams) == 0 {
			return nil
		}
		return buildSTAPA(m.annexBParams...)
	}
	if len(m.ps.SPS) == 0 || len(m.ps.PPS) == 0 {
		return nil
	}
	return buildSTAPA(m.ps.SPS, m.ps.PPS)
}
