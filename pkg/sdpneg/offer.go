// Package sdpneg builds the fixed-shape SDP offer this publisher sends
// to a WHIP endpoint and parses the endpoint's answer. The offer's line
// order and attribute set are dictated by what a passive-DTLS,
// ICE-lite, single-host-candidate publisher must advertise; pion/sdp/v3
// supplies the marshal/unmarshal machinery, not the content decisions.
package sdpneg

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// OfferParams carries everything BuildOffer needs to fill in the
// session's identity, transport address, and codec parameters.
type OfferParams struct {
	SessionID   uint64
	IceUfrag    string
	IcePassword string
	Fingerprint string // "XX:XX:...:XX", as produced by dtlsengine.Certificate
	Address     net.IP
	Port        int

	VideoPayloadType byte
	VideoSPS         []byte // first SPS NAL, header byte included
	VideoSSRC        uint32

	AudioPayloadType byte
	AudioClockRate   uint32
	AudioSSRC        uint32
}

const (
	videoClockRate = 90000
	candidateFoundation = "1"
	candidatePriority    = "2130706431" // highest host-candidate priority, single candidate
)

// BuildOffer renders the SDP offer as text. It always advertises exactly
// one BUNDLE group carrying one video and one audio m-section, one host
// UDP candidate per section, a=setup:passive (the remote endpoint drives
// the DTLS handshake as client), and the publisher's own ICE
// credentials and certificate fingerprint.
func BuildOffer(p OfferParams) (string, error) {
	const op = "sdpneg.BuildOffer"

	profileLevelID, err := ProfileLevelID(p.VideoSPS)
	if err != nil {
		return "", whiprtc.New(whiprtc.KindInvalidArgument, op, err)
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionID,
			NetworkType:    "IN",
			AddressType:    addressType(p.Address),
			UnicastAddress: p.Address.String(),
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("group", "BUNDLE 0 1"),
			sdp.NewAttribute("ice-lite", ""),
			sdp.NewAttribute("extmap-allow-mixed", ""),
			sdp.NewAttribute("msid-semantic", " WMS"),
		},
	}

	sd.MediaDescriptions = []*sdp.MediaDescription{
		audioMediaDescription(p),
		videoMediaDescription(p, profileLevelID),
	}

	raw, err := sd.Marshal()
	if err != nil {
		return "", whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("marshal: %w", err))
	}
	return string(raw), nil
}

func addressType(ip net.IP) string {
	if ip.To4() != nil {
		return "IP4"
	}
	return "IP6"
}

func commonICEAttributes(p OfferParams) []sdp.Attribute {
	candidate := fmt.Sprintf("%s 1 udp %s %s %d typ host",
		candidateFoundation, candidatePriority, p.Address.String(), p.Port)

	return []sdp.Attribute{
		sdp.NewAttribute("ice-ufrag", p.IceUfrag),
		sdp.NewAttribute("ice-pwd", p.IcePassword),
		sdp.NewAttribute("fingerprint", "sha-256 "+p.Fingerprint),
		sdp.NewAttribute("setup", "passive"),
		sdp.NewAttribute("candidate", candidate),
		sdp.NewAttribute("end-of-candidates", ""),
		sdp.NewAttribute("rtcp-mux", ""),
	}
}

func videoMediaDescription(p OfferParams, profileLevelID string) *sdp.MediaDescription {
	pt := fmt.Sprintf("%d", p.VideoPayloadType)
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{pt},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(p.Address),
			Address:     &sdp.Address{Address: p.Address.String()},
		},
		Attributes: append([]sdp.Attribute{
			sdp.NewAttribute("sendonly", ""),
			sdp.NewAttribute("mid", "1"),
			sdp.NewAttribute("rtpmap", pt+" H264/"+fmt.Sprintf("%d", videoClockRate)),
			sdp.NewAttribute("fmtp", pt+" level-asymmetry-allowed=1;packetization-mode=1;profile-level-id="+profileLevelID),
			sdp.NewAttribute("rtcp-rsize", ""),
			sdp.NewAttribute("ssrc", fmt.Sprintf("%d cname:FFmpeg", p.VideoSSRC)),
			sdp.NewAttribute("ssrc", fmt.Sprintf("%d msid:FFmpeg video", p.VideoSSRC)),
		}, commonICEAttributes(p)...),
	}
	return md
}

func audioMediaDescription(p OfferParams) *sdp.MediaDescription {
	pt := fmt.Sprintf("%d", p.AudioPayloadType)
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{pt},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(p.Address),
			Address:     &sdp.Address{Address: p.Address.String()},
		},
		Attributes: append([]sdp.Attribute{
			sdp.NewAttribute("sendonly", ""),
			sdp.NewAttribute("mid", "0"),
			sdp.NewAttribute("rtpmap", pt+" opus/48000/2"),
			sdp.NewAttribute("ssrc", fmt.Sprintf("%d cname:FFmpeg", p.AudioSSRC)),
			sdp.NewAttribute("ssrc", fmt.Sprintf("%d msid:FFmpeg audio", p.AudioSSRC)),
		}, commonICEAttributes(p)...),
	}
	return md
}

// ProfileLevelID derives the fmtp profile-level-id for sps: the three
// bytes profile_idc, constraint-flags, level_idc, with the
// constraint_set1_flag ("Constrained Baseline") bit cleared so a decoder
// isn't told this stream is more constrained than it actually is, then
// formatted as six uppercase hex digits.
func ProfileLevelID(sps []byte) (string, error) {
	if len(sps) < 4 {
		return "", fmt.Errorf("sdpneg: SPS too short to derive profile-level-id")
	}
	profileIDC := sps[1]
	constraintFlags := sps[2] &^ 0x40
	levelIDC := sps[3]
	return strings.ToUpper(fmt.Sprintf("%02x%02x%02x", profileIDC, constraintFlags, levelIDC)), nil
}
