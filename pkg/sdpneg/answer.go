package sdpneg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// MaxAnswerSize bounds how much of a WHIP endpoint's answer body this
// package will parse, guarding against a misbehaving or malicious server
// streaming an unbounded response.
const MaxAnswerSize = 8192

// AnswerInfo is everything the session orchestrator needs out of a WHIP
// answer to start its ICE-lite connectivity check: the endpoint's ICE
// credentials and its one host candidate's address.
type AnswerInfo struct {
	IceUfrag    string
	IcePassword string
	Address     string
	Port        int
}

// ParseAnswer extracts IceUfrag, IcePassword and the first UDP host
// candidate from raw, an SDP answer body. Only the first ice-ufrag,
// ice-pwd and candidate lines found (session-level or first
// m-section's) are used; per §4.8 this publisher only ever offers one
// bundled transport, so a compliant answer carries identical credentials
// in every m-section.
func ParseAnswer(raw string) (AnswerInfo, error) {
	const op = "sdpneg.ParseAnswer"
	if len(raw) > MaxAnswerSize {
		return AnswerInfo{}, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("answer exceeds %d bytes", MaxAnswerSize))
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return AnswerInfo{}, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("unmarshal: %w", err))
	}

	info := AnswerInfo{}

	for _, a := range sd.Attributes {
		applyAttribute(&info, a)
	}
	for _, md := range sd.MediaDescriptions {
		for _, a := range md.Attributes {
			applyAttribute(&info, a)
		}
		if info.Address != "" {
			break
		}
	}

	if info.IceUfrag == "" || info.IcePassword == "" {
		return AnswerInfo{}, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("answer is missing ice-ufrag/ice-pwd"))
	}
	if info.Address == "" {
		return AnswerInfo{}, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("answer carries no usable UDP host candidate"))
	}

	return info, nil
}

func applyAttribute(info *AnswerInfo, a sdp.Attribute) {
	switch a.Key {
	case "ice-ufrag":
		if info.IceUfrag == "" {
			info.IceUfrag = a.Value
		}
	case "ice-pwd":
		if info.IcePassword == "" {
			info.IcePassword = a.Value
		}
	case "candidate":
		if info.Address == "" {
			if addr, port, ok := parseHostCandidate(a.Value); ok {
				info.Address = addr
				info.Port = port
			}
		}
	}
}

// parseHostCandidate parses an ICE candidate attribute value of the form
// "<foundation> <component> udp <priority> <address> <port> typ host ..."
// per RFC 5245 §15.1, accepting only UDP host candidates.
func parseHostCandidate(value string) (address string, port int, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 8 {
		return "", 0, false
	}
	if !strings.EqualFold(fields[2], "udp") {
		return "", 0, false
	}
	if fields[6] != "typ" || fields[7] != "host" {
		return "", 0, false
	}
	p, err := strconv.Atoi(fields[5])
	if err != nil {
		return "", 0, false
	}
	return fields[4], p, true
}
