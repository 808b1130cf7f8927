package sdpneg

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildOfferContainsRequiredLines(t *testing.T) {
	offer, err := BuildOffer(OfferParams{
		SessionID:        1,
		IceUfrag:         "ufrag123",
		IcePassword:      "pwd123456789012345678",
		Fingerprint:      "AB:CD:EF",
		Address:          net.ParseIP("192.0.2.10"),
		Port:             5000,
		VideoPayloadType: 96,
		VideoSPS:         []byte{0x67, 0x64, 0x00, 0x1f},
		VideoSSRC:        0xCAFEBABE,
		AudioPayloadType: 111,
		AudioClockRate:   48000,
		AudioSSRC:        0xDEADBEEF,
	})
	require.NoError(t, err)

	require.Contains(t, offer, "a=group:BUNDLE 0 1")
	require.Contains(t, offer, "a=ice-lite")
	require.Contains(t, offer, "a=extmap-allow-mixed")
	require.Contains(t, offer, "a=msid-semantic: WMS")
	require.Contains(t, offer, "a=setup:passive")
	require.Contains(t, offer, "a=fingerprint:sha-256 AB:CD:EF")
	require.Contains(t, offer, "a=ice-ufrag:ufrag123")
	require.Contains(t, offer, "a=ice-pwd:pwd123456789012345678")
	require.Contains(t, offer, "a=rtpmap:96 H264/90000")
	require.Contains(t, offer, "a=rtpmap:111 opus/48000/2")
	require.Contains(t, offer, "a=mid:0")
	require.Contains(t, offer, "a=mid:1")
	require.Contains(t, offer, "a=rtcp-rsize")
	require.Contains(t, offer, "a=ssrc:3405691582 cname:FFmpeg")
	require.Contains(t, offer, "a=ssrc:3405691582 msid:FFmpeg video")
	require.Contains(t, offer, "a=ssrc:3735928559 cname:FFmpeg")
	require.Contains(t, offer, "a=ssrc:3735928559 msid:FFmpeg audio")
	require.Contains(t, offer, "typ host")
	require.Contains(t, offer, "profile-level-id=")
	require.True(t, strings.Count(offer, "m=") == 2)
}

func TestProfileLevelIDClearsConstrainedBit(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x40, 0x1f} // constraint byte has 0x40 set
	id, err := ProfileLevelID(sps)
	require.NoError(t, err)
	require.Equal(t, "64001F", id[:6]) // 0x40 cleared -> 00; level 0x1f kept
}

func TestParseAnswerExtractsCredentialsAndCandidate(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 198.51.100.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE video0 audio0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 198.51.100.1\r\n" +
		"a=mid:video0\r\n" +
		"a=ice-ufrag:remoteufrag\r\n" +
		"a=ice-pwd:remotepwd0123456789012345\r\n" +
		"a=setup:active\r\n" +
		"a=candidate:1 1 udp 2130706431 198.51.100.1 54400 typ host\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 198.51.100.1\r\n" +
		"a=mid:audio0\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"

	info, err := ParseAnswer(raw)
	require.NoError(t, err)
	require.Equal(t, "remoteufrag", info.IceUfrag)
	require.Equal(t, "remotepwd0123456789012345", info.IcePassword)
	require.Equal(t, "198.51.100.1", info.Address)
	require.Equal(t, 54400, info.Port)
}

func TestParseAnswerRejectsOversizedBody(t *testing.T) {
	huge := strings.Repeat("a", MaxAnswerSize+1)
	_, err := ParseAnswer(huge)
	require.Error(t, err)
}

func TestParseAnswerRejectsMissingCandidate(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 198.51.100.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=ice-ufrag:remoteufrag\r\n" +
		"a=ice-pwd:remotepwd0123456789012345\r\n"

	_, err := ParseAnswer(raw)
	require.Error(t, err)
}
