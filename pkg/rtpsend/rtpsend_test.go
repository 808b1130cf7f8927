package rtpsend

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func noopEncrypt(dst []byte, plaintext []byte, header *rtp.Header) ([]byte, error) {
	return plaintext, nil
}

func TestBuildSTAPAPreservesBytesAndUsesFirstUnitNRI(t *testing.T) {
	sps := []byte{0x47, 0x01, 0x02} // NRI bits = 0x40
	pps := []byte{0x68, 0x03}       // NRI bits = 0x60, higher than sps's

	out := buildSTAPA(sps, pps)
	require.Equal(t, byte(0x40|24), out[0])

	// SPS length-prefixed at offset 1.
	spsLen := int(out[1])<<8 | int(out[2])
	require.Equal(t, len(sps), spsLen)
	require.Equal(t, sps, out[3:3+spsLen])

	ppsOffset := 3 + spsLen
	ppsLen := int(out[ppsOffset])<<8 | int(out[ppsOffset+1])
	require.Equal(t, len(pps), ppsLen)
	require.Equal(t, pps, out[ppsOffset+2:ppsOffset+2+ppsLen])
}

func buildAVCCExtradata() []byte {
	sps := []byte{0x67, 0x64, 0x00, 0x1f}
	pps := []byte{0x68, 0xeb, 0xe3, 0xcb}
	b := []byte{1, 0x64, 0x00, 0x1f, 0xfc | 3, 0xe0 | 1}
	b = append(b, byte(len(sps)>>8), byte(len(sps)))
	b = append(b, sps...)
	b = append(b, 1, byte(len(pps)>>8), byte(len(pps)))
	b = append(b, pps...)
	return b
}

func TestVideoMuxerPrefixesKeyframeWithSTAPA(t *testing.T) {
	var sent [][]byte
	send := func(packet []byte) error {
		sent = append(sent, append([]byte(nil), packet...))
		return nil
	}

	mux, err := NewVideoMuxer(96, 0xABCD, 90000, DefaultPktSize, buildAVCCExtradata(), noopEncrypt, send)
	require.NoError(t, err)

	idr := append([]byte{0x65}, make([]byte, 20)...)
	err = mux.WriteAccessUnit([][]byte{idr}, 1000, true)
	require.NoError(t, err)

	require.Len(t, sent, 2) // STAP-A, then the IDR slice.

	stapaHeader, err := parseHeader(sent[0])
	require.NoError(t, err)
	require.False(t, stapaHeader.Marker)
	require.Equal(t, uint16(0), stapaHeader.SequenceNumber)

	sliceHeader, err := parseHeader(sent[1])
	require.NoError(t, err)
	require.True(t, sliceHeader.Marker)
	require.Equal(t, uint16(1), sliceHeader.SequenceNumber)
	require.Equal(t, uint32(1000), sliceHeader.Timestamp)
}

func TestVideoMuxerSkipsSTAPAOnNonKeyframe(t *testing.T) {
	var sent [][]byte
	send := func(packet []byte) error {
		sent = append(sent, packet)
		return nil
	}

	mux, err := NewVideoMuxer(96, 1, 90000, DefaultPktSize, buildAVCCExtradata(), noopEncrypt, send)
	require.NoError(t, err)

	pframe := append([]byte{0x41}, make([]byte, 10)...)
	require.NoError(t, mux.WriteAccessUnit([][]byte{pframe}, 2000, false))
	require.Len(t, sent, 1)
}

func TestVideoMuxerSequenceNumbersIncreaseMonotonically(t *testing.T) {
	var headers []rtp.Header
	send := func(packet []byte) error {
		h, err := parseHeader(packet)
		if err != nil {
			return err
		}
		headers = append(headers, h)
		return nil
	}

	mux, err := NewVideoMuxer(96, 1, 90000, DefaultPktSize, buildAVCCExtradata(), noopEncrypt, send)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		frame := append([]byte{0x41}, make([]byte, 5)...)
		require.NoError(t, mux.WriteAccessUnit([][]byte{frame}, uint32(i*3000), false))
	}

	for i := 1; i < len(headers); i++ {
		require.Equal(t, headers[i-1].SequenceNumber+1, headers[i].SequenceNumber)
	}
}

func TestAudioMuxerFixedOpusTimestamps(t *testing.T) {
	var headers []rtp.Header
	send := func(packet []byte) error {
		h, err := parseHeader(packet)
		if err != nil {
			return err
		}
		headers = append(headers, h)
		return nil
	}

	mux := NewAudioMuxer(111, 1, 48000, DefaultPktSize, noopEncrypt, send)
	require.True(t, mux.FixedOpusTimestamps)

	for i := 0; i < 3; i++ {
		require.NoError(t, mux.WriteFrame([]byte{0x01, 0x02}, uint32(i*777))) // jittery source timestamp, ignored
	}

	require.Equal(t, []uint32{0, 960, 1920}, []uint32{headers[0].Timestamp, headers[1].Timestamp, headers[2].Timestamp})
}

func TestPktSizeToMaxPayloadReservesSRTPTag(t *testing.T) {
	require.Equal(t, uint16(1184), PktSizeToMaxPayload(1200))
	require.Equal(t, uint16(516), PktSizeToMaxPayload(532))
}

func parseHeader(packet []byte) (rtp.Header, error) {
	var h rtp.Header
	_, err := h.Unmarshal(packet)
	return h, err
}
