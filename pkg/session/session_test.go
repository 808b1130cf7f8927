package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

func TestClassifyDatagram(t *testing.T) {
	require.Equal(t, kindSTUN, classifyDatagram([]byte{0x00, 0x01}))
	require.Equal(t, kindSTUN, classifyDatagram([]byte{0x03, 0xFF}))
	require.Equal(t, kindDTLS, classifyDatagram([]byte{0x14, 0x00}))
	require.Equal(t, kindDTLS, classifyDatagram([]byte{0x3F, 0x00}))
	require.Equal(t, kindRTPOrRTCP, classifyDatagram([]byte{0x80, 0x00}))
	require.Equal(t, kindUnknown, classifyDatagram(nil))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{ListenAddr: "127.0.0.1:0"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(t.Context()) })
	return s
}

func TestNewSessionStartsInInit(t *testing.T) {
	s := newTestSession(t)
	require.Equal(t, whiprtc.StateInit, s.State())
	require.NotEmpty(t, s.localUfrag)
	require.NotEmpty(t, s.localPwd)
	require.NotZero(t, s.LocalPort())
}

func TestSetStateIsMonotonicAndFailedIsTerminal(t *testing.T) {
	s := newTestSession(t)

	s.setState(whiprtc.StateOffer)
	require.Equal(t, whiprtc.StateOffer, s.State())

	s.setState(whiprtc.StateFailed)
	require.Equal(t, whiprtc.StateFailed, s.State())

	// Once failed, nothing can move the session anywhere else.
	s.setState(whiprtc.StateReady)
	require.Equal(t, whiprtc.StateFailed, s.State())
}
