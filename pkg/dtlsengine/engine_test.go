package dtlsengine

import (
	"context"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/stretchr/testify/require"
)

func TestGenerateCertificateFingerprintFormat(t *testing.T) {
	cert, err := GenerateCertificate("ffmpeg.org")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`), cert.Fingerprint)
}

// pipeSink forwards server-written DTLS records across a net.Pipe to
// whatever is reading the other end, modeling the UDP socket a real
// session would send through.
type pipeSink struct{ conn net.Conn }

func (s *pipeSink) WriteRecord(record []byte) error {
	_, err := s.conn.Write(record)
	return err
}

// TestHandshakeEndToEnd drives a real pion/dtls/v3 client against the
// Engine's server handshake over an in-memory net.Pipe, exercising the
// Sink/Feed bridge exactly as the session's UDP demux loop would.
func TestHandshakeEndToEnd(t *testing.T) {
	cert, err := GenerateCertificate("ffmpeg.org")
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()

	var states []State
	engine := New(cert, &pipeSink{conn: serverSide}, func(s State) {
		states = append(states, s)
	})

	// Feed everything the client writes into the engine.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := serverSide.Read(buf)
			if err != nil {
				return
			}
			engine.Feed(buf[:n])
		}
	}()

	clientConfig := &dtls.Config{
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
	}

	type clientResult struct {
		km  []byte
		err error
	}
	clientDone := make(chan clientResult, 1)
	go func() {
		conn, err := dtls.Client(clientSide, clientConfig)
		if err != nil {
			clientDone <- clientResult{nil, err}
			return
		}
		km, err := conn.ExportKeyingMaterial(exporterLabel, nil, exporterMaterialLen)
		clientDone <- clientResult{km, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverKM, err := engine.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, serverKM)

	cr := <-clientDone
	require.NoError(t, cr.err)

	require.Equal(t, cr.km[0:16], serverKM.ClientMasterKey)
	require.Equal(t, cr.km[16:32], serverKM.ServerMasterKey)
	require.Equal(t, cr.km[32:46], serverKM.ClientMasterSalt)
	require.Equal(t, cr.km[46:60], serverKM.ServerMasterSalt)

	require.Contains(t, states, StateHandshaking)
	require.Contains(t, states, StateFinished)
	require.NotContains(t, states, StateFailed)

	require.Greater(t, engine.RecordWrites(), int64(0))

	_ = engine.Close()
}
