// Package session orchestrates one WHIP publish session end to end: it
// owns the UDP socket, runs the ICE-lite connectivity check, drives the
// DTLS-SRTP handshake, and gates RTP sending on the session's state
// machine reaching Ready. Its shape — a struct with a cancellable
// context, a WaitGroup for background goroutines, and atomic counters —
// follows the teacher's pkg/relay/relay.go CameraRelay.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ethanmoon/whip-publish/pkg/dtlsengine"
	"github.com/ethanmoon/whip-publish/pkg/rtpsend"
	"github.com/ethanmoon/whip-publish/pkg/srtpsession"
	"github.com/ethanmoon/whip-publish/pkg/whip"
	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// Config configures one publish session.
type Config struct {
	// ListenAddr is the local UDP address to bind, e.g. "0.0.0.0:0" to
	// let the kernel pick an ephemeral port.
	ListenAddr string

	WhipEndpoint string
	BearerToken  string

	VideoExtradata   []byte
	VideoPayloadType byte
	AudioPayloadType byte
	AudioClockRate   uint32

	// PktSize is the outbound RTP MTU; the RTP muxers fragment to
	// PktSize-16 to leave room for the SRTP auth tag. Values under
	// rtpsend.SmallPktSizeThreshold are accepted but logged.
	PktSize int

	// HandshakeTimeout bounds ICE connectivity plus the DTLS handshake,
	// measured from the moment the WHIP answer is parsed.
	HandshakeTimeout time.Duration

	CertCommonName string
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.CertCommonName == "" {
		c.CertCommonName = "ffmpeg.org"
	}
	if c.AudioClockRate == 0 {
		c.AudioClockRate = 48000
	}
	if c.PktSize == 0 {
		c.PktSize = rtpsend.DefaultPktSize
	}
}

// Stats exposes the orchestrator's internal counters for diagnostics.
type Stats struct {
	// DTLSRetransmits holds dtlsengine.Engine.RecordWrites: every DTLS
	// handshake write, first sends included. Retransmissions are not
	// counted separately.
	DTLSRetransmits int64
	PhaseTimings    map[string]time.Duration
}

// Session drives one publish attempt from Init through Ready, and tears
// it down on Close.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	conn *net.UDPConn

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string
	remoteCandidate        *net.UDPAddr
	remoteAddr             *net.UDPAddr
	videoSSRC, audioSSRC   uint32

	cert   *dtlsengine.Certificate
	engine *dtlsengine.Engine
	srtp   *srtpsession.Session

	video *rtpsend.VideoMuxer
	audio *rtpsend.AudioMuxer

	whipClient   *whip.Client
	whipLocation string

	stateMu sync.RWMutex
	state   whiprtc.State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu    sync.Mutex
	stats      Stats
	rtpPackets atomic.Uint64
}

// New allocates a Session, binds its UDP socket and mints its DTLS
// certificate and ICE credentials. It does not contact the WHIP endpoint
// — call Publish for that.
func New(cfg Config, logger zerolog.Logger) (*Session, error) {
	const op = "session.New"
	cfg.setDefaults()
	if cfg.PktSize < rtpsend.SmallPktSizeThreshold {
		logger.Warn().Int("pkt_size", cfg.PktSize).Msg("pkt_size is below the recommended floor, expect excessive fragmentation")
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("resolve listen addr: %w", err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("listen udp: %w", err))
	}

	cert, err := dtlsengine.GenerateCertificate(cfg.CertCommonName)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ufrag, err := randomICEString(8)
	if err != nil {
		conn.Close()
		return nil, whiprtc.New(whiprtc.KindIO, op, err)
	}
	pwd, err := randomICEString(32)
	if err != nil {
		conn.Close()
		return nil, whiprtc.New(whiprtc.KindIO, op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:        cfg,
		logger:     logger.With().Str("component", "session").Logger(),
		conn:       conn,
		localUfrag: ufrag,
		localPwd:   pwd,
		cert:       cert,
		whipClient: whip.NewClient(logger, cfg.BearerToken),
		ctx:        ctx,
		cancel:     cancel,
		stats:      Stats{PhaseTimings: make(map[string]time.Duration)},
	}
	s.setState(whiprtc.StateInit)
	return s, nil
}

// LocalPort reports the UDP port the session bound, for building the SDP
// offer's candidate line.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// State reports the orchestrator's current state.
func (s *Session) State() whiprtc.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	out.PhaseTimings = make(map[string]time.Duration, len(s.stats.PhaseTimings))
	for k, v := range s.stats.PhaseTimings {
		out.PhaseTimings[k] = v
	}
	if s.engine != nil {
		out.DTLSRetransmits = s.engine.RecordWrites()
	}
	return out
}

// setState advances the state machine. Per §4.10 the chain is monotonic
// on success; Failed is a terminal side-state any earlier step may jump
// to, and once set, no further call can move the session elsewhere.
func (s *Session) setState(next whiprtc.State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == whiprtc.StateFailed || s.state == whiprtc.StateClosed {
		return
	}
	s.state = next
	s.logger.Debug().Stringer("state", next).Msg("session state transition")
}

func (s *Session) recordPhase(name string, d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.PhaseTimings[name] = d
}

// Close tears down the WHIP resource (if Publish reached that point),
// stops background goroutines, and closes the UDP socket.
func (s *Session) Close(ctx context.Context) error {
	s.cancel()
	// Closing the socket unblocks readLoop's ReadFromUDP so Wait returns.
	_ = s.conn.Close()
	s.wg.Wait()

	var err error
	if s.whipLocation != "" {
		if delErr := s.whipClient.Delete(ctx, s.whipLocation); delErr != nil {
			err = delErr
		}
	}
	if s.engine != nil {
		_ = s.engine.Close()
	}
	s.setState(whiprtc.StateClosed)
	return err
}

// randomICEString returns n lowercase hex characters, matching the
// original's %08x-style ICE credential generation.
func randomICEString(n int) (string, error) {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}
