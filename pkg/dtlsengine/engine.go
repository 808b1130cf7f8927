// Package dtlsengine drives one passive (server-role) DTLS-SRTP handshake
// per WHIP session. It plays the role the original muxer gave OpenSSL
// driven through a memory BIO: every outbound datagram pion/dtls/v3
// writes is handed to a Sink exactly once, unmodified (a datagram can
// carry more than one DTLS record), and every inbound record is fed in
// from the session's UDP demux loop. pion/dtls/v3 wants a net.Conn rather
// than a raw BIO callback, so pipeConn bridges the two: its Write is the
// BIO write callback, its Read blocks on a channel fed by Feed.
package dtlsengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v3"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// KeyingMaterial holds the two key/salt pairs (client and server) RFC
// 5764's EXTRACTOR-dtls_srtp exporter produces, in client-then-server
// order.
// With SRTP_AES128_CM_HMAC_SHA1_80 the layout is 16+16 bytes of master
// key followed by 14+14 bytes of master salt.
type KeyingMaterial struct {
	ClientMasterKey  []byte
	ServerMasterKey  []byte
	ClientMasterSalt []byte
	ServerMasterSalt []byte
}

const (
	exporterLabel        = "EXTRACTOR-dtls_srtp"
	masterKeyLen         = 16
	masterSaltLen        = 14
	exporterMaterialLen  = 2*masterKeyLen + 2*masterSaltLen
	defaultFlightTimeout = 1 * time.Second
)

// Engine owns the lifetime of one DTLS-SRTP server handshake.
type Engine struct {
	cert    *Certificate
	sink    Sink
	pipe    *pipeConn
	conn    *dtls.Conn
	onState func(State)

	flightWrites atomic.Int64
}

// State mirrors the subset of the DTLS handshake lifecycle the session
// orchestrator's state machine cares about.
type State int

const (
	StateHandshaking State = iota
	StateFinished
	StateFailed
)

// New constructs an Engine bound to sink for outbound records and cert
// for the server's identity. onState, if non-nil, is invoked from the
// handshake goroutine as the handshake progresses; callers that need to
// synchronize with the orchestrator's state machine should make it
// non-blocking (e.g. send on a buffered channel).
func New(cert *Certificate, sink Sink, onState func(State)) *Engine {
	e := &Engine{cert: cert, sink: sink, onState: onState}
	e.pipe = newPipeConn(&countingSink{Sink: sink, counter: &e.flightWrites}, fakeAddr("local"), fakeAddr("remote"))
	return e
}

// Feed delivers one inbound datagram the session demux classified as
// DTLS. Safe to call before Run starts the handshake; records are
// buffered in the pipe.
func (e *Engine) Feed(record []byte) {
	if e.pipe != nil {
		e.pipe.feed(record)
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

// Run performs the DTLS-SRTP server handshake, blocking until it
// completes, fails, or ctx is cancelled (the caller derives ctx from the
// session's handshake_timeout budget). On success it returns the
// exported keying material.
func (e *Engine) Run(ctx context.Context) (*KeyingMaterial, error) {
	const op = "dtlsengine.Run"

	config := &dtls.Config{
		Certificates:            []tls.Certificate{e.cert.TLS},
		ExtendedMasterSecret:    dtls.RequireExtendedMasterSecret,
		SRTPProtectionProfiles:  []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		FlightInterval:          defaultFlightTimeout,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithCancel(ctx)
		},
	}

	e.setState(StateHandshaking)

	type result struct {
		conn *dtls.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dtls.Server(e.pipe, config)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		e.pipe.Close()
		e.setState(StateFailed)
		return nil, whiprtc.New(whiprtc.KindTimeout, op, ctx.Err())
	}

	if res.err != nil {
		e.setState(StateFailed)
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("dtls handshake: %w", res.err))
	}
	e.conn = res.conn

	material, err := e.conn.ExportKeyingMaterial(exporterLabel, nil, exporterMaterialLen)
	if err != nil {
		e.setState(StateFailed)
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("export keying material: %w", err))
	}
	if len(material) != exporterMaterialLen {
		e.setState(StateFailed)
		return nil, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("exporter returned %d bytes, want %d", len(material), exporterMaterialLen))
	}

	e.setState(StateFinished)

	km := &KeyingMaterial{
		ClientMasterKey:  material[0:16],
		ServerMasterKey:  material[16:32],
		ClientMasterSalt: material[32:46],
		ServerMasterSalt: material[46:60],
	}
	return km, nil
}

func (e *Engine) setState(s State) {
	if e.onState != nil {
		e.onState(s)
	}
}

// RecordWrites reports how many times the handshake has written to the
// sink. Every write is counted, first sends of each flight and
// retransmissions alike; the two are not told apart.
func (e *Engine) RecordWrites() int64 { return e.flightWrites.Load() }

// Close tears down the underlying DTLS connection and pipe, if the
// handshake reached that point.
func (e *Engine) Close() error {
	if e.conn != nil {
		_ = e.conn.Close()
	}
	if e.pipe != nil {
		_ = e.pipe.Close()
	}
	return nil
}

// countingSink wraps a Sink to count every outbound write, backing
// Engine.RecordWrites.
type countingSink struct {
	Sink
	counter *atomic.Int64
}

func (c *countingSink) WriteRecord(record []byte) error {
	c.counter.Add(1)
	return c.Sink.WriteRecord(record)
}

var _ net.Conn = (*pipeConn)(nil)
