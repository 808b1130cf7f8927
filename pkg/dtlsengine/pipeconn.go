package dtlsengine

import (
	"errors"
	"net"
	"time"
)

// Sink is the write side of the BIO the original OpenSSL-driven muxer
// pushed DTLS records through: one call per net.Conn.Write that
// pion/dtls/v3 makes. pion/dtls/v3 may pack several records of a flight
// into one such write; pipeConn.Write forwards each write verbatim with
// no buffering or splitting.
type Sink interface {
	WriteRecord(record []byte) error
}

// pipeConn adapts the session's UDP demux loop to the net.Conn shape
// pion/dtls/v3's Server/Client constructors require. Outbound records go
// straight to Sink; inbound records arrive over a channel fed by
// Engine.Feed, which the session's single UDP-reading goroutine calls
// whenever a datagram classifies as DTLS.
type pipeConn struct {
	sink    Sink
	inbound chan []byte
	closed  chan struct{}

	localAddr  net.Addr
	remoteAddr net.Addr
}

func newPipeConn(sink Sink, local, remote net.Addr) *pipeConn {
	return &pipeConn{
		sink:       sink,
		inbound:    make(chan []byte, 32),
		closed:     make(chan struct{}),
		localAddr:  local,
		remoteAddr: remote,
	}
}

// feed delivers one inbound DTLS record to a blocked or future Read. It
// never blocks the caller (the UDP demux goroutine) on a slow consumer;
// a full buffer drops the record, which DTLS's own retransmission logic
// will recover from exactly as it would recover from real packet loss.
func (c *pipeConn) feed(record []byte) {
	cp := make([]byte, len(record))
	copy(cp, record)
	select {
	case c.inbound <- cp:
	case <-c.closed:
	default:
	}
}

func (c *pipeConn) Read(b []byte) (int, error) {
	select {
	case record := <-c.inbound:
		n := copy(b, record)
		return n, nil
	case <-c.closed:
		return 0, errClosedPipe
	}
}

func (c *pipeConn) Write(b []byte) (int, error) {
	if err := c.sink.WriteRecord(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *pipeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remoteAddr }

// Deadlines are managed by the handshake_timeout context the engine's
// caller supplies around dtls.Server, not by net.Conn deadlines.
func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

var errClosedPipe = errors.New("dtlsengine: pipe closed")
