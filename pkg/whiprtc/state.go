package whiprtc

// State is the session orchestrator's state machine (§4.10). Transitions
// are strictly monotonic on the success path until Ready or Failed; once
// Failed, no later step may move the session to a non-Failed state.
type State int

const (
	StateNone State = iota
	StateInit
	StateOffer
	StateAnswer
	StateNegotiated
	StateUDPConnected
	StateIceConnecting
	StateIceConnected
	StateDTLSFinished
	StateSRTPFinished
	StateReady
	// StateClosed is set by Session.Close when the session is torn
	// down. A DTLS close_notify from the peer neither moves the session
	// here nor stops media writes. It sits outside the monotonic chain
	// above and only marks writes as no longer permitted.
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInit:
		return "init"
	case StateOffer:
		return "offer"
	case StateAnswer:
		return "answer"
	case StateNegotiated:
		return "negotiated"
	case StateUDPConnected:
		return "udp_connected"
	case StateIceConnecting:
		return "ice_connecting"
	case StateIceConnected:
		return "ice_connected"
	case StateDTLSFinished:
		return "dtls_finished"
	case StateSRTPFinished:
		return "srtp_finished"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// atLeast reports whether s has progressed at least as far as other along
// the success path. Failed and Closed are terminal side-states and are
// never "at least" anything but themselves.
func (s State) atLeast(other State) bool {
	if s == StateFailed || s == StateClosed {
		return s == other
	}
	return s >= other
}

// AtLeast is the exported form of atLeast, used by callers (the handshake
// driver, the RTP send path) that need to gate behavior on how far the
// session has progressed — e.g. "don't send media before SrtpFinished".
func (s State) AtLeast(other State) bool { return s.atLeast(other) }
