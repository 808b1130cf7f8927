// Package whiprtc holds the error and state types shared by every layer of
// the WHIP publisher: the STUN codec, the DTLS engine, the SRTP session,
// the RTP send path, SDP negotiation, the WHIP signaling client, and the
// session orchestrator.
package whiprtc

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way §7 of the design does. Each component
// tags its own failures with a Kind via New at the point where it can
// tell what went wrong; the orchestrator passes those errors on to its
// caller.
type Kind int

const (
	// KindInvalidArgument covers bad config, an unsupported codec or
	// profile, or malformed extradata.
	KindInvalidArgument Kind = iota
	// KindInvalidData covers a malformed SDP answer, missing ICE fields,
	// or a non-UDP/non-host candidate.
	KindInvalidData
	// KindIO covers socket, HTTP, and DTLS transport failures, a DTLS
	// fatal alert, or a peer close.
	KindIO
	// KindTimeout covers an exhausted handshake budget.
	KindTimeout
	// KindOutOfMemory covers allocation failure.
	KindOutOfMemory
	// KindUnimplemented covers anything outside the supported codec
	// matrix: B-frames, non-H264 video, non-Opus audio, non-stereo or
	// non-48kHz audio.
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidData:
		return "invalid_data"
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindUnimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// Error is the flattened error union the publishing pipeline's packages
// (STUN, DTLS, SRTP, RTP, SDP, WHIP, session) return. It wraps an underlying error so errors.Is/errors.As still work
// against whatever produced it (an *http.Response status, a net.Error
// timeout, and so on).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error tagging op with a kind and an underlying cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k. It
// lets the orchestrator and its callers write `whiprtc.Is(err,
// whiprtc.KindTimeout)` instead of manually walking the chain.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
