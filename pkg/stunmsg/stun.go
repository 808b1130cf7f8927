// Package stunmsg implements the slice of RFC 5389 STUN this WHIP
// publisher needs: building a Binding Request with USERNAME,
// MESSAGE-INTEGRITY and FINGERPRINT, building a Binding Response with
// MESSAGE-INTEGRITY and FINGERPRINT, and classifying inbound datagrams.
//
// The message/attribute layout mirrors lanikai-alohartc's hand-rolled STUN
// codec (stun.go in that repo); the attribute recipe — including rewriting
// the header length before each of the two trailing attributes is
// computed, per RFC 5389 §15.4 and §15.5 — is spec-mandated rather than
// left to a general-purpose STUN agent library, which is why this package
// exists instead of a pion/stun.Message builder.
package stunmsg

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
)

const (
	magicCookie uint32 = 0x2112A442

	headerLen = 20

	typeBindingRequest  uint16 = 0x0001
	typeBindingResponse uint16 = 0x0101

	attrUsername          uint16 = 0x0006
	attrMessageIntegrity  uint16 = 0x0008
	attrUseCandidate      uint16 = 0x0025
	attrFingerprint       uint16 = 0x8028
	fingerprintXOR        uint32 = 0x5354554E // "STUN"
	messageIntegrityLen          = 20
	fingerprintLen               = 4
)

// Class reports how a received datagram's leading bytes classify under
// §4.1/§4.3: a STUN Binding Request, a STUN Binding Response, or neither.
type Class int

const (
	ClassOther Class = iota
	ClassBindingRequest
	ClassBindingResponse
)

// Classify reports the STUN class of data's leading bytes. Per §4.1,
// validating the cookie, length, or integrity is deliberately not required
// here — ICE-lite accepts any well-shaped response.
func Classify(data []byte) Class {
	if len(data) < 2 {
		return ClassOther
	}
	switch binary.BigEndian.Uint16(data[0:2]) {
	case typeBindingRequest:
		return ClassBindingRequest
	case typeBindingResponse:
		return ClassBindingResponse
	default:
		return ClassOther
	}
}

// attribute is a single decoded STUN TLV.
type attribute struct {
	typ   uint16
	value []byte
}

func pad4(n int) int { return -n & 3 }

func writeHeader(buf *bytes.Buffer, msgType uint16, length uint16, transactionID []byte) {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], msgType)
	binary.BigEndian.PutUint16(hdr[2:4], length)
	binary.BigEndian.PutUint32(hdr[4:8], magicCookie)
	copy(hdr[8:20], transactionID)
	buf.Write(hdr[:])
}

func writeAttribute(buf *bytes.Buffer, typ uint16, value []byte) {
	var tl [4]byte
	binary.BigEndian.PutUint16(tl[0:2], typ)
	binary.BigEndian.PutUint16(tl[2:4], uint16(len(value)))
	buf.Write(tl[:])
	buf.Write(value)
	buf.Write(make([]byte, pad4(len(value))))
}

// rewriteLength patches bytes [2:4) of an in-progress message to
// totalLen-20, the RFC 5389 "attributes only" length convention, just
// before MESSAGE-INTEGRITY or FINGERPRINT is computed over the message.
func rewriteLength(b []byte, attrsLen int) {
	binary.BigEndian.PutUint16(b[2:4], uint16(attrsLen))
}

func newTransactionID() []byte {
	id := make([]byte, 12)
	rand.Read(id)
	return id
}

// BuildBindingRequest constructs an outgoing Binding Request per §4.1:
// USERNAME "<remoteUfrag>:<localUfrag>", USE-CANDIDATE, MESSAGE-INTEGRITY
// keyed on the remote ICE password, then FINGERPRINT. Returns the
// transaction ID alongside the wire bytes so a caller can match the
// eventual response (not required for validation under ICE-lite, but
// useful for logging).
func BuildBindingRequest(remoteUfrag, localUfrag, remotePassword string) (wire []byte, transactionID []byte) {
	transactionID = newTransactionID()

	var body bytes.Buffer
	username := remoteUfrag + ":" + localUfrag
	writeAttribute(&body, attrUsername, []byte(username))
	writeAttribute(&body, attrUseCandidate, nil)

	var msg bytes.Buffer
	writeHeader(&msg, typeBindingRequest, uint16(body.Len()), transactionID)
	msg.Write(body.Bytes())

	appendMessageIntegrity(&msg, remotePassword)
	appendFingerprint(&msg)

	return msg.Bytes(), transactionID
}

// BuildBindingResponse constructs an outgoing Binding Response per §4.1,
// copying the request's transaction ID and keying MESSAGE-INTEGRITY on the
// local ICE password.
func BuildBindingResponse(transactionID []byte, localPassword string) []byte {
	var msg bytes.Buffer
	writeHeader(&msg, typeBindingResponse, 0, transactionID)

	appendMessageIntegrity(&msg, localPassword)
	appendFingerprint(&msg)

	return msg.Bytes()
}

// appendMessageIntegrity rewrites the header length to include a 24-byte
// MESSAGE-INTEGRITY attribute, computes HMAC-SHA1 over everything written
// so far using key, and appends the attribute.
func appendMessageIntegrity(msg *bytes.Buffer, key string) {
	b := msg.Bytes()
	rewriteLength(b, len(b)-headerLen+4+messageIntegrityLen)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write(b)
	sum := mac.Sum(nil)

	writeAttribute(msg, attrMessageIntegrity, sum)
}

// appendFingerprint rewrites the header length to include the trailing
// 8-byte FINGERPRINT attribute, computes CRC32/IEEE over everything
// written so far, XORs it with "STUN", and appends the attribute.
func appendFingerprint(msg *bytes.Buffer) {
	b := msg.Bytes()
	rewriteLength(b, len(b)-headerLen+4+fingerprintLen)

	crc := crc32.ChecksumIEEE(b) ^ fingerprintXOR

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], crc)
	writeAttribute(msg, attrFingerprint, v[:])
}

// VerifyMessageIntegrity recomputes HMAC-SHA1 over msg[0:end] (with the
// header length rewritten to len(msg)-20-len(trailingAfterMAC)) and
// compares it against the MESSAGE-INTEGRITY value found at attrOffset.
// Exposed mainly for the round-trip property test (§8 invariant 3); the
// live ICE-lite path does not call it.
func VerifyMessageIntegrity(msg []byte, key string) bool {
	attrs, err := parseAttributes(msg)
	if err != nil {
		return false
	}
	for i, a := range attrs {
		if a.typ != attrMessageIntegrity {
			continue
		}
		// Everything up to (not including) this attribute's 4-byte
		// TLV header, with the length field temporarily patched to
		// exclude anything after MESSAGE-INTEGRITY (i.e. FINGERPRINT).
		offset := attributeByteOffset(msg, attrs, i)
		patched := append([]byte(nil), msg[:offset]...)
		rewriteLength(patched, offset-headerLen+4+messageIntegrityLen)

		mac := hmac.New(sha1.New, []byte(key))
		mac.Write(patched)
		return hmac.Equal(mac.Sum(nil), a.value)
	}
	return false
}

// VerifyFingerprint recomputes CRC32/IEEE over everything preceding the
// FINGERPRINT attribute and checks it against the attribute's value.
func VerifyFingerprint(msg []byte) bool {
	attrs, err := parseAttributes(msg)
	if err != nil {
		return false
	}
	for i, a := range attrs {
		if a.typ != attrFingerprint {
			continue
		}
		offset := attributeByteOffset(msg, attrs, i)
		patched := append([]byte(nil), msg[:offset]...)
		rewriteLength(patched, offset-headerLen+4+fingerprintLen)

		crc := crc32.ChecksumIEEE(patched) ^ fingerprintXOR
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], crc)
		return bytes.Equal(v[:], a.value)
	}
	return false
}

func attributeByteOffset(msg []byte, attrs []attribute, index int) int {
	offset := headerLen
	for i := 0; i < index; i++ {
		offset += 4 + len(attrs[i].value) + pad4(len(attrs[i].value))
	}
	return offset
}

func parseAttributes(msg []byte) ([]attribute, error) {
	if len(msg) < headerLen {
		return nil, errShortMessage
	}
	length := binary.BigEndian.Uint16(msg[2:4])
	end := headerLen + int(length)
	if end > len(msg) {
		end = len(msg)
	}
	b := bytes.NewBuffer(msg[headerLen:end])
	var attrs []attribute
	for b.Len() >= 4 {
		var tl [4]byte
		b.Read(tl[:])
		typ := binary.BigEndian.Uint16(tl[0:2])
		l := int(binary.BigEndian.Uint16(tl[2:4]))
		if l > b.Len() {
			break
		}
		value := make([]byte, l)
		b.Read(value)
		b.Next(pad4(l))
		attrs = append(attrs, attribute{typ, value})
	}
	return attrs, nil
}

var errShortMessage = shortMessageError{}

type shortMessageError struct{}

func (shortMessageError) Error() string { return "stunmsg: message shorter than header" }

// TransactionID extracts the 12-byte transaction ID from a STUN message,
// used to copy a request's ID into its response.
func TransactionID(msg []byte) []byte {
	if len(msg) < headerLen {
		return nil
	}
	id := make([]byte, 12)
	copy(id, msg[8:20])
	return id
}
