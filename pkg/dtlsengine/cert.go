package dtlsengine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// Certificate bundles the self-signed ECDSA keypair this engine presents
// during the DTLS handshake with the SHA-256 fingerprint SDP advertises
// for it. The key/cert generation recipe follows lanikai-alohartc's
// generateCertificate: a P-256 key, a random serial, one self-signed
// leaf, one year of validity (the original FFmpeg muxer uses 365 days,
// not Chrome's 30).
type Certificate struct {
	TLS         tls.Certificate
	Fingerprint string // "XX:XX:...:XX", uppercase, colon-separated
}

// GenerateCertificate produces a fresh self-signed certificate for a
// single DTLS session. Nothing about a WHIP publish session calls for
// reusing a certificate across sessions, so one is minted per session.
func GenerateCertificate(commonName string) (*Certificate, error) {
	const op = "dtlsengine.GenerateCertificate"

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("generate key: %w", err))
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 32)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("generate serial: %w", err))
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: commonName},
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(365 * 24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, whiprtc.New(whiprtc.KindIO, op, fmt.Errorf("create certificate: %w", err))
	}

	return &Certificate{
		TLS: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
		},
		Fingerprint: fingerprint(der),
	}, nil
}

// fingerprint formats the SHA-256 digest of a DER certificate the way SDP
// a=fingerprint lines require: uppercase hex octets joined with colons.
func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	out := make([]byte, 0, len(sum)*3-1)
	for i, b := range sum {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	return string(out)
}
