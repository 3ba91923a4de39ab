package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minKeyBits is the smallest RSA modulus the exchange accepts.
const minKeyBits = 2048

// ErrSigningKeyInvalid indicates a malformed or undersized private key. It is a
// configuration defect: callers must fail loudly before any network call.
var ErrSigningKeyInvalid = errors.New("kalshi: signing key invalid")

// Signature is the authentication material for one outbound request. The same
// signature is invalid for any other timestamp, method, or path, which bounds
// replay to the exchange-enforced skew window.
type Signature struct {
	// Timestamp is milliseconds since epoch, captured at signing time.
	Timestamp string
	// Value is the base64-encoded RSA-PSS signature.
	Value string
}

// Signer produces request signatures over timestamp || METHOD || path using
// RSA-PSS with SHA-256 and a salt length equal to the digest length.
type Signer struct {
	key *rsa.PrivateKey
	now func() time.Time
}

// NewSigner validates the key and wraps it in a Signer.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no key", ErrSigningKeyInvalid)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyInvalid, err)
	}
	if bits := key.N.BitLen(); bits < minKeyBits {
		return nil, fmt.Errorf("%w: %d-bit modulus, need at least %d", ErrSigningKeyInvalid, bits, minKeyBits)
	}
	return &Signer{key: key, now: time.Now}, nil
}

// Sign authenticates method + path (including any query string). The HTTP verb
// is uppercased before signing.
func (s *Signer) Sign(method, path string) (Signature, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	msg := ts + strings.ToUpper(method) + path

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return Signature{}, fmt.Errorf("sign request: %w", err)
	}

	return Signature{Timestamp: ts, Value: base64.StdEncoding.EncodeToString(sig)}, nil
}

// ParsePrivateKey loads an RSA private key from PEM text. Keys delivered via
// environment variables often arrive with the newlines flattened out; the PEM
// body is re-wrapped at 64 columns before parsing when that happens.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	pemText = strings.TrimSpace(pemText)
	if pemText == "" {
		return nil, fmt.Errorf("%w: empty key material", ErrSigningKeyInvalid)
	}

	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		block, _ = pem.Decode([]byte(rewrapPEM(pemText)))
	}
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM encoded", ErrSigningKeyInvalid)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyInvalid, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrSigningKeyInvalid)
	}
	return key, nil
}

func rewrapPEM(raw string) string {
	body := raw
	header := "RSA PRIVATE KEY"
	if strings.Contains(raw, "BEGIN PRIVATE KEY") {
		header = "PRIVATE KEY"
	}
	body = strings.ReplaceAll(body, "-----BEGIN "+header+"-----", "")
	body = strings.ReplaceAll(body, "-----END "+header+"-----", "")
	body = strings.Join(strings.Fields(body), "")

	var sb strings.Builder
	sb.WriteString("-----BEGIN " + header + "-----\n")
	for len(body) > 0 {
		n := 64
		if len(body) < n {
			n = len(body)
		}
		sb.WriteString(body[:n])
		sb.WriteByte('\n')
		body = body[n:]
	}
	sb.WriteString("-----END " + header + "-----\n")
	return sb.String()
}
