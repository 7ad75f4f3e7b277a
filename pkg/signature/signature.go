// Package signature implements the platform's webhook handshake: the server proves it
// holds the shared token by checking sha1(sort(token, timestamp, nonce)) and echoing echostr.
package signature

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"wxreply/pkg/failure"
)

const (
	QuerySignature = "signature"
	QueryTimestamp = "timestamp"
	QueryNonce     = "nonce"
	QueryEcho      = "echostr"
)

// Request carries the raw handshake query parameters. Timestamp is never parsed.
type Request struct {
	Signature string
	Timestamp string
	Nonce     string
	Echo      string
}

// Compute returns the lowercase hex SHA-1 of the lexicographically sorted, concatenated inputs.
func Compute(token string, timestamp string, nonce string) string {
	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether signature matches the digest computed for token, timestamp and nonce.
func Verify(token string, signature string, timestamp string, nonce string) bool {
	expected := Compute(token, timestamp, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// RequestFromQuery extracts handshake parameters. Absent keys become empty strings;
// only a missing parameter container is an extraction failure.
func RequestFromQuery(query url.Values) (Request, error) {
	if query == nil {
		return Request{}, failure.New(failure.ExtractionFailed, "query parameters unavailable")
	}

	return Request{
		Signature: query.Get(QuerySignature),
		Timestamp: query.Get(QueryTimestamp),
		Nonce:     query.Get(QueryNonce),
		Echo:      query.Get(QueryEcho),
	}, nil
}

// Query renders req back into URL query parameters.
func (r Request) Query() url.Values {
	values := url.Values{}
	values.Set(QuerySignature, r.Signature)
	values.Set(QueryTimestamp, r.Timestamp)
	values.Set(QueryNonce, r.Nonce)
	values.Set(QueryEcho, r.Echo)
	return values
}

// Verifier checks handshakes against one process-wide token.
type Verifier struct {
	token string
}

func NewVerifier(token string) *Verifier {
	return &Verifier{token: token}
}

// Handshake returns req.Echo unchanged when the signature is valid.
func (v *Verifier) Handshake(req Request) (string, error) {
	if !Verify(v.token, req.Signature, req.Timestamp, req.Nonce) {
		return "", failure.New(failure.VerificationFailed, "signature mismatch")
	}

	return req.Echo, nil
}

// Sign builds a valid handshake request for the verifier's token.
func (v *Verifier) Sign(timestamp string, nonce string, echo string) Request {
	return Request{
		Signature: Compute(v.token, timestamp, nonce),
		Timestamp: timestamp,
		Nonce:     nonce,
		Echo:      echo,
	}
}
