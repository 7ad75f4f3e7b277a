package cmd

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	"wxreply/pkg/signature"
)

func TestSignedRequestUsesGivenValues(t *testing.T) {
	t.Parallel()

	req := signedRequest("test_token", "1234567890", "abc", "echo", time.Now())

	if req.Signature != signature.Compute("test_token", "1234567890", "abc") {
		t.Fatalf("Signature = %q, want computed digest", req.Signature)
	}
	if !signature.Verify("test_token", req.Signature, req.Timestamp, req.Nonce) {
		t.Fatal("generated request does not verify")
	}
}

func TestSignedRequestGeneratesTimestampAndNonce(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	req := signedRequest("test_token", "", "", defaultSignEcho, now)

	if req.Timestamp != "1700000000" {
		t.Fatalf("Timestamp = %q, want %q", req.Timestamp, "1700000000")
	}
	if len(req.Nonce) != nonceLength {
		t.Fatalf("len(Nonce) = %d, want %d", len(req.Nonce), nonceLength)
	}
	if req.Echo != defaultSignEcho {
		t.Fatalf("Echo = %q, want %q", req.Echo, defaultSignEcho)
	}

	other := signedRequest("test_token", "", "", defaultSignEcho, now)
	if other.Nonce == req.Nonce {
		t.Fatalf("expected fresh nonces, got %q twice", req.Nonce)
	}
}

func TestPrintSignedRequest(t *testing.T) {
	t.Parallel()

	req := signedRequest("test_token", "1", "2", "hello", time.Now())

	var buf bytes.Buffer
	if err := printSignedRequest(&buf, req, "http://localhost:5000/wechat"); err != nil {
		t.Fatalf("printSignedRequest: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "signature: "+req.Signature) {
		t.Fatalf("output missing signature line:\n%s", out)
	}

	start := strings.Index(out, "'")
	end := strings.LastIndex(out, "'")
	if start < 0 || end <= start {
		t.Fatalf("output missing quoted URL:\n%s", out)
	}

	target, err := url.Parse(out[start+1 : end])
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if target.Path != "/wechat" {
		t.Fatalf("path = %q, want /wechat", target.Path)
	}

	parsed, err := signature.RequestFromQuery(target.Query())
	if err != nil {
		t.Fatalf("RequestFromQuery: %v", err)
	}
	if parsed != req {
		t.Fatalf("round-tripped request = %+v, want %+v", parsed, req)
	}
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)

	if !strings.HasPrefix(buf.String(), "wxreply "+Version) {
		t.Fatalf("version output = %q", buf.String())
	}
}
