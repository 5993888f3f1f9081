package websocket

import (
	"bufio"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestComputeAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 Section 1.3 worked example.
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := computeAcceptKey(key); got != want {
		t.Fatalf("computeAcceptKey(%q) = %q, want %q", key, got, want)
	}
}

func TestNewClientNonceLength(t *testing.T) {
	key, err := newClientNonce()
	if err != nil {
		t.Fatalf("newClientNonce: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		t.Fatalf("nonce is not valid base64: %v", err)
	}
	if len(decoded) != 16 {
		t.Fatalf("nonce decodes to %d bytes, want 16", len(decoded))
	}
}

func TestBuildRequestIncludesRequiredHeaders(t *testing.T) {
	u, _ := url.Parse("ws://example.com/chat?x=1")
	req := &handshakeRequest{
		URL:       u,
		Host:      "example.com",
		Key:       "dGhlIHNhbXBsZSBub25jZQ==",
		Protocols: []string{"chat", "superchat"},
	}
	raw := string(buildRequest(req))

	for _, want := range []string{
		"GET /chat?x=1 HTTP/1.1\r\n",
		"Host: example.com\r\n",
		"Upgrade: websocket\r\n",
		"Connection: Upgrade\r\n",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n",
		"Sec-WebSocket-Version: 13\r\n",
		"Sec-WebSocket-Protocol: chat, superchat\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("request missing %q; got:\n%s", want, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\n") {
		t.Error("request must end with a blank line")
	}
}

func TestValidateResponseAccepts101(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	accept := computeAcceptKey(key)
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"Sec-WebSocket-Protocol: chat\r\n\r\n"

	subprotocol, err := validateResponse(bufio.NewReader(strings.NewReader(raw)), key, []string{"chat", "superchat"})
	if err != nil {
		t.Fatalf("validateResponse: %v", err)
	}
	if subprotocol != "chat" {
		t.Fatalf("subprotocol = %q, want chat", subprotocol)
	}
}

func TestValidateResponseRejectsWrongStatus(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	_, err := validateResponse(bufio.NewReader(strings.NewReader(raw)), "key", nil)

	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("err = %v, want *HandshakeError", err)
	}
	if hsErr.Response == nil || hsErr.Response.StatusCode != 404 {
		t.Fatalf("HandshakeError.Response = %v, want status 404", hsErr.Response)
	}
}

func TestValidateResponseRejectsBadAccept(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: not-the-right-value\r\n\r\n"
	_, err := validateResponse(bufio.NewReader(strings.NewReader(raw)), "dGhlIHNhbXBsZSBub25jZQ==", nil)
	if err == nil {
		t.Fatal("expected an error for mismatched Sec-WebSocket-Accept")
	}
}

func TestValidateResponseRejectsUnofferedSubprotocol(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	accept := computeAcceptKey(key)
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"Sec-WebSocket-Protocol: unoffered\r\n\r\n"
	_, err := validateResponse(bufio.NewReader(strings.NewReader(raw)), key, []string{"chat"})
	if err == nil {
		t.Fatal("expected an error for a subprotocol never offered")
	}
}
