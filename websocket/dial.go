package websocket

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
)

// Dial connects to url (ws:// or wss://), performs the RFC 6455 opening
// handshake, and — on success — returns a live Conn with its pumps
// already running.
//
// opts.Handler is required; every other field is optional. Dial blocks
// until the handshake completes or fails. ctx is passed to the Dialer, so
// it bounds establishing the stream (including any proxy and TLS
// negotiation); the HTTP handshake exchange that follows is not
// interrupted by ctx. ctx does not bound the lifetime of the returned
// Conn.
func Dial(ctx context.Context, url string, opts *ClientOptions) (*Conn, error) {
	if opts == nil || opts.Handler == nil {
		return nil, fmt.Errorf("websocket: %w: ClientOptions.Handler is required", ErrInvalidState)
	}

	u, host, port, useTLS, err := parseTargetURL(url)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = newNetDialer()
	}

	var tlsConfig *TLSConfig
	if useTLS {
		tlsConfig = &TLSConfig{
			ServerName:         host,
			PinnedCertificates: opts.PinnedCertificates,
			AllowUntrustedSSL:  opts.AllowsUntrustedSSL,
		}
	}

	stream, err := dialer.Dial(ctx, host, port, tlsConfig)
	if err != nil {
		return nil, err
	}

	subprotocol, pending, err := performHandshake(stream, u, host, port, useTLS, opts)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	return newConn(stream, subprotocol, pending, opts), nil
}

// performHandshake renders and sends the opening HTTP request over
// stream and validates the server's response, returning the negotiated
// subprotocol and any bytes the response's bufio.Reader buffered past
// the end of the HTTP headers. A server is free to write its first
// frame immediately after the 101 response, and bufio.Reader reads from
// the underlying stream in chunks rather than byte-by-byte, so those
// bytes must be recovered here or the read pump would silently drop
// them.
func performHandshake(stream Stream, u *url.URL, host, port string, useTLS bool, opts *ClientOptions) (subprotocol string, pending []byte, err error) {
	key, err := newClientNonce()
	if err != nil {
		return "", nil, err
	}

	req := &handshakeRequest{
		URL:          u,
		Host:         hostHeader(host, port, useTLS),
		Key:          key,
		Protocols:    opts.Protocols,
		Origin:       opts.Origin,
		Cookies:      opts.RequestCookies,
		ExtraHeaders: opts.Headers,
	}

	if _, err := stream.Write(buildRequest(req)); err != nil {
		return "", nil, fmt.Errorf("websocket: write handshake request: %w", err)
	}

	br := bufio.NewReader(stream)
	subprotocol, err = validateResponse(br, key, opts.Protocols)
	if err != nil {
		return "", nil, err
	}

	if n := br.Buffered(); n > 0 {
		pending, _ = br.Peek(n)
		pending = append([]byte(nil), pending...)
	}
	return subprotocol, pending, nil
}
