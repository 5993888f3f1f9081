package websocket

import (
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/idna"
)

// parseTargetURL validates a ws://|wss:// URL and resolves the host/port
// pair the transport should dial: ws:// defaults to port 80, wss://
// defaults to port 443 and always dials through TLS.
//
// The hostname is passed through idna.Lookup.ToASCII so an
// internationalized domain name reaches the TCP dialer and the TLS SNI /
// Host header in its canonical ASCII (punycode) form, the same
// normalization net/http performs internally before a connection is
// made.
func parseTargetURL(rawURL string) (u *url.URL, host string, port string, useTLS bool, err error) {
	u, err = url.Parse(rawURL)
	if err != nil {
		return nil, "", "", false, fmt.Errorf("websocket: parse URL: %w", err)
	}

	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, "", "", false, fmt.Errorf("websocket: unsupported URL scheme %q (want ws or wss)", u.Scheme)
	}

	if u.Host == "" {
		return nil, "", "", false, fmt.Errorf("websocket: URL missing host: %q", rawURL)
	}

	hostname := u.Hostname()
	asciiHost, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		// Not every valid dial target is a DNS name (IP literals, for
		// instance); fall back to the raw hostname rather than failing
		// the dial over a cosmetic normalization step.
		asciiHost = hostname
	}

	port = u.Port()
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}

	return u, asciiHost, port, useTLS, nil
}

// hostHeader builds the Host header value for the opening handshake:
// host[:port], with the port omitted when it is the scheme's default.
func hostHeader(host, port string, useTLS bool) string {
	defaultPort := "80"
	if useTLS {
		defaultPort = "443"
	}
	if port == "" || port == defaultPort {
		return host
	}
	return net.JoinHostPort(host, port)
}

// requestTarget returns the path+query the handshake GET line addresses,
// defaulting to "/" for a URL with no path.
func requestTarget(u *url.URL) string {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}
