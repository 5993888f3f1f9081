package websocket

import "testing"

func TestParseTargetURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPort string
		wantTLS  bool
		wantErr  bool
	}{
		{raw: "ws://example.com/chat", wantHost: "example.com", wantPort: "80", wantTLS: false},
		{raw: "wss://example.com/chat", wantHost: "example.com", wantPort: "443", wantTLS: true},
		{raw: "ws://example.com:9000/chat", wantHost: "example.com", wantPort: "9000", wantTLS: false},
		{raw: "http://example.com/chat", wantErr: true},
		{raw: "ws:///chat", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, host, port, useTLS, err := parseTargetURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseTargetURL(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTargetURL(%q): %v", tt.raw, err)
			}
			if host != tt.wantHost || port != tt.wantPort || useTLS != tt.wantTLS {
				t.Fatalf("got (%q, %q, %v), want (%q, %q, %v)", host, port, useTLS, tt.wantHost, tt.wantPort, tt.wantTLS)
			}
		})
	}
}

func TestHostHeaderOmitsDefaultPort(t *testing.T) {
	if got := hostHeader("example.com", "80", false); got != "example.com" {
		t.Fatalf("hostHeader = %q, want example.com", got)
	}
	if got := hostHeader("example.com", "443", true); got != "example.com" {
		t.Fatalf("hostHeader = %q, want example.com", got)
	}
	if got := hostHeader("example.com", "9000", false); got != "example.com:9000" {
		t.Fatalf("hostHeader = %q, want example.com:9000", got)
	}
}
