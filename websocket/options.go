package websocket

import "net/http"

// Handler receives the lifecycle and message events of a Connection.
// A Connection calls every method as the matching event occurs, so an
// implementation must provide all of them.
//
// Embed NopHandler to pick up no-op defaults for methods you don't care
// about.
type Handler interface {
	// OnOpen is called once the opening handshake completes and the
	// Connection enters StateOpen.
	OnOpen(c *Conn)
	// OnReceiveText is called for each complete, UTF-8-validated text
	// message.
	OnReceiveText(c *Conn, text string)
	// OnReceiveBinary is called for each complete binary message.
	OnReceiveBinary(c *Conn, data []byte)
	// OnReceivePong is called for each Pong frame, including unsolicited
	// ones.
	OnReceivePong(c *Conn, payload []byte)
	// OnFail is called when an open connection terminates abnormally (a
	// protocol violation, a transport error) before Handler.OnClose. A
	// handshake rejection is returned by Dial instead; no Handler method
	// is called for it.
	OnFail(c *Conn, err error)
	// OnClose is called exactly once, as the Connection reaches
	// StateClosed, regardless of whether closure was clean.
	OnClose(c *Conn, code CloseCode, reason string, wasClean bool)
}

// NopHandler implements Handler with no-op methods. Embed it in an
// application type to override only the events you need.
type NopHandler struct{}

func (NopHandler) OnOpen(*Conn)                           {}
func (NopHandler) OnReceiveText(*Conn, string)            {}
func (NopHandler) OnReceiveBinary(*Conn, []byte)          {}
func (NopHandler) OnReceivePong(*Conn, []byte)            {}
func (NopHandler) OnFail(*Conn, error)                    {}
func (NopHandler) OnClose(*Conn, CloseCode, string, bool) {}

// ClientOptions configures Dial.
type ClientOptions struct {
	// Handler receives connection lifecycle and message events. Required;
	// Dial returns ErrInvalidState if nil.
	Handler Handler

	// Protocols lists the subprotocols offered via Sec-WebSocket-Protocol,
	// in preference order.
	Protocols []string

	// Origin sets the Origin header on the opening handshake request.
	Origin string

	// Headers are added verbatim to the opening handshake request,
	// letting a caller attach authentication or custom metadata the core
	// protocol doesn't model.
	Headers http.Header

	// RequestCookies are attached as a Cookie header on the opening
	// handshake request.
	RequestCookies []*http.Cookie

	// Dialer overrides how the underlying byte stream is established. If
	// nil, a default TCP/TLS dialer is used.
	Dialer Dialer

	// PinnedCertificates restricts acceptable wss:// server certificates
	// to an exact DER match, bypassing normal chain validation.
	PinnedCertificates [][]byte

	// AllowsUntrustedSSL disables TLS certificate validation entirely.
	// Intended for development against self-signed endpoints only.
	AllowsUntrustedSSL bool

	// MaxInboundPayload caps the size, in bytes, of any single inbound
	// message (after fragment reassembly). Zero selects a default of
	// 32 MiB; exceeding it fails the connection with ErrMessageTooLarge
	// (close code 1009).
	MaxInboundPayload uint64

	// HighWaterMark caps the bytes of data frames the send queue will
	// hold before SendText/SendBinary return ErrBusy. Zero selects a
	// default of 4 MiB.
	HighWaterMark int

	// CloseTimeout bounds how long the Connection waits, after Close, for
	// the server's acknowledging Close frame before it force-closes the
	// transport. Zero selects a default of 60 seconds.
	CloseTimeout int // seconds; see defaultCloseTimeoutSeconds
}

const defaultCloseTimeoutSeconds = 60
