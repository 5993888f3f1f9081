package websocket

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a client-side WebSocket connection.
//
// Unlike a plain blocking socket wrapper, Conn drives itself: once
// constructed it owns a read pump goroutine and a write loop goroutine,
// and serializes every state transition and Handler callback onto a
// single actor goroutine — one logical worker per connection. Callers
// never read frames directly; they register a Handler with Dial and
// receive events as they happen.
//
// All exported methods are safe for concurrent use.
type Conn struct {
	stream  Stream
	handler Handler

	subprotocol string

	maxInboundPayload uint64
	closeTimeout      time.Duration

	sendQ   *sendQueue
	wake    chan struct{}
	pending []byte // bytes buffered past the handshake response, fed to readPump first

	state atomic.Int32 // ReadyState

	events chan connEvent

	closeOnce sync.Once
	done      chan struct{} // closed once StateClosed is reached

	wg sync.WaitGroup
}

// connEvent is the sum type the actor goroutine consumes. It is
// unexported: the event stream is purely an internal sequencing
// mechanism, not part of the public API.
type connEvent interface{ isConnEvent() }

type frameEvent struct{ f *frame }

// protocolErrEvent reports a decode-time RFC 6455 violation (malformed
// frame, invalid opcode, oversized payload): the stream is intact, so the
// actor loop gets a chance to send a Close frame carrying the offending
// code before tearing the transport down.
type protocolErrEvent struct{ err error }

// transportErrEvent reports a failure reading from the underlying Stream
// itself (reset, timeout, EOF with no Close frame): the stream is
// presumed broken, so no Close handshake is attempted — this always
// finishes with CloseAbnormalClosure per spec.
type transportErrEvent struct{ err error }

type writeErrEvent struct{ err error }
type closeRequestEvent struct {
	code   CloseCode
	reason string
}

func (frameEvent) isConnEvent()        {}
func (protocolErrEvent) isConnEvent()  {}
func (transportErrEvent) isConnEvent() {}
func (writeErrEvent) isConnEvent()     {}
func (closeRequestEvent) isConnEvent() {}

// newConn builds a Conn over an already-handshaken stream and starts its
// pumps. Called by Dial once validateResponse has succeeded; not part
// of the public API.
func newConn(stream Stream, subprotocol string, pending []byte, opts *ClientOptions) *Conn {
	closeTimeout := time.Duration(opts.CloseTimeout) * time.Second
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeoutSeconds * time.Second
	}
	maxInboundPayload := opts.MaxInboundPayload
	if maxInboundPayload == 0 {
		maxInboundPayload = defaultMaxInboundPayload
	}

	c := &Conn{
		stream:            stream,
		handler:           opts.Handler,
		subprotocol:       subprotocol,
		maxInboundPayload: maxInboundPayload,
		closeTimeout:      closeTimeout,
		sendQ:             newSendQueue(opts.HighWaterMark),
		wake:              make(chan struct{}, 1),
		pending:           pending,
		events:            make(chan connEvent, 16),
		done:              make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	c.wg.Add(3)
	go c.readPump()
	go c.writeLoop()
	go c.actorLoop()

	return c
}

// ReadyState returns the connection's current lifecycle state. The
// ready-state is monotonic: Connecting -> Open -> Closing -> Closed.
func (c *Conn) ReadyState() ReadyState { return ReadyState(c.state.Load()) }

// Subprotocol returns the subprotocol negotiated during the handshake,
// or "" if none was offered or none was selected.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// Depth returns the number of bytes of data frames currently queued for
// write, for callers implementing their own backpressure policy on top
// of ErrBusy.
func (c *Conn) Depth() int { return c.sendQ.Depth() }

// SendText queues a complete text message for transmission. Returns
// ErrClosed once the connection has reached StateClosed, ErrInvalidState
// in any other state but StateOpen, or ErrBusy if the message would take
// the send queue above its high water mark.
func (c *Conn) SendText(text string) error {
	return c.send(opcodeText, []byte(text))
}

// SendBinary queues a complete binary message for transmission.
func (c *Conn) SendBinary(data []byte) error {
	return c.send(opcodeBinary, data)
}

func (c *Conn) send(opcode byte, payload []byte) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	f, err := newOutboundFrame(opcode, payload, true)
	if err != nil {
		return err
	}
	if err := c.sendQ.enqueueData(encodeFrame(f)); err != nil {
		return err
	}
	c.signalWrite()
	return nil
}

// Ping sends a Ping control frame carrying payload (at most 125 bytes,
// per RFC 6455 Section 5.5). The server's Pong is delivered to
// Handler.OnReceivePong; Ping does not block waiting for it.
func (c *Conn) Ping(payload []byte) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if len(payload) > maxControlPayload {
		return ErrControlTooLarge
	}
	f, err := newOutboundFrame(opcodePing, payload, true)
	if err != nil {
		return err
	}
	if err := c.sendQ.enqueueControl(encodeFrame(f), opcodePing, nil); err != nil {
		return err
	}
	c.signalWrite()
	return nil
}

// Close begins a normal closure with CloseNormalClosure and no reason,
// equivalent to CloseWithCode(CloseNormalClosure, "").
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode begins the closing handshake (RFC 6455 Section 7): it
// queues a Close frame carrying code and reason and moves the
// connection to StateClosing. It returns once the Close frame has been
// handed to the transport, not once the handshake completes; the
// Connection reaches StateClosed — and Handler.OnClose fires — either
// when the server's echoing Close frame arrives or when closeTimeout
// elapses, whichever comes first.
//
// Calling Close/CloseWithCode more than once, or after the peer has
// already closed, returns ErrInvalidState.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	if !c.transitionToClosing() {
		return ErrInvalidState
	}

	payload := closeFramePayload(code, reason)
	f, err := newOutboundFrame(opcodeClose, payload, true)
	if err != nil {
		return err
	}
	wireDone := make(chan error, 1)
	if err := c.sendQ.enqueueControl(encodeFrame(f), opcodeClose, wireDone); err != nil {
		return err
	}
	c.signalWrite()

	select {
	case c.events <- closeRequestEvent{code: code, reason: reason}:
	case <-c.done:
		return nil
	}

	// Wait for the Close frame to actually reach the wire: Close waits for
	// its own in-flight send, not for the peer's acknowledging Close frame.
	select {
	case <-wireDone:
	case <-c.done:
	}
	return nil
}

// requireOpen returns ErrClosed once the connection has reached
// StateClosed so callers (and IsCloseError) can distinguish "the
// connection is already gone" from other misuse of the API, and
// ErrInvalidState for any other non-Open state.
func (c *Conn) requireOpen() error {
	switch c.ReadyState() {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrInvalidState
	}
}

func (c *Conn) transitionToClosing() bool {
	return c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

func (c *Conn) signalWrite() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// closeFramePayload renders a Close frame payload: a 2-byte big-endian
// status code followed by a UTF-8 reason (RFC 6455 Section 5.5.1). A
// CloseNoStatusReceived code means "send no payload at all".
func closeFramePayload(code CloseCode, reason string) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}

// parseCloseFramePayload extracts the status code and reason from an
// inbound Close frame payload, defaulting to CloseNoStatusReceived when
// the payload is empty. A payload of exactly one byte is a protocol
// violation (RFC 6455 Section 5.5.1: the code, if present, is always
// 2 bytes).
func parseCloseFramePayload(payload []byte) (CloseCode, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", ErrInvalidClosePayload
	default:
		code := CloseCode(int(payload[0])<<8 | int(payload[1]))
		if !closeCodeValidOnWire(code) {
			return 0, "", ErrInvalidClosePayload
		}
		reason := payload[2:]
		if !validUTF8String(string(reason)) {
			return 0, "", ErrInvalidUTF8
		}
		return code, string(reason), nil
	}
}

// readPump reads bytes from the transport and decodes them into frames,
// delivering each to the actor loop as a frameEvent. It never interprets
// a frame itself; decodeFrame's pull-oriented shape lets this loop stay
// a flat "read more, try to parse, repeat" cycle regardless of how the
// underlying stream chunks its reads.
func (c *Conn) readPump() {
	defer c.wg.Done()

	buf := c.pending
	chunk := make([]byte, 4096)

	for {
		f, n, err := decodeFrame(buf, c.maxInboundPayload)
		if err == nil {
			buf = buf[n:]
			c.deliver(frameEvent{f: f})
			continue
		}

		if atLeast, ok := IsNeedMore(err); ok {
			grow := atLeast
			if grow < len(chunk) {
				grow = len(chunk)
			}
			start := len(buf)
			if cap(buf)-start < grow {
				grown := make([]byte, start, start+grow)
				copy(grown, buf)
				buf = grown
			}
			buf = buf[:start+grow]
			m, rerr := c.stream.Read(buf[start : start+grow])
			buf = buf[:start+m]
			if rerr != nil {
				c.deliver(transportErrEvent{err: transportReadError(rerr)})
				return
			}
			continue
		}

		c.deliver(protocolErrEvent{err: err})
		return
	}
}

// transportReadError annotates a transport-level read failure for
// Handler.OnFail. It never wraps ErrProtocolError: a dropped transport
// always finishes with CloseAbnormalClosure (1006) per §3 ("1006 if the
// connection dropped without a Close frame"), regardless of the
// underlying error, and must never be mistaken for a decode-time
// protocol violation (which maps to its own close code).
func transportReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("websocket: transport closed without a close frame: %w", io.EOF)
	}
	return err
}

// deliver sends ev to the actor loop, giving up silently once the
// connection has finished closing (the actor loop has stopped reading
// c.events by then).
func (c *Conn) deliver(ev connEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// writeLoop drains the send queue and writes each frame's wire bytes to
// the transport in order, waking whenever SendText/SendBinary/Ping/Close
// enqueue new work.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		qf, ok := c.sendQ.dequeue()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}

		_, err := c.stream.Write(qf.data)
		if qf.done != nil {
			qf.done <- err
		}
		if err != nil {
			c.deliver(writeErrEvent{err: err})
			return
		}
	}
}

// actorLoop is the single goroutine that owns message reassembly,
// ready-state transitions, and every Handler callback; this keeps
// Handler implementations free of their own locking by funneling
// everything through one event loop.
func (c *Conn) actorLoop() {
	defer c.wg.Done()

	var assembler messageAssembler
	assembler.maxSize = c.maxInboundPayload

	c.handler.OnOpen(c)

	var closeTimer *time.Timer
	defer func() {
		if closeTimer != nil {
			closeTimer.Stop()
		}
	}()

	finish := func(code CloseCode, reason string, wasClean bool) {
		c.state.Store(int32(StateClosed))
		_ = c.stream.Close()
		c.sendQ.cancelRemaining()
		c.closeOnce.Do(func() { close(c.done) })
		c.handler.OnClose(c, code, reason, wasClean)
	}

	var timerC <-chan time.Time

	for {
		select {
		case ev := <-c.events:
			switch e := ev.(type) {
			case frameEvent:
				code, reason, wasClean, failed, done, drain := c.handleFrame(e.f, &assembler)
				if failed != nil {
					c.handler.OnFail(c, failed)
				}
				if done {
					c.awaitDrain(drain)
					finish(code, reason, wasClean)
					return
				}

			case protocolErrEvent:
				// A decode-time protocol violation: the wire is still
				// intact, so per §7 ("converted into a Close handshake...
				// when wire state permits") send a Close frame carrying
				// the violation's code before tearing the transport down.
				c.handler.OnFail(c, e.err)
				code := closeCodeFor(e.err)
				drain := c.sendProtocolCloseFrame(code)
				c.awaitDrain(drain)
				finish(code, "", false)
				return

			case transportErrEvent:
				// The transport itself failed; per §7 this skips the
				// Close handshake entirely and always reports 1006.
				c.handler.OnFail(c, e.err)
				finish(CloseAbnormalClosure, "", false)
				return

			case writeErrEvent:
				c.handler.OnFail(c, e.err)
				finish(CloseAbnormalClosure, "", false)
				return

			case closeRequestEvent:
				if closeTimer == nil {
					closeTimer = time.NewTimer(c.closeTimeout)
					timerC = closeTimer.C
				}
			}

		case <-timerC:
			finish(CloseAbnormalClosure, "close handshake timed out", false)
			return
		}
	}
}

// awaitDrain blocks until drain reports the outcome of a frame the actor
// loop itself just enqueued (a Close frame, an echo), or until
// closeTimeout elapses, whichever comes first. A nil drain (the queue
// already held a Close frame, or mask generation failed) returns
// immediately: there's nothing to wait for.
func (c *Conn) awaitDrain(drain <-chan error) {
	if drain == nil {
		return
	}
	select {
	case <-drain:
	case <-time.After(c.closeTimeout):
	}
}

// handleFrame applies one inbound frame to the connection/assembler
// state machine. done reports whether the connection should now
// terminate (finish should be called with the returned code/reason);
// failed is non-nil when Handler.OnFail should be notified first. drain,
// when non-nil, reports the outcome of a Close frame handleFrame itself
// queued (a violation response, or the peer-initiated echo) once it
// actually reaches the transport; the caller must wait on it before
// tearing the transport down, so the peer gets the Close frame rather
// than a bare TCP drop.
func (c *Conn) handleFrame(f *frame, assembler *messageAssembler) (code CloseCode, reason string, wasClean bool, failed error, done bool, drain <-chan error) {
	switch f.opcode {
	case opcodePing:
		pong, err := newOutboundFrame(opcodePong, f.payload, true)
		if err == nil {
			_ = c.sendQ.enqueueControl(encodeFrame(pong), opcodePong, nil)
			c.signalWrite()
		}
		return 0, "", false, nil, false, nil

	case opcodePong:
		c.handler.OnReceivePong(c, f.payload)
		return 0, "", false, nil, false, nil

	case opcodeClose:
		remoteCode, remoteReason, err := parseCloseFramePayload(f.payload)
		if err != nil {
			code := closeCodeFor(err)
			return code, "", false, err, true, c.sendProtocolCloseFrame(code)
		}

		initiatedLocally := c.ReadyState() == StateClosing
		var echoDone <-chan error
		if !initiatedLocally {
			// Peer-initiated close: echo it back per RFC 6455 Section 5.5.1
			// ("the endpoint... if it did not already send a Close frame...
			// SHOULD send a Close frame in response").
			c.state.Store(int32(StateClosing))
			echo, ferr := newOutboundFrame(opcodeClose, f.payload, true)
			if ferr == nil {
				done := make(chan error, 1)
				if qerr := c.sendQ.enqueueControl(encodeFrame(echo), opcodeClose, done); qerr == nil {
					echoDone = done
					c.signalWrite()
				}
			}
		}
		return remoteCode, remoteReason, true, nil, true, echoDone

	default:
		if !isDataFrame(f.opcode) {
			return CloseProtocolError, "", false, ErrInvalidOpcode, true, c.sendProtocolCloseFrame(CloseProtocolError)
		}

		msgType, payload, complete, err := assembler.feedFrame(f)
		if err != nil {
			code := closeCodeFor(err)
			return code, "", false, err, true, c.sendProtocolCloseFrame(code)
		}
		if !complete {
			return 0, "", false, nil, false, nil
		}
		if msgType == TextMessage {
			c.handler.OnReceiveText(c, string(payload))
		} else {
			c.handler.OnReceiveBinary(c, payload)
		}
		return 0, "", false, nil, false, nil
	}
}

// sendProtocolCloseFrame enqueues a Close frame carrying code with no
// reason — the connection's own response to a protocol violation it just
// detected (RFC 6455 Section 7: errors are "converted into a Close
// handshake... when wire state permits"). Returns nil if a Close frame
// is already queued (the application called CloseWithCode, or another
// violation already claimed the Close slot): only one Close frame is ever
// sent, so there is nothing new to wait on.
func (c *Conn) sendProtocolCloseFrame(code CloseCode) <-chan error {
	f, err := newOutboundFrame(opcodeClose, closeFramePayload(code, ""), true)
	if err != nil {
		return nil
	}
	done := make(chan error, 1)
	if qerr := c.sendQ.enqueueControl(encodeFrame(f), opcodeClose, done); qerr != nil {
		return nil
	}
	c.signalWrite()
	return done
}
