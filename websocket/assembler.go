package websocket

// assemblerState is the message assembler's reassembly state.
type assemblerState int

const (
	assemblerIdle assemblerState = iota
	assemblerText
	assemblerBinary
)

// messageAssembler reassembles fragmented Text/Binary messages from the
// sequence of data frames produced by the frame decoder, validating UTF-8
// incrementally as Text fragments arrive. Control frames never pass
// through it: the connection state machine handles them directly and
// they may be freely interleaved without disturbing assembly in progress.
//
// At most one message is ever under assembly: a Continuation frame with
// no assembly in progress, or a Text/Binary frame while one is already in
// progress, is a protocol violation (RFC 6455 Section 5.4).
type messageAssembler struct {
	state   assemblerState
	buf     []byte
	utf8    utf8Validator
	maxSize uint64
}

// feedFrame processes one data frame (opcode Continuation/Text/Binary).
// It returns (messageType, payload, true, nil) once fin completes a
// message, (0, nil, false, nil) if the message is still being assembled,
// or a non-nil error on a fragmentation or UTF-8 violation.
func (a *messageAssembler) feedFrame(f *frame) (MessageType, []byte, bool, error) {
	switch f.opcode {
	case opcodeText, opcodeBinary:
		if a.state != assemblerIdle {
			return 0, nil, false, ErrUnexpectedDataFrame
		}
		if f.opcode == opcodeText {
			a.state = assemblerText
			a.utf8.reset()
		} else {
			a.state = assemblerBinary
		}
		a.buf = a.buf[:0]
		return a.appendAndMaybeComplete(f)

	case opcodeContinuation:
		if a.state == assemblerIdle {
			return 0, nil, false, ErrUnexpectedContinuation
		}
		return a.appendAndMaybeComplete(f)

	default:
		// Control frames never reach the assembler; callers dispatch
		// them before calling feedFrame.
		return 0, nil, false, ErrProtocolError
	}
}

func (a *messageAssembler) appendAndMaybeComplete(f *frame) (MessageType, []byte, bool, error) {
	if a.state == assemblerText {
		switch a.utf8.feed(f.payload) {
		case utf8Invalid:
			a.state = assemblerIdle
			return 0, nil, false, ErrInvalidUTF8
		case utf8Incomplete:
			if f.fin {
				a.state = assemblerIdle
				return 0, nil, false, ErrInvalidUTF8
			}
		}
	}

	if a.maxSize > 0 && uint64(len(a.buf)+len(f.payload)) > a.maxSize {
		a.state = assemblerIdle
		return 0, nil, false, ErrMessageTooLarge
	}
	a.buf = append(a.buf, f.payload...)

	if !f.fin {
		return 0, nil, false, nil
	}

	msgType := TextMessage
	if a.state == assemblerBinary {
		msgType = BinaryMessage
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.state = assemblerIdle
	a.buf = a.buf[:0]
	return msgType, out, true, nil
}

// assembling reports whether a message is currently being reassembled.
// The connection state machine does not consult it: a Close (like any
// control frame) is accepted mid-assembly without disturbing it.
func (a *messageAssembler) assembling() bool {
	return a.state != assemblerIdle
}
