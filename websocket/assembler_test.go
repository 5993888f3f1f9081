package websocket

import (
	"bytes"
	"errors"
	"testing"
)

func textFrame(payload string, fin bool) *frame {
	return &frame{fin: fin, opcode: opcodeText, payload: []byte(payload)}
}

func binaryFrame(payload []byte, fin bool) *frame {
	return &frame{fin: fin, opcode: opcodeBinary, payload: payload}
}

func continuationFrame(payload string, fin bool) *frame {
	return &frame{fin: fin, opcode: opcodeContinuation, payload: []byte(payload)}
}

func TestMessageAssemblerUnfragmentedText(t *testing.T) {
	var a messageAssembler
	msgType, payload, complete, err := a.feedFrame(textFrame("hello", true))
	if err != nil {
		t.Fatalf("feedFrame: %v", err)
	}
	if !complete || msgType != TextMessage || string(payload) != "hello" {
		t.Fatalf("got (%v, %q, %v), want (Text, hello, true)", msgType, payload, complete)
	}
	if a.assembling() {
		t.Fatal("assembler should be idle after a complete message")
	}
}

func TestMessageAssemblerFragmentedText(t *testing.T) {
	var a messageAssembler

	_, _, complete, err := a.feedFrame(textFrame("hel", false))
	if err != nil || complete {
		t.Fatalf("first fragment: complete=%v err=%v", complete, err)
	}
	if !a.assembling() {
		t.Fatal("assembler should be mid-assembly")
	}

	_, _, complete, err = a.feedFrame(continuationFrame("lo ", false))
	if err != nil || complete {
		t.Fatalf("second fragment: complete=%v err=%v", complete, err)
	}

	msgType, payload, complete, err := a.feedFrame(continuationFrame("world", true))
	if err != nil {
		t.Fatalf("final fragment: %v", err)
	}
	if !complete || msgType != TextMessage || string(payload) != "hello world" {
		t.Fatalf("got (%v, %q, %v)", msgType, payload, complete)
	}
}

func TestMessageAssemblerUnexpectedContinuation(t *testing.T) {
	var a messageAssembler
	_, _, _, err := a.feedFrame(continuationFrame("x", true))
	if !errors.Is(err, ErrUnexpectedContinuation) {
		t.Fatalf("err = %v, want ErrUnexpectedContinuation", err)
	}
}

func TestMessageAssemblerDataFrameMidAssembly(t *testing.T) {
	var a messageAssembler
	if _, _, _, err := a.feedFrame(textFrame("start", false)); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	_, _, _, err := a.feedFrame(binaryFrame([]byte{1, 2}, true))
	if !errors.Is(err, ErrUnexpectedDataFrame) {
		t.Fatalf("err = %v, want ErrUnexpectedDataFrame", err)
	}
}

func TestMessageAssemblerInvalidUTF8AcrossFragments(t *testing.T) {
	var a messageAssembler

	// Split a valid 3-byte sequence so that the first fragment ends mid
	// sequence, then complete it with an invalid continuation byte.
	if _, _, _, err := a.feedFrame(textFrame(string([]byte{0xE2, 0x82}), false)); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	_, _, _, err := a.feedFrame(continuationFrame(string([]byte{0x00}), true))
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestMessageAssemblerIncompleteSequenceAtFin(t *testing.T) {
	var a messageAssembler
	// A lone lead byte of a 2-byte sequence with fin=true can never
	// complete: it must be rejected even though no invalid byte was ever
	// fed.
	_, _, _, err := a.feedFrame(textFrame(string([]byte{0xC2}), true))
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestMessageAssemblerMaxSize(t *testing.T) {
	a := messageAssembler{maxSize: 4}
	_, _, _, err := a.feedFrame(binaryFrame(bytes.Repeat([]byte{0xFF}, 5), true))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestMessageAssemblerBinaryIgnoresUTF8(t *testing.T) {
	var a messageAssembler
	invalid := []byte{0xC0, 0x80}
	msgType, payload, complete, err := a.feedFrame(binaryFrame(invalid, true))
	if err != nil {
		t.Fatalf("binary with invalid-UTF8 bytes should not error: %v", err)
	}
	if !complete || msgType != BinaryMessage || !bytes.Equal(payload, invalid) {
		t.Fatalf("got (%v, %x, %v)", msgType, payload, complete)
	}
}
