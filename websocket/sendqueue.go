package websocket

import "sync"

// defaultHighWaterMark is the queued-payload byte threshold at which
// enqueue starts rejecting new data frames with ErrBusy, absent an
// explicit ClientOptions.HighWaterMark.
const defaultHighWaterMark = 4 * 1024 * 1024

// queuedFrame is one outbound frame waiting for the write loop, along
// with the done channel Close uses to wait for its own frame to clear
// the wire.
type queuedFrame struct {
	data []byte
	done chan<- error
}

// sendQueue is the connection's outbound queue, split into two lanes per
// spec.md Section 4.E: control frames (Ping, Pong, Close) are enqueued
// "ahead of pending data frames but behind a currently in-flight write."
// Since dequeue always drains the control lane first, a Ping/Close queued
// behind an arbitrarily large backlog of Text/Binary sends still reaches
// the wire as soon as whatever frame is currently mid-write completes,
// bounding pong/close latency regardless of send volume. Control frames
// remain FIFO relative to one another.
//
// sendQueue tracks only the byte size of currently queued data frames
// for backpressure purposes; control frames don't count against
// HighWaterMark since they cannot be produced faster than the
// connection state machine drives them.
type sendQueue struct {
	mu            sync.Mutex
	control       []queuedFrame
	data          []queuedFrame
	dataBytes     int
	highWaterMark int
	closed        bool
}

func newSendQueue(highWaterMark int) *sendQueue {
	if highWaterMark <= 0 {
		highWaterMark = defaultHighWaterMark
	}
	return &sendQueue{highWaterMark: highWaterMark}
}

// enqueueData appends a data frame's wire bytes to the queue, applying
// backpressure: once Depth() would exceed the high water mark, it
// returns ErrBusy instead of growing the queue further. Once the queue
// has accepted a Close frame, every subsequent enqueue fails with
// ErrInvalidState.
func (q *sendQueue) enqueueData(data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrInvalidState
	}
	if q.dataBytes+len(data) > q.highWaterMark {
		return ErrBusy
	}
	q.data = append(q.data, queuedFrame{data: data})
	q.dataBytes += len(data)
	return nil
}

// enqueueControl appends a control frame (Ping/Pong/Close) to the control
// lane, bypassing the HighWaterMark check (control frames are never
// produced in an unbounded loop the way application sends can be) and
// bypassing whatever data frames are already queued: dequeue always
// drains this lane first. If opcode is Close, the queue is marked closed
// after this frame and done (if non-nil) is signaled once the write loop
// has written it.
func (q *sendQueue) enqueueControl(data []byte, opcode byte, done chan<- error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrInvalidState
	}
	q.control = append(q.control, queuedFrame{data: data, done: done})
	if opcode == opcodeClose {
		q.closed = true
	}
	return nil
}

// dequeue pops the next frame to write, preferring the control lane over
// the data lane, or ok=false if both are empty.
func (q *sendQueue) dequeue() (qf queuedFrame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.control) > 0 {
		qf = q.control[0]
		q.control = q.control[1:]
		return qf, true
	}
	if len(q.data) == 0 {
		return queuedFrame{}, false
	}
	qf = q.data[0]
	q.data = q.data[1:]
	q.dataBytes -= len(qf.data)
	if q.dataBytes < 0 {
		q.dataBytes = 0
	}
	return qf, true
}

// Depth returns the total bytes of data frames currently queued.
func (q *sendQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dataBytes
}

// cancelRemaining delivers ErrCancelled to every still-queued frame's
// completion channel and empties both lanes. Called once, from finish,
// when the connection tears down: a frame that never reached the write
// loop would otherwise leave its waiter (CloseWithCode's wireDone, an
// echo or protocol-close drain) blocked until closeTimeout instead of
// learning promptly that it was cancelled.
func (q *sendQueue) cancelRemaining() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, qf := range q.control {
		if qf.done != nil {
			qf.done <- ErrCancelled
		}
	}
	for _, qf := range q.data {
		if qf.done != nil {
			qf.done <- ErrCancelled
		}
	}
	q.control = nil
	q.data = nil
	q.dataBytes = 0
	q.closed = true
}
