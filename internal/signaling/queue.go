package signaling

import (
	"errors"
	"sync"
)

var (
	errSendQueueFull   = errors.New("send queue full")
	errSendQueueClosed = errors.New("send queue closed")
)

type queuedFrame struct {
	data []byte
	// exempt frames were produced by the server itself and do not count
	// against the slow-consumer bounds.
	exempt bool
}

// sendQueue is a FIFO of encoded frames bounded by both frame count and total
// bytes. Enqueue never blocks, so the Hub never waits on a slow peer.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxFrames int
	maxBytes  int
	curBytes  int
	frames    []queuedFrame

	exemptFrames int
	exemptBytes  int
}

func newSendQueue(maxFrames, maxBytes int) *sendQueue {
	q := &sendQueue{maxFrames: maxFrames, maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) Enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errSendQueueClosed
	}
	frames := len(q.frames) - q.exemptFrames
	bytes := q.curBytes - q.exemptBytes
	if frames+1 > q.maxFrames || bytes+len(frame) > q.maxBytes {
		return errSendQueueFull
	}

	q.frames = append(q.frames, queuedFrame{data: frame})
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return nil
}

// EnqueueBurst appends frames without checking the bounds. It is for the
// registration reply, whose size follows the registry population rather than
// the peer's behaviour. Burst frames never count towards later Enqueue
// checks.
func (q *sendQueue) EnqueueBurst(frames [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errSendQueueClosed
	}
	for _, frame := range frames {
		q.frames = append(q.frames, queuedFrame{data: frame, exempt: true})
		q.curBytes += len(frame)
		q.exemptFrames++
		q.exemptBytes += len(frame)
	}
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a frame is available or the queue is closed.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = queuedFrame{}
	q.frames = q.frames[1:]
	q.curBytes -= len(f.data)
	if f.exempt {
		q.exemptFrames--
		q.exemptBytes -= len(f.data)
	}
	return f.data, true
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close discards pending frames and wakes any blocked Dequeue.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.exemptFrames = 0
	q.exemptBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
