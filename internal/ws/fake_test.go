package ws

import (
	"sync"
)

type fakeConn struct {
	id string

	mu          sync.Mutex
	frames      []OutboundFrame
	sendErr     error
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame.(OutboundFrame))
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeConn) sent() []OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
