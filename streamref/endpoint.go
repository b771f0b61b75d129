package streamref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// RefWriter is the producing end of a reference: the origin endpoint of a
// source ref, or the materialized endpoint of a sink ref. Write blocks
// until the consuming side has granted credit; the session loop itself
// never blocks. Safe for one producer goroutine.
type RefWriter struct {
	session *session
}

func newRefWriter(session *session) *RefWriter {
	return &RefWriter{
		session: session,
	}
}

func (self *RefWriter) SessionId() Id {
	return self.session.sessionId
}

func (self *RefWriter) Role() Role {
	return self.session.role
}

func (self *RefWriter) Write(ctx context.Context, element []byte) error {
	if self.session.settings.MaxElementByteCount < ByteCount(len(element)) {
		return fmt.Errorf("Element exceeds maximum byte count %d.", self.session.settings.MaxElementByteCount)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.session.done:
		return self.terminalError()
	case self.session.writes <- element:
		return nil
	}
}

// Close sends Complete and ends the session normally. Returns the
// terminal error if the session already ended abnormally.
func (self *RefWriter) Close() error {
	select {
	case self.session.localTerm <- &localTermEvent{complete: true}:
		<-self.session.done
		return nil
	case <-self.session.done:
		return self.session.terminalError()
	}
}

// CloseWithTimeout is Close with a bound on how long to wait for the
// session loop to take the completion event.
func (self *RefWriter) CloseWithTimeout(timeout time.Duration) error {
	select {
	case self.session.localTerm <- &localTermEvent{complete: true}:
		<-self.session.done
		return nil
	case <-self.session.done:
		return self.session.terminalError()
	case <-time.After(timeout):
		return fmt.Errorf("Close timeout after %s.", timeout)
	}
}

// Fail sends the error descriptor to the peer and ends the session.
func (self *RefWriter) Fail(failErr error) error {
	select {
	case self.session.localTerm <- &localTermEvent{err: failErr}:
		<-self.session.done
		return nil
	case <-self.session.done:
		return self.session.terminalError()
	}
}

func (self *RefWriter) Done() <-chan struct{} {
	return self.session.done
}

func (self *RefWriter) Stats() *SessionStats {
	return self.session.stats
}

func (self *RefWriter) terminalError() error {
	if err := self.session.terminalError(); err != nil {
		return err
	}
	return errors.New("Closed.")
}

// RefReader is the consuming end of a reference: the materialized
// endpoint of a source ref, or the origin endpoint of a sink ref.
// Elements arrive in producer order. After the final element, Read
// returns io.EOF for normal completion or the terminal error otherwise.
// Safe for one consumer goroutine.
type RefReader struct {
	session *session
}

func newRefReader(session *session) *RefReader {
	return &RefReader{
		session: session,
	}
}

func (self *RefReader) SessionId() Id {
	return self.session.sessionId
}

func (self *RefReader) Role() Role {
	return self.session.role
}

func (self *RefReader) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case element, ok := <-self.session.reads:
		if !ok {
			if err := self.session.terminalError(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return element, nil
	}
}

// Close cancels consumption. The producer observes a remote failure with
// a canceled descriptor.
func (self *RefReader) Close() error {
	select {
	case self.session.localTerm <- &localTermEvent{complete: true}:
		<-self.session.done
	case <-self.session.done:
	}
	return nil
}

func (self *RefReader) Done() <-chan struct{} {
	return self.session.done
}

func (self *RefReader) Stats() *SessionStats {
	return self.session.stats
}

// SessionStats are cumulative counters for one session half.
type SessionStats struct {
	elementsSent     atomic.Int64
	bytesSent        atomic.Int64
	elementsReceived atomic.Int64
	bytesReceived    atomic.Int64
	creditGranted    atomic.Int64
}

func (self *SessionStats) addSent(elements int64, byteCount ByteCount) {
	self.elementsSent.Add(elements)
	self.bytesSent.Add(byteCount)
}

func (self *SessionStats) addReceived(elements int64, byteCount ByteCount) {
	self.elementsReceived.Add(elements)
	self.bytesReceived.Add(byteCount)
}

func (self *SessionStats) addGranted(credit int64) {
	self.creditGranted.Add(credit)
}

func (self *SessionStats) ElementsSent() int64 {
	return self.elementsSent.Load()
}

func (self *SessionStats) BytesSent() ByteCount {
	return self.bytesSent.Load()
}

func (self *SessionStats) ElementsReceived() int64 {
	return self.elementsReceived.Load()
}

func (self *SessionStats) BytesReceived() ByteCount {
	return self.bytesReceived.Load()
}

func (self *SessionStats) CreditGranted() int64 {
	return self.creditGranted.Load()
}
