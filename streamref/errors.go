package streamref

import (
	"fmt"
	"time"
)

// Every session ends in exactly one of: normal completion (io.EOF on the
// reader side, nil on the writer side) or one of the errors below. The
// protocol never retries a lost session; recovery is a new handle.

// SubscriptionTimeoutError: the target never materialized the handle
// within the origin's subscription timeout. Surfaced on the origin when
// the timer fires, and on a late target when the origin answers Expired.
type SubscriptionTimeoutError struct {
	SessionId Id
	Timeout   time.Duration
}

func (self *SubscriptionTimeoutError) Error() string {
	if self.Timeout <= 0 {
		return fmt.Sprintf("Subscription expired (%s).", self.SessionId)
	}
	return fmt.Sprintf("Subscription timeout after %s (%s).", self.Timeout, self.SessionId)
}

// AlreadyMaterializedError: the handle was materialized a second time.
// Detected locally on the target without contacting the origin.
type AlreadyMaterializedError struct {
	SessionId Id
}

func (self *AlreadyMaterializedError) Error() string {
	return fmt.Sprintf("Reference already materialized (%s).", self.SessionId)
}

// ProtocolViolationError: the peer broke the credit protocol, e.g. sent
// more elements than granted, a negative credit grant, or a duplicate
// sequence number.
type ProtocolViolationError struct {
	SessionId Id
	Reason    string
}

func (self *ProtocolViolationError) Error() string {
	return fmt.Sprintf("Protocol violation: %s (%s).", self.Reason, self.SessionId)
}

// RemoteFailureError: the peer reported that its local pipeline failed or
// canceled.
type RemoteFailureError struct {
	SessionId Id
	Kind      uint32
	Message   string
}

func (self *RemoteFailureError) Error() string {
	return fmt.Sprintf("Remote failure: %s (%s).", self.Message, self.SessionId)
}

// PeerUnreachableError: the failure detector declared the peer
// unreachable while the session was live.
type PeerUnreachableError struct {
	SessionId Id
	PeerId    Id
}

func (self *PeerUnreachableError) Error() string {
	return fmt.Sprintf("Peer %s unreachable (%s).", self.PeerId, self.SessionId)
}

// CanceledError: the local endpoint canceled the session, or the owning
// manager closed.
type CanceledError struct {
	SessionId Id
}

func (self *CanceledError) Error() string {
	return fmt.Sprintf("Canceled (%s).", self.SessionId)
}
