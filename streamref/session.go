package streamref

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/streammesh/streamref/protocol"
)

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		SubscriptionTimeout: 30 * time.Second,
		DemandBatchSize:     32,
		DemandLowWaterMark:  16,
		MailboxSize:         32,
		MaxElementByteCount: kib(64),
	}
}

type SessionSettings struct {
	// how long the origin waits for the target to materialize
	SubscriptionTimeout time.Duration
	// credit granted per refill by the consuming side
	DemandBatchSize int64
	// demand is issued when outstanding commitments fall to this mark
	DemandLowWaterMark int64
	MailboxSize        int
	MaxElementByteCount ByteCount
}

type sessionSide int

const (
	sideOrigin sessionSide = 1
	sideTarget sessionSide = 2
)

type sessionState int

const (
	stateAwaitingSubscription sessionState = iota
	stateConnecting
	stateActive
	stateDraining
	stateCompleted
	stateFailed
	stateTimedOut
)

func (self sessionState) String() string {
	switch self {
	case stateAwaitingSubscription:
		return "awaiting_subscription"
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	case stateDraining:
		return "draining"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

type sessionMessage struct {
	sourceId Id
	message  protocol.Message
}

type localTermEvent struct {
	complete bool
	err      error
}

// One session is half of one reference: the origin half or the target
// half. Both halves run the same loop; which side produces elements
// follows from the side and the handle role. All flow state is owned by
// the run goroutine and driven by the mailbox, local writes/reads, the
// subscription timer, and the peer down signal. No locking inside the
// loop.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager   *Manager
	sessionId Id
	side      sessionSide
	role      Role
	// this side pushes elements
	producer bool

	settings *SessionSettings

	messages  chan *sessionMessage
	writes    chan []byte
	localTerm chan *localTermEvent
	reads     chan []byte
	done      chan struct{}

	peerDownOnce   sync.Once
	peerDownSignal chan struct{}

	stats *SessionStats

	peerMutex sync.Mutex
	peerId    Id
	hasPeer   bool

	terminalMutex sync.Mutex
	terminalSet   bool
	terminalErr   error
	finalState    sessionState

	// owned by the run loop
	state       sessionState
	credit      creditWindow
	nextSendSeq uint64
	granted     int64
	nextRecvSeq uint64
	finalSeq    uint64
	hasFinalSeq bool
	pending     *pendingDataQueue
	deliver     [][]byte
}

func newSession(
	ctx context.Context,
	manager *Manager,
	sessionId Id,
	side sessionSide,
	role Role,
	settings *SessionSettings,
) *session {
	cancelCtx, cancel := context.WithCancel(ctx)

	state := stateAwaitingSubscription
	if side == sideTarget {
		state = stateConnecting
	}

	return &session{
		ctx:            cancelCtx,
		cancel:         cancel,
		manager:        manager,
		sessionId:      sessionId,
		side:           side,
		role:           role,
		producer:       (side == sideOrigin) == (role == RoleSource),
		settings:       settings,
		messages:       make(chan *sessionMessage, settings.MailboxSize),
		writes:         make(chan []byte),
		localTerm:      make(chan *localTermEvent),
		reads:          make(chan []byte),
		done:           make(chan struct{}),
		peerDownSignal: make(chan struct{}),
		stats:          &SessionStats{},
		state:          state,
		pending:        newPendingDataQueue(),
	}
}

func (self *session) tag() string {
	if self.side == sideOrigin {
		return "or"
	}
	return "tg"
}

func (self *session) setPeer(peerId Id) {
	self.peerMutex.Lock()
	defer self.peerMutex.Unlock()
	self.peerId = peerId
	self.hasPeer = true
}

func (self *session) peer() (Id, bool) {
	self.peerMutex.Lock()
	defer self.peerMutex.Unlock()
	return self.peerId, self.hasPeer
}

func (self *session) peerMatches(peerId Id) bool {
	self.peerMutex.Lock()
	defer self.peerMutex.Unlock()
	return self.hasPeer && self.peerId == peerId
}

// receive queues a validated protocol message onto the session mailbox.
// Returns false once the session reached a terminal state.
func (self *session) receive(sourceId Id, message protocol.Message) bool {
	select {
	case <-self.done:
		return false
	case self.messages <- &sessionMessage{
		sourceId: sourceId,
		message:  message,
	}:
		return true
	}
}

func (self *session) notifyPeerDown() {
	self.peerDownOnce.Do(func() {
		close(self.peerDownSignal)
	})
}

// setTerminal records the terminal state exactly once, unregisters the
// session, and releases the local endpoint. Safe to call from the run
// loop or from the panic handler.
func (self *session) setTerminal(state sessionState, err error) bool {
	self.terminalMutex.Lock()
	if self.terminalSet {
		self.terminalMutex.Unlock()
		return false
	}
	self.terminalSet = true
	self.finalState = state
	self.terminalErr = err
	self.terminalMutex.Unlock()

	self.manager.closeSession(self)
	close(self.done)
	close(self.reads)
	self.cancel()

	glog.V(1).Infof("[%s]%s %s = %s\n", self.tag(), self.sessionId, state, err)
	return true
}

func (self *session) terminalError() error {
	self.terminalMutex.Lock()
	defer self.terminalMutex.Unlock()
	return self.terminalErr
}

func (self *session) terminalState() (sessionState, bool) {
	self.terminalMutex.Lock()
	defer self.terminalMutex.Unlock()
	return self.finalState, self.terminalSet
}

func (self *session) sendToPeer(message protocol.Message) bool {
	peerId, ok := self.peer()
	if !ok {
		return false
	}
	frame, err := ToFrame(message)
	if err != nil {
		return false
	}
	switch message.(type) {
	case *protocol.Demand, *protocol.Data, *protocol.Complete, *protocol.Fail:
		// these flow in both directions; route to the other half
		frame.ToOrigin = self.side == sideTarget
	}
	return self.manager.sendFrame(peerId, frame)
}

func (self *session) run() {
	defer self.cancel()

	var subscriptionTimer *time.Timer
	var subscriptionC <-chan time.Time

	switch self.side {
	case sideOrigin:
		subscriptionTimer = time.NewTimer(self.settings.SubscriptionTimeout)
		subscriptionC = subscriptionTimer.C
		defer subscriptionTimer.Stop()
	case sideTarget:
		if !self.sendToPeer(&protocol.TargetAnnounce{
			SessionId: self.sessionId.Bytes(),
		}) {
			peerId, _ := self.peer()
			self.setTerminal(stateFailed, &PeerUnreachableError{
				SessionId: self.sessionId,
				PeerId:    peerId,
			})
			return
		}
	}

	for {
		var writesC chan []byte
		if self.producer && self.state == stateActive && 0 < self.credit.Balance() {
			writesC = self.writes
		}

		var readsC chan []byte
		var nextElement []byte
		if !self.producer && 0 < len(self.deliver) {
			readsC = self.reads
			nextElement = self.deliver[0]
		}

		select {
		case <-self.ctx.Done():
			self.setTerminal(stateFailed, &CanceledError{SessionId: self.sessionId})
			return

		case <-self.peerDownSignal:
			peerId, _ := self.peer()
			self.setTerminal(stateFailed, &PeerUnreachableError{
				SessionId: self.sessionId,
				PeerId:    peerId,
			})
			return

		case <-subscriptionC:
			if self.state == stateAwaitingSubscription {
				self.setTerminal(stateTimedOut, &SubscriptionTimeoutError{
					SessionId: self.sessionId,
					Timeout:   self.settings.SubscriptionTimeout,
				})
				return
			}
			subscriptionC = nil

		case event := <-self.localTerm:
			self.handleLocalTerm(event)
			return

		case element := <-writesC:
			self.credit.Take()
			seq := self.nextSendSeq
			self.nextSendSeq += 1
			if !self.sendToPeer(&protocol.Data{
				SessionId: self.sessionId.Bytes(),
				Element:   element,
				Seq:       seq,
			}) {
				// a refused element would gap the sequence
				peerId, _ := self.peer()
				self.setTerminal(stateFailed, &PeerUnreachableError{
					SessionId: self.sessionId,
					PeerId:    peerId,
				})
				return
			}
			self.stats.addSent(1, ByteCount(len(element)))
			glog.V(2).Infof("[%s]%s data seq=%d ->\n", self.tag(), self.sessionId, seq)

		case readsC <- nextElement:
			self.deliver = self.deliver[1:]
			if self.drainFinished() {
				self.setTerminal(stateCompleted, nil)
				return
			}
			self.maybeDemand()

		case m := <-self.messages:
			var exit bool
			switch self.side {
			case sideOrigin:
				exit = self.handleOriginMessage(m)
			case sideTarget:
				exit = self.handleTargetMessage(m)
			}
			if exit {
				return
			}
			if subscriptionTimer != nil && self.state != stateAwaitingSubscription {
				// handoff happened; the timer is released exactly once here
				subscriptionTimer.Stop()
				subscriptionTimer = nil
				subscriptionC = nil
			}
		}
	}
}

func (self *session) handleLocalTerm(event *localTermEvent) {
	if event.complete {
		if self.producer {
			self.sendToPeer(&protocol.Complete{
				SessionId: self.sessionId.Bytes(),
				Seq:       self.nextSendSeq,
			})
			self.setTerminal(stateCompleted, nil)
		} else {
			// a consumer closing early cancels the stream
			self.sendToPeer(&protocol.Fail{
				SessionId:    self.sessionId.Bytes(),
				ErrorKind:    protocol.ErrorKindCanceled,
				ErrorMessage: "Canceled by consumer.",
			})
			self.setTerminal(stateFailed, &CanceledError{SessionId: self.sessionId})
		}
	} else {
		self.sendToPeer(&protocol.Fail{
			SessionId:    self.sessionId.Bytes(),
			ErrorKind:    protocol.ErrorKindEndpoint,
			ErrorMessage: event.err.Error(),
		})
		self.setTerminal(stateFailed, event.err)
	}
}

func (self *session) drainFinished() bool {
	return self.hasFinalSeq &&
		self.nextRecvSeq == self.finalSeq &&
		len(self.deliver) == 0 &&
		self.pending.Len() == 0
}

// maybeDemand issues a credit grant sized to refill the in-flight window.
// Commitments count credit already granted plus elements buffered ahead
// of the local endpoint.
func (self *session) maybeDemand() {
	if self.producer || self.state != stateActive {
		return
	}
	commitments := self.granted + int64(self.pending.Len()) + int64(len(self.deliver))
	delta := demandDelta(commitments, self.settings.DemandBatchSize, self.settings.DemandLowWaterMark)
	if delta <= 0 {
		return
	}
	if self.sendToPeer(&protocol.Demand{
		SessionId:   self.sessionId.Bytes(),
		CreditDelta: delta,
	}) {
		self.granted += delta
		self.stats.addGranted(delta)
		glog.V(2).Infof("[%s]%s demand +%d\n", self.tag(), self.sessionId, delta)
	}
}

// violation fails the session on both sides. Returns true to exit the
// run loop.
func (self *session) violation(reason string) bool {
	glog.Infof("[%s]%s violation: %s\n", self.tag(), self.sessionId, reason)
	self.sendToPeer(&protocol.Fail{
		SessionId:    self.sessionId.Bytes(),
		ErrorKind:    protocol.ErrorKindViolation,
		ErrorMessage: reason,
	})
	self.setTerminal(stateFailed, &ProtocolViolationError{
		SessionId: self.sessionId,
		Reason:    reason,
	})
	return true
}

func (self *session) handleDemand(m *protocol.Demand) bool {
	if !self.producer {
		return self.violation("demand received by consumer")
	}
	if err := self.credit.Grant(m.CreditDelta); err != nil {
		return self.violation(err.Error())
	}
	glog.V(2).Infof("[%s]%s credit +%d = %d\n", self.tag(), self.sessionId, m.CreditDelta, self.credit.Balance())
	return false
}

func (self *session) handleData(m *protocol.Data) bool {
	if self.producer {
		return self.violation("data received by producer")
	}
	if self.granted <= 0 {
		return self.violation("credit exceeded")
	}
	self.granted -= 1
	if m.Seq < self.nextRecvSeq || self.pending.ContainsSeq(m.Seq) {
		return self.violation(fmt.Sprintf("duplicate seq %d", m.Seq))
	}
	self.stats.addReceived(1, ByteCount(len(m.Element)))
	if m.Seq == self.nextRecvSeq {
		self.deliver = append(self.deliver, m.Element)
		self.nextRecvSeq += 1
		// pull forward any elements that arrived ahead of sequence
		for {
			element, ok := self.pending.RemoveSeq(self.nextRecvSeq)
			if !ok {
				break
			}
			self.deliver = append(self.deliver, element)
			self.nextRecvSeq += 1
		}
	} else {
		self.pending.Add(m.Seq, m.Element)
	}
	self.maybeDemand()
	return false
}

func (self *session) handleComplete(m *protocol.Complete) bool {
	if self.producer {
		// the remote consumer finished the stream
		self.setTerminal(stateCompleted, nil)
		return true
	}
	self.hasFinalSeq = true
	self.finalSeq = m.Seq
	if self.drainFinished() {
		self.setTerminal(stateCompleted, nil)
		return true
	}
	// in-flight data is still owed; keep delivering, stop granting
	self.state = stateDraining
	return false
}

func (self *session) handleFail(m *protocol.Fail) bool {
	self.setTerminal(stateFailed, &RemoteFailureError{
		SessionId: self.sessionId,
		Kind:      m.ErrorKind,
		Message:   m.ErrorMessage,
	})
	return true
}
