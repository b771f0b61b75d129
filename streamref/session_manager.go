package streamref

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"

	"github.com/streammesh/streamref/protocol"
)

func DefaultManagerSettings() *ManagerSettings {
	return &ManagerSettings{
		SessionSettings:      DefaultSessionSettings(),
		MaxSpentSessionCount: 4096,
	}
}

type ManagerSettings struct {
	SessionSettings *SessionSettings
	// spent session ids are remembered to answer late peers and to
	// enforce single-shot materialization; oldest entries are dropped
	// beyond this count
	MaxSpentSessionCount int
}

type spentState int

const (
	spentClosed       spentState = 1
	spentExpired      spentState = 2
	spentMaterialized spentState = 3
)

type spentKey struct {
	sessionId Id
	origin    bool
}

// Manager owns all reference sessions for one endpoint: the arena keyed
// by session id, the single-shot check, receive dispatch, and peer loss
// fanout. Origin and target halves are kept in separate registries so a
// reference can be materialized on its own origin endpoint.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	endpointId Id
	messenger  Messenger
	settings   *ManagerSettings

	mutex          sync.Mutex
	originSessions map[Id]*session
	targetSessions map[Id]*session
	spentOrigin    map[Id]spentState
	spentTarget    map[Id]spentState
	spentOrder     []spentKey

	unsubReceive  func()
	unsubPeerDown func()
}

func NewManagerWithDefaults(ctx context.Context, endpointId Id, messenger Messenger) *Manager {
	return NewManager(ctx, endpointId, messenger, DefaultManagerSettings())
}

func NewManager(ctx context.Context, endpointId Id, messenger Messenger, settings *ManagerSettings) *Manager {
	cancelCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:            cancelCtx,
		cancel:         cancel,
		endpointId:     endpointId,
		messenger:      messenger,
		settings:       settings,
		originSessions: map[Id]*session{},
		targetSessions: map[Id]*session{},
		spentOrigin:    map[Id]spentState{},
		spentTarget:    map[Id]spentState{},
		spentOrder:     []spentKey{},
	}

	manager.unsubReceive = messenger.AddReceiver(endpointId, manager.receive)
	manager.unsubPeerDown = messenger.AddPeerDownCallback(manager.peerDown)

	return manager
}

func (self *Manager) EndpointId() Id {
	return self.endpointId
}

// AllocateSourceRef registers an origin session for a local producer and
// returns its handle. Data transfer starts when a target materializes
// the handle; the subscription timer is already armed.
func (self *Manager) AllocateSourceRef() (SourceRefHandle, *RefWriter) {
	return self.AllocateSourceRefWithTimeout(self.settings.SessionSettings.SubscriptionTimeout)
}

func (self *Manager) AllocateSourceRefWithTimeout(timeout time.Duration) (SourceRefHandle, *RefWriter) {
	refSession := self.allocateOrigin(RoleSource, timeout)
	handle := SourceRefHandle{
		EndpointId: self.endpointId,
		SessionId:  refSession.sessionId,
	}
	return handle, newRefWriter(refSession)
}

// AllocateSinkRef registers an origin session for a local consumer.
func (self *Manager) AllocateSinkRef() (SinkRefHandle, *RefReader) {
	return self.AllocateSinkRefWithTimeout(self.settings.SessionSettings.SubscriptionTimeout)
}

func (self *Manager) AllocateSinkRefWithTimeout(timeout time.Duration) (SinkRefHandle, *RefReader) {
	refSession := self.allocateOrigin(RoleSink, timeout)
	handle := SinkRefHandle{
		EndpointId: self.endpointId,
		SessionId:  refSession.sessionId,
	}
	return handle, newRefReader(refSession)
}

func (self *Manager) allocateOrigin(role Role, timeout time.Duration) *session {
	settings := *self.settings.SessionSettings
	settings.SubscriptionTimeout = timeout

	refSession := newSession(self.ctx, self, NewId(), sideOrigin, role, &settings)

	self.mutex.Lock()
	self.originSessions[refSession.sessionId] = refSession
	self.mutex.Unlock()

	go HandleError(refSession.run, func(err error) {
		refSession.setTerminal(stateFailed, err)
	})

	glog.V(1).Infof("[mgr]%s allocate %s %s\n", self.endpointId, role, refSession.sessionId)
	return refSession
}

// MaterializeSource runs a source ref: the local side is a consumer.
// A second attempt on the same handle fails with
// AlreadyMaterializedError without contacting the origin.
func (self *Manager) MaterializeSource(handle SourceRefHandle) (*RefReader, error) {
	refSession, err := self.materializeTarget(handle.EndpointId, handle.SessionId, RoleSource)
	if err != nil {
		return nil, err
	}
	return newRefReader(refSession), nil
}

// MaterializeSink runs a sink ref: the local side is a producer.
func (self *Manager) MaterializeSink(handle SinkRefHandle) (*RefWriter, error) {
	refSession, err := self.materializeTarget(handle.EndpointId, handle.SessionId, RoleSink)
	if err != nil {
		return nil, err
	}
	return newRefWriter(refSession), nil
}

func (self *Manager) materializeTarget(originId Id, sessionId Id, role Role) (*session, error) {
	self.mutex.Lock()
	if _, ok := self.targetSessions[sessionId]; ok {
		self.mutex.Unlock()
		return nil, &AlreadyMaterializedError{SessionId: sessionId}
	}
	if _, ok := self.spentTarget[sessionId]; ok {
		self.mutex.Unlock()
		return nil, &AlreadyMaterializedError{SessionId: sessionId}
	}
	refSession := newSession(self.ctx, self, sessionId, sideTarget, role, self.settings.SessionSettings)
	refSession.setPeer(originId)
	self.targetSessions[sessionId] = refSession
	self.mutex.Unlock()

	go HandleError(refSession.run, func(err error) {
		refSession.setTerminal(stateFailed, err)
	})

	glog.V(1).Infof("[mgr]%s materialize %s %s origin=%s\n", self.endpointId, role, sessionId, originId)
	return refSession, nil
}

// closeSession moves a terminal session out of the live arena. Stale
// messages for the session id are dropped afterward, except that an
// expired origin answers Expired so a late target fails fast.
func (self *Manager) closeSession(refSession *session) {
	finalState, _ := refSession.terminalState()

	self.mutex.Lock()
	defer self.mutex.Unlock()

	switch refSession.side {
	case sideOrigin:
		if self.originSessions[refSession.sessionId] == refSession {
			delete(self.originSessions, refSession.sessionId)
		}
		state := spentClosed
		if finalState == stateTimedOut {
			state = spentExpired
		}
		self.addSpentLocked(refSession.sessionId, true, state)
	case sideTarget:
		if self.targetSessions[refSession.sessionId] == refSession {
			delete(self.targetSessions, refSession.sessionId)
		}
		self.addSpentLocked(refSession.sessionId, false, spentMaterialized)
	}
}

func (self *Manager) addSpentLocked(sessionId Id, origin bool, state spentState) {
	if origin {
		self.spentOrigin[sessionId] = state
	} else {
		self.spentTarget[sessionId] = state
	}
	self.spentOrder = append(self.spentOrder, spentKey{
		sessionId: sessionId,
		origin:    origin,
	})
	for self.settings.MaxSpentSessionCount < len(self.spentOrder) {
		oldest := self.spentOrder[0]
		self.spentOrder = self.spentOrder[1:]
		if oldest.origin {
			delete(self.spentOrigin, oldest.sessionId)
		} else {
			delete(self.spentTarget, oldest.sessionId)
		}
	}
}

// ReceiveFunction
func (self *Manager) receive(sourceId Id, frame *protocol.Frame) {
	message, err := FromFrame(frame)
	if err != nil {
		glog.Infof("[mgr]%s bad frame = %s\n", self.endpointId, err)
		return
	}
	sessionId, err := sessionIdOf(message)
	if err != nil {
		glog.Infof("[mgr]%s bad session id = %s\n", self.endpointId, err)
		return
	}

	self.mutex.Lock()
	var refSession *session
	var ok bool
	var spent spentState
	var spentOk bool
	if frame.ToOrigin {
		refSession, ok = self.originSessions[sessionId]
		spent, spentOk = self.spentOrigin[sessionId]
	} else {
		refSession, ok = self.targetSessions[sessionId]
	}
	self.mutex.Unlock()

	if ok {
		refSession.receive(sourceId, message)
		return
	}

	if spentOk {
		switch message.(type) {
		case *protocol.Complete, *protocol.Fail, *protocol.Expired:
			// terminal messages get no reply
		default:
			// every spent origin answers, so a late target terminates
			// instead of hanging in connecting
			if spent == spentExpired {
				self.sendFrame(sourceId, RequireToFrame(&protocol.Expired{
					SessionId: sessionId.Bytes(),
				}))
			} else {
				self.sendFrame(sourceId, RequireToFrame(&protocol.Fail{
					SessionId:    sessionId.Bytes(),
					ErrorKind:    protocol.ErrorKindEndpoint,
					ErrorMessage: "Session closed.",
				}))
			}
			glog.V(1).Infof("[mgr]%s spent %s -> %s\n", self.endpointId, sessionId, sourceId)
		}
		return
	}

	glog.V(2).Infof("[mgr]%s drop %s %s\n", self.endpointId, frame.MessageType, sessionId)
}

// PeerDownFunction
func (self *Manager) peerDown(peerId Id) {
	self.mutex.Lock()
	downSessions := []*session{}
	for _, refSession := range maps.Values(self.originSessions) {
		if refSession.peerMatches(peerId) {
			downSessions = append(downSessions, refSession)
		}
	}
	for _, refSession := range maps.Values(self.targetSessions) {
		if refSession.peerMatches(peerId) {
			downSessions = append(downSessions, refSession)
		}
	}
	self.mutex.Unlock()

	for _, refSession := range downSessions {
		refSession.notifyPeerDown()
	}
	if 0 < len(downSessions) {
		glog.V(1).Infof("[mgr]%s peer down %s (%d sessions)\n", self.endpointId, peerId, len(downSessions))
	}
}

func (self *Manager) sendFrame(destinationId Id, frame *protocol.Frame) bool {
	return self.messenger.Send(self.endpointId, destinationId, frame)
}

func (self *Manager) Close() {
	self.unsubReceive()
	self.unsubPeerDown()
	self.cancel()
}
