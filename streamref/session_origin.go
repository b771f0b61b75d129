package streamref

import (
	"github.com/golang/glog"

	"github.com/streammesh/streamref/protocol"
)

// Origin state machine: AwaitingSubscription -> Active -> Completed |
// Failed | TimedOut. The origin owns the real endpoint and the
// subscription timer. The handoff is triggered by the first message from
// the target; the substrate may reorder, so a Demand overtaking the
// TargetAnnounce still activates the session with the announcing peer.

func (self *session) handleOriginMessage(m *sessionMessage) bool {
	if self.state == stateAwaitingSubscription {
		self.activateOrigin(m.sourceId)
	}

	switch v := m.message.(type) {
	case *protocol.TargetAnnounce:
		// activation above; duplicates are ignored
		return false
	case *protocol.Demand:
		return self.handleDemand(v)
	case *protocol.Data:
		return self.handleData(v)
	case *protocol.Complete:
		return self.handleComplete(v)
	case *protocol.Fail:
		return self.handleFail(v)
	default:
		glog.V(2).Infof("[or]%s ignore %T\n", self.sessionId, v)
		return false
	}
}

func (self *session) activateOrigin(peerId Id) {
	self.setPeer(peerId)
	self.state = stateActive

	initialCredit := uint64(0)
	if !self.producer {
		// sink role: the local consumer is ready, announce its window
		initialCredit = uint64(self.settings.DemandBatchSize)
		self.granted = int64(initialCredit)
		self.stats.addGranted(int64(initialCredit))
	}
	self.sendToPeer(&protocol.OriginAck{
		SessionId:     self.sessionId.Bytes(),
		InitialCredit: initialCredit,
	})
	glog.V(1).Infof("[or]%s active peer=%s\n", self.sessionId, peerId)
}
