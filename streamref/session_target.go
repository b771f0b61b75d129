package streamref

import (
	"github.com/golang/glog"

	"github.com/streammesh/streamref/protocol"
)

// Target state machine: Connecting -> Active -> Completed | Failed. The
// target announced itself in run(); it goes active on the OriginAck, or
// on any session traffic that overtook the ack.

func (self *session) handleTargetMessage(m *sessionMessage) bool {
	switch v := m.message.(type) {
	case *protocol.OriginAck:
		if self.state != stateConnecting {
			return false
		}
		self.state = stateActive
		glog.V(1).Infof("[tg]%s active\n", self.sessionId)
		if self.producer {
			if err := self.credit.Grant(int64(v.InitialCredit)); err != nil {
				return self.violation(err.Error())
			}
		} else {
			self.maybeDemand()
		}
		return false
	case *protocol.Expired:
		self.setTerminal(stateFailed, &SubscriptionTimeoutError{
			SessionId: self.sessionId,
		})
		return true
	case *protocol.Demand:
		self.activateTarget()
		return self.handleDemand(v)
	case *protocol.Data:
		self.activateTarget()
		return self.handleData(v)
	case *protocol.Complete:
		self.activateTarget()
		return self.handleComplete(v)
	case *protocol.Fail:
		return self.handleFail(v)
	default:
		glog.V(2).Infof("[tg]%s ignore %T\n", self.sessionId, v)
		return false
	}
}

// activateTarget handles session traffic that overtook the OriginAck.
func (self *session) activateTarget() {
	if self.state == stateConnecting {
		self.state = stateActive
		glog.V(1).Infof("[tg]%s active (implicit)\n", self.sessionId)
	}
}
