package streamref

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/streammesh/streamref/protocol"
)

// The messaging substrate delivers addressed frames between endpoints and
// reports peer loss. Delivery is reliable while the peer is reachable but
// may be reordered within a session; the session layer restores order
// with sequence numbers.

type ReceiveFunction func(sourceId Id, frame *protocol.Frame)
type PeerDownFunction func(peerId Id)

type Messenger interface {
	// Send returns false when the frame was not accepted for delivery,
	// e.g. the destination is unknown or down.
	Send(sourceId Id, destinationId Id, frame *protocol.Frame) bool
	// AddReceiver registers the handler for frames addressed to
	// `endpointId`. Returns an unsubscribe function.
	AddReceiver(endpointId Id, receive ReceiveFunction) func()
	// AddPeerDownCallback subscribes to failure detector signals.
	// Returns an unsubscribe function.
	AddPeerDownCallback(peerDown PeerDownFunction) func()
}

func DefaultSwitchboardSettings() *SwitchboardSettings {
	return &SwitchboardSettings{
		PortBufferSize: 1024,
	}
}

type SwitchboardSettings struct {
	PortBufferSize int
}

type switchEnvelope struct {
	sourceId Id
	frame    *protocol.Frame
}

type switchPort struct {
	cancel  context.CancelFunc
	receive ReceiveFunction
	queue   chan *switchEnvelope
}

// Switchboard is the in-process substrate: ordered per-endpoint delivery
// between managers in the same process. Peer loss is injected with
// SetPeerDown, which is how tests simulate a failure detector signal.
type Switchboard struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *SwitchboardSettings

	mutex             sync.Mutex
	ports             map[Id]*switchPort
	downEndpointIds   map[Id]bool
	peerDownCallbacks *CallbackList[PeerDownFunction]
}

func NewSwitchboardWithDefaults(ctx context.Context) *Switchboard {
	return NewSwitchboard(ctx, DefaultSwitchboardSettings())
}

func NewSwitchboard(ctx context.Context, settings *SwitchboardSettings) *Switchboard {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Switchboard{
		ctx:               cancelCtx,
		cancel:            cancel,
		settings:          settings,
		ports:             map[Id]*switchPort{},
		downEndpointIds:   map[Id]bool{},
		peerDownCallbacks: NewCallbackList[PeerDownFunction](),
	}
}

// Messenger

func (self *Switchboard) Send(sourceId Id, destinationId Id, frame *protocol.Frame) bool {
	self.mutex.Lock()
	if self.downEndpointIds[sourceId] || self.downEndpointIds[destinationId] {
		self.mutex.Unlock()
		return false
	}
	port, ok := self.ports[destinationId]
	self.mutex.Unlock()

	if !ok {
		glog.V(2).Infof("[sw]drop %s->%s no port\n", sourceId, destinationId)
		return false
	}

	select {
	case <-self.ctx.Done():
		return false
	case port.queue <- &switchEnvelope{
		sourceId: sourceId,
		frame:    frame,
	}:
		return true
	default:
		glog.Infof("[sw]drop %s->%s port full\n", sourceId, destinationId)
		return false
	}
}

func (self *Switchboard) AddReceiver(endpointId Id, receive ReceiveFunction) func() {
	portCtx, portCancel := context.WithCancel(self.ctx)
	port := &switchPort{
		cancel:  portCancel,
		receive: receive,
		queue:   make(chan *switchEnvelope, self.settings.PortBufferSize),
	}

	self.mutex.Lock()
	self.ports[endpointId] = port
	self.mutex.Unlock()

	go func() {
		for {
			select {
			case <-portCtx.Done():
				return
			case envelope := <-port.queue:
				port.receive(envelope.sourceId, envelope.frame)
			}
		}
	}()

	return func() {
		self.mutex.Lock()
		if self.ports[endpointId] == port {
			delete(self.ports, endpointId)
		}
		self.mutex.Unlock()
		portCancel()
	}
}

func (self *Switchboard) AddPeerDownCallback(peerDown PeerDownFunction) func() {
	callbackId := self.peerDownCallbacks.Add(peerDown)
	return func() {
		self.peerDownCallbacks.Remove(callbackId)
	}
}

// SetPeerDown marks the endpoint unreachable. Frames to and from it are
// dropped and all peer down callbacks fire.
func (self *Switchboard) SetPeerDown(endpointId Id) {
	self.mutex.Lock()
	self.downEndpointIds[endpointId] = true
	self.mutex.Unlock()

	for _, peerDown := range self.peerDownCallbacks.Get() {
		func() {
			defer recover()
			peerDown(endpointId)
		}()
	}
}

func (self *Switchboard) Close() {
	self.cancel()
}
