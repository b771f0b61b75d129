package streamref

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/streammesh/streamref/protocol"
)

func DefaultWsLinkSettings() *WsLinkSettings {
	return &WsLinkSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		LinkBufferSize:     32,
	}
}

type WsLinkSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	LinkBufferSize     int
}

// LinkMessenger is the websocket substrate: one authenticated link per
// peer node, binary ref frames, empty messages as pings. A dropped link
// is the failure detector signal for that peer; the protocol never
// retries a session, so there is no reconnect here.
//
// The local endpoint id doubles as the node id presented in the link
// auth token.
type LinkMessenger struct {
	ctx    context.Context
	cancel context.CancelFunc

	localId Id
	secret  []byte

	settings *WsLinkSettings

	mutex             sync.Mutex
	receivers         map[Id]ReceiveFunction
	links             map[Id]*wsLink
	peerDownCallbacks *CallbackList[PeerDownFunction]
}

func NewLinkMessengerWithDefaults(ctx context.Context, localId Id, secret []byte) *LinkMessenger {
	return NewLinkMessenger(ctx, localId, secret, DefaultWsLinkSettings())
}

func NewLinkMessenger(ctx context.Context, localId Id, secret []byte, settings *WsLinkSettings) *LinkMessenger {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &LinkMessenger{
		ctx:               cancelCtx,
		cancel:            cancel,
		localId:           localId,
		secret:            secret,
		settings:          settings,
		receivers:         map[Id]ReceiveFunction{},
		links:             map[Id]*wsLink{},
		peerDownCallbacks: NewCallbackList[PeerDownFunction](),
	}
}

func (self *LinkMessenger) LocalId() Id {
	return self.localId
}

// Messenger

func (self *LinkMessenger) Send(sourceId Id, destinationId Id, frame *protocol.Frame) bool {
	if destinationId == self.localId {
		// loopback
		self.mutex.Lock()
		receive, ok := self.receivers[destinationId]
		self.mutex.Unlock()
		if !ok {
			return false
		}
		receive(sourceId, frame)
		return true
	}

	self.mutex.Lock()
	link, ok := self.links[destinationId]
	self.mutex.Unlock()
	if !ok {
		glog.V(2).Infof("[link]%s drop ->%s no link\n", self.localId, destinationId)
		return false
	}

	refFrame := &protocol.RefFrame{
		SourceId:      sourceId.Bytes(),
		DestinationId: destinationId.Bytes(),
		Frame:         frame,
	}
	select {
	case <-link.ctx.Done():
		return false
	case link.send <- refFrame.MarshalWire():
		return true
	}
}

func (self *LinkMessenger) AddReceiver(endpointId Id, receive ReceiveFunction) func() {
	self.mutex.Lock()
	self.receivers[endpointId] = receive
	self.mutex.Unlock()
	return func() {
		self.mutex.Lock()
		delete(self.receivers, endpointId)
		self.mutex.Unlock()
	}
}

func (self *LinkMessenger) AddPeerDownCallback(peerDown PeerDownFunction) func() {
	callbackId := self.peerDownCallbacks.Add(peerDown)
	return func() {
		self.peerDownCallbacks.Remove(callbackId)
	}
}

// Dial opens an authenticated link to a listening node and returns the
// peer node id.
func (self *LinkMessenger) Dial(ctx context.Context, url string) (Id, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return Id{}, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	token, err := NewNodeToken(self.localId, self.secret)
	if err != nil {
		return Id{}, err
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte(token)); err != nil {
		return Id{}, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	_, peerTokenBytes, err := ws.ReadMessage()
	if err != nil {
		return Id{}, err
	}
	peerAuth, err := ParseNodeToken(string(peerTokenBytes), self.secret)
	if err != nil {
		return Id{}, err
	}

	success = true
	self.addLink(peerAuth.NodeId, ws)
	return peerAuth.NodeId, nil
}

// Handler accepts links on the listening side.
func (self *LinkMessenger) Handler() http.Handler {
	upgrader := &websocket.Upgrader{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		success := false
		defer func() {
			if !success {
				ws.Close()
			}
		}()

		ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
		_, tokenBytes, err := ws.ReadMessage()
		if err != nil {
			return
		}
		peerAuth, err := ParseNodeToken(string(tokenBytes), self.secret)
		if err != nil {
			glog.Infof("[link]%s auth error = %s\n", self.localId, err)
			return
		}
		token, err := NewNodeToken(self.localId, self.secret)
		if err != nil {
			return
		}
		ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
		if err := ws.WriteMessage(websocket.BinaryMessage, []byte(token)); err != nil {
			return
		}

		success = true
		link := self.addLink(peerAuth.NodeId, ws)
		// hold the handler open for the link lifetime
		select {
		case <-link.ctx.Done():
		}
	})
}

type wsLink struct {
	ctx    context.Context
	cancel context.CancelFunc

	peerId Id
	ws     *websocket.Conn
	send   chan []byte
}

func (self *LinkMessenger) addLink(peerId Id, ws *websocket.Conn) *wsLink {
	linkCtx, linkCancel := context.WithCancel(self.ctx)
	link := &wsLink{
		ctx:    linkCtx,
		cancel: linkCancel,
		peerId: peerId,
		ws:     ws,
		send:   make(chan []byte, self.settings.LinkBufferSize),
	}

	self.mutex.Lock()
	if replaced, ok := self.links[peerId]; ok {
		replaced.cancel()
	}
	self.links[peerId] = link
	self.mutex.Unlock()

	glog.V(1).Infof("[link]%s up %s\n", self.localId, peerId)
	go self.runLink(link)
	return link
}

func (self *LinkMessenger) runLink(link *wsLink) {
	defer func() {
		link.cancel()
		link.ws.Close()
		self.removeLink(link)
	}()

	// unblock the read on cancel
	go func() {
		select {
		case <-link.ctx.Done():
		}
		link.ws.Close()
	}()

	// send
	go func() {
		defer link.cancel()

		for {
			select {
			case <-link.ctx.Done():
				return
			case message := <-link.send:
				link.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := link.ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[link]%s-> error = %s\n", link.peerId, err)
					return
				}
				glog.V(2).Infof("[link]%s->\n", link.peerId)
			case <-time.After(self.settings.PingTimeout):
				link.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := link.ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	// receive
	for {
		select {
		case <-link.ctx.Done():
			return
		default:
		}

		link.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := link.ws.ReadMessage()
		if err != nil {
			glog.Infof("[link]%s<- error = %s\n", link.peerId, err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[link]ping %s<-\n", link.peerId)
				continue
			}

			refFrame := &protocol.RefFrame{}
			if err := refFrame.UnmarshalWire(message); err != nil {
				glog.Infof("[link]%s<- bad frame = %s\n", link.peerId, err)
				continue
			}
			if refFrame.Frame == nil {
				continue
			}
			sourceId, err := IdFromBytes(refFrame.SourceId)
			if err != nil {
				continue
			}
			destinationId, err := IdFromBytes(refFrame.DestinationId)
			if err != nil {
				continue
			}

			self.mutex.Lock()
			receive, ok := self.receivers[destinationId]
			self.mutex.Unlock()
			if !ok {
				glog.V(2).Infof("[link]%s<- drop %s no receiver\n", link.peerId, destinationId)
				continue
			}
			receive(sourceId, refFrame.Frame)
		default:
			glog.V(2).Infof("[link]other=%d %s<-\n", messageType, link.peerId)
		}
	}
}

func (self *LinkMessenger) removeLink(link *wsLink) {
	self.mutex.Lock()
	removed := false
	if self.links[link.peerId] == link {
		delete(self.links, link.peerId)
		removed = true
	}
	self.mutex.Unlock()

	if removed {
		glog.V(1).Infof("[link]%s down %s\n", self.localId, link.peerId)
		for _, peerDown := range self.peerDownCallbacks.Get() {
			func() {
				defer recover()
				peerDown(link.peerId)
			}()
		}
	}
}

func (self *LinkMessenger) Close() {
	self.cancel()
}
