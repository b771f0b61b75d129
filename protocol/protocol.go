package protocol

import (
	"fmt"
)

// Wire schema for the stream reference protocol.
//
// Every session message carries the 16-byte session id. Data and Complete
// carry sequence numbers so that a receiver can restore order when the
// underlying message channel reorders delivery within a session.

type MessageType uint32

const (
	MessageTypeTargetAnnounce MessageType = 1
	MessageTypeOriginAck      MessageType = 2
	MessageTypeDemand         MessageType = 3
	MessageTypeData           MessageType = 4
	MessageTypeComplete       MessageType = 5
	MessageTypeFail           MessageType = 6
	MessageTypeExpired        MessageType = 7
)

func (self MessageType) String() string {
	switch self {
	case MessageTypeTargetAnnounce:
		return "TargetAnnounce"
	case MessageTypeOriginAck:
		return "OriginAck"
	case MessageTypeDemand:
		return "Demand"
	case MessageTypeData:
		return "Data"
	case MessageTypeComplete:
		return "Complete"
	case MessageTypeFail:
		return "Fail"
	case MessageTypeExpired:
		return "Expired"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(self))
	}
}

// error descriptor kinds carried by `Fail`
const (
	ErrorKindEndpoint  uint32 = 1
	ErrorKindViolation uint32 = 2
	ErrorKindCanceled  uint32 = 3
)

// Frame is the envelope for one protocol message.
// `ToOrigin` routes the frame to the origin or target half of a session
// when both halves share an endpoint.
type Frame struct {
	MessageType  MessageType
	MessageBytes []byte
	ToOrigin     bool
}

// RefFrame is the addressed envelope used by node links.
type RefFrame struct {
	SourceId      []byte
	DestinationId []byte
	Frame         *Frame
}

// TargetAnnounce starts the handoff. target -> origin.
type TargetAnnounce struct {
	SessionId []byte
}

// OriginAck confirms the session is active. origin -> target.
// `InitialCredit` is non-zero for sink-role sessions where the origin
// consumer is ready immediately.
type OriginAck struct {
	SessionId     []byte
	InitialCredit uint64
}

// Demand grants additional credit. consumer -> producer.
// The delta is signed on the wire so that a malformed negative grant can be
// detected and rejected as a protocol violation instead of silently
// wrapping.
type Demand struct {
	SessionId   []byte
	CreditDelta int64
}

// Data transfers one element. producer -> consumer.
type Data struct {
	SessionId []byte
	Element   []byte
	Seq       uint64
}

// Complete is normal termination. `Seq` is the total number of elements
// sent, which lets the consumer drain reordered data before finishing.
type Complete struct {
	SessionId []byte
	Seq       uint64
}

// Fail is abnormal termination with an error descriptor.
type Fail struct {
	SessionId    []byte
	ErrorKind    uint32
	ErrorMessage string
}

// Expired tells a late target that the origin subscription timed out.
// origin -> target.
type Expired struct {
	SessionId []byte
}
