package streamref

import (
	"fmt"

	"github.com/streammesh/streamref/protocol"
)

func ToFrame(message protocol.Message) (*protocol.Frame, error) {
	var messageType protocol.MessageType
	var toOrigin bool
	switch v := message.(type) {
	case *protocol.TargetAnnounce:
		messageType = protocol.MessageTypeTargetAnnounce
		toOrigin = true
	case *protocol.OriginAck:
		messageType = protocol.MessageTypeOriginAck
	case *protocol.Demand:
		messageType = protocol.MessageTypeDemand
	case *protocol.Data:
		messageType = protocol.MessageTypeData
	case *protocol.Complete:
		messageType = protocol.MessageTypeComplete
	case *protocol.Fail:
		messageType = protocol.MessageTypeFail
	case *protocol.Expired:
		messageType = protocol.MessageTypeExpired
	default:
		return nil, fmt.Errorf("Unknown message type: %T", v)
	}
	return &protocol.Frame{
		MessageType:  messageType,
		MessageBytes: message.MarshalWire(),
		ToOrigin:     toOrigin,
	}, nil
}

func RequireToFrame(message protocol.Message) *protocol.Frame {
	frame, err := ToFrame(message)
	if err != nil {
		panic(err)
	}
	return frame
}

func FromFrame(frame *protocol.Frame) (protocol.Message, error) {
	var message protocol.Message
	switch frame.MessageType {
	case protocol.MessageTypeTargetAnnounce:
		message = &protocol.TargetAnnounce{}
	case protocol.MessageTypeOriginAck:
		message = &protocol.OriginAck{}
	case protocol.MessageTypeDemand:
		message = &protocol.Demand{}
	case protocol.MessageTypeData:
		message = &protocol.Data{}
	case protocol.MessageTypeComplete:
		message = &protocol.Complete{}
	case protocol.MessageTypeFail:
		message = &protocol.Fail{}
	case protocol.MessageTypeExpired:
		message = &protocol.Expired{}
	default:
		return nil, fmt.Errorf("Unknown message type: %s", frame.MessageType)
	}
	err := message.UnmarshalWire(frame.MessageBytes)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// sessionIdOf extracts the session id common to all protocol messages.
func sessionIdOf(message protocol.Message) (Id, error) {
	switch v := message.(type) {
	case *protocol.TargetAnnounce:
		return IdFromBytes(v.SessionId)
	case *protocol.OriginAck:
		return IdFromBytes(v.SessionId)
	case *protocol.Demand:
		return IdFromBytes(v.SessionId)
	case *protocol.Data:
		return IdFromBytes(v.SessionId)
	case *protocol.Complete:
		return IdFromBytes(v.SessionId)
	case *protocol.Fail:
		return IdFromBytes(v.SessionId)
	case *protocol.Expired:
		return IdFromBytes(v.SessionId)
	default:
		return Id{}, fmt.Errorf("Unknown message type: %T", v)
	}
}
