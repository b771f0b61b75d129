package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFrameWire(t *testing.T) {
	data := &Data{
		SessionId: []byte("0123456789abcdef"),
		Element:   []byte("element"),
		Seq:       42,
	}
	frame := &Frame{
		MessageType:  MessageTypeData,
		MessageBytes: data.MarshalWire(),
		ToOrigin:     true,
	}

	decodedFrame := &Frame{}
	err := decodedFrame.UnmarshalWire(frame.MarshalWire())
	assert.Equal(t, err, nil)
	assert.Equal(t, decodedFrame.MessageType, MessageTypeData)
	assert.Equal(t, decodedFrame.ToOrigin, true)

	decodedData := &Data{}
	err = decodedData.UnmarshalWire(decodedFrame.MessageBytes)
	assert.Equal(t, err, nil)
	assert.Equal(t, decodedData, data)
}

func TestRefFrameWire(t *testing.T) {
	refFrame := &RefFrame{
		SourceId:      []byte("aaaaaaaaaaaaaaaa"),
		DestinationId: []byte("bbbbbbbbbbbbbbbb"),
		Frame: &Frame{
			MessageType:  MessageTypeTargetAnnounce,
			MessageBytes: (&TargetAnnounce{SessionId: []byte("0123456789abcdef")}).MarshalWire(),
		},
	}

	decoded := &RefFrame{}
	err := decoded.UnmarshalWire(refFrame.MarshalWire())
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, refFrame)
}

// a negative delta must survive the wire so the producer can reject it
func TestDemandWireNegativeDelta(t *testing.T) {
	demand := &Demand{
		SessionId:   []byte("0123456789abcdef"),
		CreditDelta: -3,
	}
	decoded := &Demand{}
	err := decoded.UnmarshalWire(demand.MarshalWire())
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.CreditDelta, int64(-3))

	demand.CreditDelta = 32
	decoded = &Demand{}
	err = decoded.UnmarshalWire(demand.MarshalWire())
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.CreditDelta, int64(32))
}

func TestFailWire(t *testing.T) {
	fail := &Fail{
		SessionId:    []byte("0123456789abcdef"),
		ErrorKind:    ErrorKindViolation,
		ErrorMessage: "credit exceeded",
	}
	decoded := &Fail{}
	err := decoded.UnmarshalWire(fail.MarshalWire())
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, fail)
}

func TestWireUnknownFieldsSkipped(t *testing.T) {
	// a frame with a trailing unknown field still decodes the known ones
	frame := &Frame{
		MessageType:  MessageTypeComplete,
		MessageBytes: []byte{},
	}
	b := frame.MarshalWire()
	// field 15, varint 1
	b = append(b, 0x78, 0x01)

	decoded := &Frame{}
	err := decoded.UnmarshalWire(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.MessageType, MessageTypeComplete)
}
