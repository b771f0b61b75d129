package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is one protocol message that can be carried in a Frame.
type Message interface {
	MarshalWire() []byte
	UnmarshalWire(b []byte) error
}

// The messages are encoded in the protobuf wire format with fixed field
// numbers, so the schema stays compatible with generated code if the
// protocol ever moves to .proto definitions. Unknown fields are skipped.

func consumeField(b []byte) (protowire.Number, protowire.Type, []byte, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, nil, 0, protowire.ParseError(n)
	}
	m := protowire.ConsumeFieldValue(num, typ, b[n:])
	if m < 0 {
		return 0, 0, nil, 0, protowire.ParseError(m)
	}
	return num, typ, b[n : n+m], n + m, nil
}

func consumeBytesValue(b []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func consumeVarintValue(b []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// Frame

func (self *Frame) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(self.MessageType))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, self.MessageBytes)
	if self.ToOrigin {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (self *Frame) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.MessageType = MessageType(v)
		case 2:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.MessageBytes = v
		case 3:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.ToOrigin = v != 0
		}
	}
	return nil
}

// RefFrame

func (self *RefFrame) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SourceId)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, self.DestinationId)
	if self.Frame != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, self.Frame.MarshalWire())
	}
	return b
}

func (self *RefFrame) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SourceId = v
		case 2:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.DestinationId = v
		case 3:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			frame := &Frame{}
			if err := frame.UnmarshalWire(v); err != nil {
				return err
			}
			self.Frame = frame
		}
	}
	return nil
}

// TargetAnnounce

func (self *TargetAnnounce) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	return b
}

func (self *TargetAnnounce) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		}
	}
	return nil
}

// OriginAck

func (self *OriginAck) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	if 0 < self.InitialCredit {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, self.InitialCredit)
	}
	return b
}

func (self *OriginAck) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		case 2:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.InitialCredit = v
		}
	}
	return nil
}

// Demand

func (self *Demand) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(self.CreditDelta))
	return b
}

func (self *Demand) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		case 2:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.CreditDelta = protowire.DecodeZigZag(v)
		}
	}
	return nil
}

// Data

func (self *Data) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, self.Element)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, self.Seq)
	return b
}

func (self *Data) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		case 2:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.Element = v
		case 3:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.Seq = v
		}
	}
	return nil
}

// Complete

func (self *Complete) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, self.Seq)
	return b
}

func (self *Complete) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		case 2:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.Seq = v
		}
	}
	return nil
}

// Fail

func (self *Fail) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(self.ErrorKind))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, self.ErrorMessage)
	return b
}

func (self *Fail) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		case 2:
			v, err := consumeVarintValue(value)
			if err != nil {
				return err
			}
			self.ErrorKind = uint32(v)
		case 3:
			v, n := protowire.ConsumeString(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			self.ErrorMessage = v
		}
	}
	return nil
}

// Expired

func (self *Expired) MarshalWire() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, self.SessionId)
	return b
}

func (self *Expired) UnmarshalWire(b []byte) error {
	for 0 < len(b) {
		num, _, value, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			v, err := consumeBytesValue(value)
			if err != nil {
				return err
			}
			self.SessionId = v
		}
	}
	return nil
}
