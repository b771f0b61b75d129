package streamref

import (
	"encoding/json"
	"fmt"
)

// A reference handle is an immutable, serializable address for one
// allocation. It is safe to transmit over an unreliable, possibly delayed
// channel inside any application message. Producing a handle registers an
// origin session and arms the subscription timer; it does not start data
// transfer. A handle is valid for exactly one materialization.

// comparable
type SourceRefHandle struct {
	EndpointId Id `json:"endpoint_id"`
	SessionId  Id `json:"session_id"`
}

func (self SourceRefHandle) Role() Role {
	return RoleSource
}

func (self SourceRefHandle) String() string {
	return fmt.Sprintf("source_ref(%s@%s)", self.SessionId, self.EndpointId)
}

// comparable
type SinkRefHandle struct {
	EndpointId Id `json:"endpoint_id"`
	SessionId  Id `json:"session_id"`
}

func (self SinkRefHandle) Role() Role {
	return RoleSink
}

func (self SinkRefHandle) String() string {
	return fmt.Sprintf("sink_ref(%s@%s)", self.SessionId, self.EndpointId)
}

func ParseSourceRefHandle(handleJson []byte) (SourceRefHandle, error) {
	var handle SourceRefHandle
	if err := json.Unmarshal(handleJson, &handle); err != nil {
		return SourceRefHandle{}, err
	}
	return handle, nil
}

func ParseSinkRefHandle(handleJson []byte) (SinkRefHandle, error) {
	var handle SinkRefHandle
	if err := json.Unmarshal(handleJson, &handle); err != nil {
		return SinkRefHandle{}, err
	}
	return handle, nil
}
