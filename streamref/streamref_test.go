package streamref

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestId(t *testing.T) {
	id := NewId()
	assert.NotEqual(t, id, Id{})

	parsedId, err := ParseId(id.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, parsedId, id)

	bytesId, err := IdFromBytes(id.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, bytesId, id)

	_, err = IdFromBytes([]byte{0, 1, 2})
	assert.NotEqual(t, err, nil)

	idJson, err := json.Marshal(id)
	assert.Equal(t, err, nil)
	var jsonId Id
	err = json.Unmarshal(idJson, &jsonId)
	assert.Equal(t, err, nil)
	assert.Equal(t, jsonId, id)
}

func TestHandleJson(t *testing.T) {
	handle := SourceRefHandle{
		EndpointId: NewId(),
		SessionId:  NewId(),
	}
	assert.Equal(t, handle.Role(), RoleSource)

	handleJson, err := json.Marshal(handle)
	assert.Equal(t, err, nil)
	parsedHandle, err := ParseSourceRefHandle(handleJson)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsedHandle, handle)

	sinkHandle := SinkRefHandle{
		EndpointId: NewId(),
		SessionId:  NewId(),
	}
	assert.Equal(t, sinkHandle.Role(), RoleSink)

	sinkHandleJson, err := json.Marshal(sinkHandle)
	assert.Equal(t, err, nil)
	parsedSinkHandle, err := ParseSinkRefHandle(sinkHandleJson)
	assert.Equal(t, err, nil)
	assert.Equal(t, parsedSinkHandle, sinkHandle)
}
