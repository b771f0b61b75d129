package streamref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/streammesh/streamref/protocol"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session to end")
	}
}

func TestSourceRefRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aId := NewId()
	bId := NewId()
	aManager := NewManagerWithDefaults(ctx, aId, switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, bId, switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	assert.Equal(t, handle.EndpointId, aId)
	assert.Equal(t, writer.Role(), RoleSource)

	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	elementCount := 100
	go func() {
		for i := 0; i < elementCount; i += 1 {
			writer.Write(ctx, []byte(fmt.Sprintf("element %d", i)))
		}
		writer.Close()
	}()

	for i := 0; i < elementCount; i += 1 {
		element, err := reader.Read(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, element, []byte(fmt.Sprintf("element %d", i)))
	}
	_, err = reader.Read(ctx)
	assert.Equal(t, err, io.EOF)

	waitDone(t, writer.Done())
	assert.Equal(t, writer.Stats().ElementsSent(), int64(elementCount))
	assert.Equal(t, reader.Stats().ElementsReceived(), int64(elementCount))
}

func TestSinkRefRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	handle, reader := aManager.AllocateSinkRef()
	assert.Equal(t, reader.Role(), RoleSink)

	writer, err := bManager.MaterializeSink(handle)
	assert.Equal(t, err, nil)
	assert.Equal(t, writer.SessionId(), handle.SessionId)

	elementCount := 50
	go func() {
		for i := 0; i < elementCount; i += 1 {
			writer.Write(ctx, []byte(fmt.Sprintf("element %d", i)))
		}
		writer.Close()
	}()

	for i := 0; i < elementCount; i += 1 {
		element, err := reader.Read(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, element, []byte(fmt.Sprintf("element %d", i)))
	}
	_, err = reader.Read(ctx)
	assert.Equal(t, err, io.EOF)
}

func TestLoopbackRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	// origin and target on the same endpoint
	manager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer manager.Close()

	handle, writer := manager.AllocateSourceRef()
	reader, err := manager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	go func() {
		for i := 0; i < 10; i += 1 {
			writer.Write(ctx, []byte(fmt.Sprintf("element %d", i)))
		}
		writer.Close()
	}()

	for i := 0; i < 10; i += 1 {
		element, err := reader.Read(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, element, []byte(fmt.Sprintf("element %d", i)))
	}
	_, err = reader.Read(ctx)
	assert.Equal(t, err, io.EOF)
}

func TestAlreadyMaterialized(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()

	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	// the second attempt fails locally without contacting the origin
	_, err = bManager.MaterializeSource(handle)
	var alreadyErr *AlreadyMaterializedError
	assert.Equal(t, errors.As(err, &alreadyErr), true)
	assert.Equal(t, alreadyErr.SessionId, handle.SessionId)

	// the first materialization is unaffected
	go func() {
		writer.Write(ctx, []byte("element"))
		writer.Close()
	}()
	element, err := reader.Read(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, element, []byte("element"))

	// spent after the session ends
	_, err = reader.Read(ctx)
	assert.Equal(t, err, io.EOF)
	_, err = bManager.MaterializeSource(handle)
	assert.Equal(t, errors.As(err, &alreadyErr), true)
}

func TestSubscriptionTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRefWithTimeout(200 * time.Millisecond)

	waitDone(t, writer.Done())
	var timeoutErr *SubscriptionTimeoutError
	assert.Equal(t, errors.As(writer.Close(), &timeoutErr), true)
	assert.Equal(t, timeoutErr.Timeout, 200*time.Millisecond)

	// a late target gets an expired reply instead of hanging
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)
	_, err = reader.Read(ctx)
	assert.Equal(t, errors.As(err, &timeoutErr), true)
}

func TestFlowControlStall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	batchSize := DefaultSessionSettings().DemandBatchSize

	handle, writer := aManager.AllocateSourceRef()
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	// the initial grant covers exactly one batch while the reader is idle
	for i := int64(0); i < batchSize; i += 1 {
		err := writer.Write(ctx, []byte(fmt.Sprintf("element %d", i)))
		assert.Equal(t, err, nil)
	}

	stallCtx, stallCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	err = writer.Write(stallCtx, []byte("stalled"))
	stallCancel()
	assert.Equal(t, err, context.DeadlineExceeded)

	// reading past the low-water mark releases a new grant
	for i := int64(0); i < batchSize/2; i += 1 {
		element, err := reader.Read(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, element, []byte(fmt.Sprintf("element %d", i)))
	}

	err = writer.Write(ctx, []byte(fmt.Sprintf("element %d", batchSize)))
	assert.Equal(t, err, nil)
	err = writer.Close()
	assert.Equal(t, err, nil)

	for i := batchSize / 2; i <= batchSize; i += 1 {
		element, err := reader.Read(ctx)
		assert.Equal(t, err, nil)
		assert.Equal(t, element, []byte(fmt.Sprintf("element %d", i)))
	}
	_, err = reader.Read(ctx)
	assert.Equal(t, err, io.EOF)
}

func TestPeerDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aId := NewId()
	bId := NewId()
	aManager := NewManagerWithDefaults(ctx, aId, switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, bId, switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	// activate the session before partitioning
	err = writer.Write(ctx, []byte("element"))
	assert.Equal(t, err, nil)
	element, err := reader.Read(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, element, []byte("element"))

	switchboard.SetPeerDown(bId)
	waitDone(t, writer.Done())
	var peerErr *PeerUnreachableError
	assert.Equal(t, errors.As(writer.Write(ctx, []byte("more")), &peerErr), true)
	assert.Equal(t, peerErr.PeerId, bId)

	switchboard.SetPeerDown(aId)
	waitDone(t, reader.Done())
	_, err = reader.Read(ctx)
	assert.Equal(t, errors.As(err, &peerErr), true)
	assert.Equal(t, peerErr.PeerId, aId)
}

func TestConsumerCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	err = writer.Write(ctx, []byte("element"))
	assert.Equal(t, err, nil)
	element, err := reader.Read(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, element, []byte("element"))

	err = reader.Close()
	assert.Equal(t, err, nil)

	// the producer observes the cancel as a remote failure
	waitDone(t, writer.Done())
	var remoteErr *RemoteFailureError
	assert.Equal(t, errors.As(writer.Write(ctx, []byte("more")), &remoteErr), true)
	assert.Equal(t, remoteErr.Kind, protocol.ErrorKindCanceled)
}

func TestProducerFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	err = writer.Write(ctx, []byte("element"))
	assert.Equal(t, err, nil)
	element, err := reader.Read(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, element, []byte("element"))

	err = writer.Fail(errors.New("pipeline broke"))
	assert.Equal(t, err, nil)

	_, err = reader.Read(ctx)
	var remoteErr *RemoteFailureError
	assert.Equal(t, errors.As(err, &remoteErr), true)
	assert.Equal(t, remoteErr.Kind, protocol.ErrorKindEndpoint)
	assert.Equal(t, remoteErr.Message, "pipeline broke")
}

func TestOriginGoneBeforeMaterialize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer bManager.Close()

	// the origin fails before anyone materializes
	failHandle, failWriter := aManager.AllocateSourceRef()
	err := failWriter.Fail(errors.New("pipeline broke"))
	assert.Equal(t, err, nil)

	// a later target must still reach a terminal state
	reader, err := bManager.MaterializeSource(failHandle)
	assert.Equal(t, err, nil)
	_, err = reader.Read(ctx)
	var remoteErr *RemoteFailureError
	assert.Equal(t, errors.As(err, &remoteErr), true)
	assert.Equal(t, remoteErr.Kind, protocol.ErrorKindEndpoint)

	// same for an origin that completed before the handoff
	closeHandle, closeWriter := aManager.AllocateSourceRef()
	err = closeWriter.Close()
	assert.Equal(t, err, nil)

	reader, err = bManager.MaterializeSource(closeHandle)
	assert.Equal(t, err, nil)
	_, err = reader.Read(ctx)
	assert.Equal(t, errors.As(err, &remoteErr), true)
}

func TestCreditExceededViolation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aId := NewId()
	bId := NewId()
	aManager := NewManagerWithDefaults(ctx, aId, switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, bId, switchboard)
	defer bManager.Close()

	handle, reader := aManager.AllocateSinkRef()
	writer, err := bManager.MaterializeSink(handle)
	assert.Equal(t, err, nil)

	// push one element past the initial grant, bypassing the writer
	batchSize := DefaultSessionSettings().DemandBatchSize
	for seq := uint64(0); seq <= uint64(batchSize); seq += 1 {
		frame := RequireToFrame(&protocol.Data{
			SessionId: handle.SessionId.Bytes(),
			Element:   []byte("element"),
			Seq:       seq,
		})
		frame.ToOrigin = true
		assert.Equal(t, switchboard.Send(bId, aId, frame), true)
	}

	waitDone(t, reader.Done())
	_, err = reader.Read(ctx)
	var violationErr *ProtocolViolationError
	assert.Equal(t, errors.As(err, &violationErr), true)

	// the producing side observes the violation as a remote failure
	waitDone(t, writer.Done())
	var remoteErr *RemoteFailureError
	assert.Equal(t, errors.As(writer.Write(ctx, []byte("element")), &remoteErr), true)
	assert.Equal(t, remoteErr.Kind, protocol.ErrorKindViolation)
}

func TestNegativeDemandViolation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	aId := NewId()
	bId := NewId()
	aManager := NewManagerWithDefaults(ctx, aId, switchboard)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, bId, switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	reader, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	// activate the session first
	err = writer.Write(ctx, []byte("element"))
	assert.Equal(t, err, nil)
	element, err := reader.Read(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, element, []byte("element"))

	// a grant is never a withdrawal
	frame := RequireToFrame(&protocol.Demand{
		SessionId:   handle.SessionId.Bytes(),
		CreditDelta: -1,
	})
	frame.ToOrigin = true
	assert.Equal(t, switchboard.Send(bId, aId, frame), true)

	waitDone(t, writer.Done())
	var violationErr *ProtocolViolationError
	assert.Equal(t, errors.As(writer.Write(ctx, []byte("more")), &violationErr), true)

	waitDone(t, reader.Done())
	_, err = reader.Read(ctx)
	var remoteErr *RemoteFailureError
	assert.Equal(t, errors.As(err, &remoteErr), true)
	assert.Equal(t, remoteErr.Kind, protocol.ErrorKindViolation)
}

// refuses data frames while passing control traffic through
type dataDropMessenger struct {
	*Switchboard
}

func (self *dataDropMessenger) Send(sourceId Id, destinationId Id, frame *protocol.Frame) bool {
	if frame.MessageType == protocol.MessageTypeData {
		return false
	}
	return self.Switchboard.Send(sourceId, destinationId, frame)
}

func TestDataSendRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()
	messenger := &dataDropMessenger{Switchboard: switchboard}

	bId := NewId()
	aManager := NewManagerWithDefaults(ctx, NewId(), messenger)
	defer aManager.Close()
	bManager := NewManagerWithDefaults(ctx, bId, switchboard)
	defer bManager.Close()

	handle, writer := aManager.AllocateSourceRef()
	_, err := bManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

	// the element is accepted locally; the refused send fails the session
	// instead of gapping the sequence
	writer.Write(ctx, []byte("element"))

	waitDone(t, writer.Done())
	var peerErr *PeerUnreachableError
	assert.Equal(t, errors.As(writer.Write(ctx, []byte("more")), &peerErr), true)
	assert.Equal(t, peerErr.PeerId, bId)
}

func TestElementTooLarge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switchboard := NewSwitchboardWithDefaults(ctx)
	defer switchboard.Close()

	manager := NewManagerWithDefaults(ctx, NewId(), switchboard)
	defer manager.Close()

	_, writer := manager.AllocateSourceRef()
	element := make([]byte, DefaultSessionSettings().MaxElementByteCount+1)
	err := writer.Write(ctx, element)
	assert.NotEqual(t, err, nil)
}
