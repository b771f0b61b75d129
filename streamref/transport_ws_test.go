package streamref

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLinkRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	secret := []byte("test link secret")

	listenId := NewId()
	listenMessenger := NewLinkMessengerWithDefaults(ctx, listenId, secret)
	defer listenMessenger.Close()

	server := httptest.NewServer(listenMessenger.Handler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dialId := NewId()
	dialMessenger := NewLinkMessengerWithDefaults(ctx, dialId, secret)
	defer dialMessenger.Close()

	peerId, err := dialMessenger.Dial(ctx, url)
	assert.Equal(t, err, nil)
	assert.Equal(t, peerId, listenId)

	listenManager := NewManagerWithDefaults(ctx, listenId, listenMessenger)
	defer listenManager.Close()
	dialManager := NewManagerWithDefaults(ctx, dialId, dialMessenger)
	defer dialManager.Close()

	// the listening node offers, the dialing node consumes
	handle, writer := listenManager.AllocateSourceRef()
	reader, err := dialManager.MaterializeSource(handle)
	assert.Equal(t, err, nil)

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

func TestLinkAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	listenMessenger := NewLinkMessengerWithDefaults(ctx, NewId(), []byte("secret a"))
	defer listenMessenger.Close()

	server := httptest.NewServer(listenMessenger.Handler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	// a dialer on the wrong secret is rejected before any frames flow
	dialMessenger := NewLinkMessengerWithDefaults(ctx, NewId(), []byte("secret b"))
	defer dialMessenger.Close()

	_, err := dialMessenger.Dial(ctx, url)
	assert.NotEqual(t, err, nil)
}

func TestLinkPeerDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	secret := []byte("test link secret")

	listenId := NewId()
	listenMessenger := NewLinkMessengerWithDefaults(ctx, listenId, secret)
	defer listenMessenger.Close()

	server := httptest.NewServer(listenMessenger.Handler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dialId := NewId()
	dialMessenger := NewLinkMessengerWithDefaults(ctx, dialId, secret)

	_, err := dialMessenger.Dial(ctx, url)
	assert.Equal(t, err, nil)

	downPeerIds := make(chan Id, 8)
	unsub := listenMessenger.AddPeerDownCallback(func(peerId Id) {
		downPeerIds <- peerId
	})
	defer unsub()

	// dropping the link is the failure detector signal
	dialMessenger.Close()

	select {
	case downPeerId := <-downPeerIds:
		assert.Equal(t, downPeerId, dialId)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for peer down")
	}
}
