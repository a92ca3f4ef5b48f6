package services

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justbri/shelfmark/models"
)

func TestEventBridge_RelaysBetweenInstances(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	hubA, hubB := runHub(t, 4), runHub(t, 4)
	bridgeA, err := NewEventBridge(srv.ClientURL(), "test.requests", hubA)
	require.NoError(t, err)
	defer bridgeA.Close()
	bridgeB, err := NewEventBridge(srv.ClientURL(), "test.requests", hubB)
	require.NoError(t, err)
	defer bridgeB.Close()
	assert.NotEqual(t, bridgeA.InstanceID(), bridgeB.InstanceID())

	subA, subB := hubA.Subscribe(), hubB.Subscribe()

	hubA.Publish(models.NewEvent(models.EventRequestUpdate))
	assert.Equal(t, models.EventRequestUpdate, receive(t, subA).Type)
	assert.Equal(t, models.EventRequestUpdate, receive(t, subB).Type)

	// A does not get its own event back.
	select {
	case ev := <-subA.Events():
		t.Fatalf("echoed event %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBridge_ConnectFailure(t *testing.T) {
	_, err := NewEventBridge("nats://127.0.0.1:1", "test.requests", NewHub(1))
	assert.Error(t, err)
}
