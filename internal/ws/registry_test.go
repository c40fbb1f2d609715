package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ownerOf(reg *Registry, conn Connection) (int, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	userID, ok := reg.byConn[conn]
	return userID, ok
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	conn := newFakeConn("a")

	assert.Nil(t, reg.Register(1, conn))

	got, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Same(t, conn, got)

	owner, ok := ownerOf(reg, conn)
	require.True(t, ok)
	assert.Equal(t, 1, owner)
	assert.Equal(t, 1, reg.Len())

	_, ok = reg.Lookup(2)
	assert.False(t, ok)
}

func TestRegistryReconnectReplacesPreviousConnection(t *testing.T) {
	reg := NewRegistry()
	oldConn := newFakeConn("old")
	newConn := newFakeConn("new")

	reg.Register(1, oldConn)
	superseded := reg.Register(1, newConn)

	assert.Same(t, oldConn, superseded)
	got, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Same(t, newConn, got)

	_, ok = ownerOf(reg, oldConn)
	assert.False(t, ok, "superseded connection must not resolve to the user")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryUnregisterSupersededKeepsNewMapping(t *testing.T) {
	reg := NewRegistry()
	oldConn := newFakeConn("old")
	newConn := newFakeConn("new")
	reg.Register(1, oldConn)
	reg.Register(1, newConn)

	_, ok := reg.Unregister(oldConn)
	assert.False(t, ok)

	got, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Same(t, newConn, got)
}

func TestRegistryUnregisterRemovesBothDirections(t *testing.T) {
	reg := NewRegistry()
	conn := newFakeConn("a")
	reg.Register(7, conn)

	userID, ok := reg.Unregister(conn)
	require.True(t, ok)
	assert.Equal(t, 7, userID)

	_, ok = reg.Lookup(7)
	assert.False(t, ok)
	_, ok = ownerOf(reg, conn)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())

	_, ok = reg.Unregister(conn)
	assert.False(t, ok)
}

func TestRegistrySameConnectionReRegisteredIsNotSuperseded(t *testing.T) {
	reg := NewRegistry()
	conn := newFakeConn("a")
	reg.Register(1, conn)

	assert.Nil(t, reg.Register(1, conn))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryConnectionMovedToAnotherUser(t *testing.T) {
	reg := NewRegistry()
	conn := newFakeConn("a")
	reg.Register(1, conn)
	reg.Register(2, conn)

	_, ok := reg.Lookup(1)
	assert.False(t, ok)
	owner, ok := ownerOf(reg, conn)
	require.True(t, ok)
	assert.Equal(t, 2, owner)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryConnectionsSnapshot(t *testing.T) {
	reg := NewRegistry()
	a, b, old := newFakeConn("a"), newFakeConn("b"), newFakeConn("old")
	reg.Register(1, old)
	reg.Register(1, a)
	reg.Register(2, b)

	assert.ElementsMatch(t, []Connection{a, b}, reg.Connections())

	reg.Unregister(a)
	assert.ElementsMatch(t, []Connection{b}, reg.Connections())
}

func TestRegistryStaysSymmetricUnderConcurrency(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := i % 10
			for j := 0; j < 100; j++ {
				conn := newFakeConn(fmt.Sprintf("%d-%d", i, j))
				reg.Register(userID, conn)
				reg.Lookup(userID)
				if j%2 == 0 {
					reg.Unregister(conn)
				}
			}
		}(i)
	}
	wg.Wait()

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	assert.Equal(t, len(reg.byUser), len(reg.byConn))
	for userID, conn := range reg.byUser {
		assert.Equal(t, userID, reg.byConn[conn])
	}
	for conn, userID := range reg.byConn {
		assert.Same(t, conn, reg.byUser[userID])
	}
}
