package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.router/internal/jsonrpc"
)

func TestManagerConnectAndGet(t *testing.T) {
	m := NewManager(nil)
	s := m.Connect()

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())
}

func TestManagerDisconnectRemovesSession(t *testing.T) {
	m := NewManager(nil)
	s := m.Connect()

	assert.True(t, m.Disconnect(s.ID))
	assert.False(t, m.Disconnect(s.ID), "second disconnect of the same id should report not-found")

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestSessionSendAndNextPreservesOrder(t *testing.T) {
	m := NewManager(nil)
	s := m.Connect()

	s.Send("message", map[string]string{"a": "1"})
	s.Send("message", map[string]string{"a": "2"})

	ctx := context.Background()
	first, ok := s.Next(ctx)
	require.True(t, ok)
	second, ok := s.Next(ctx)
	require.True(t, ok)

	assert.Contains(t, first, `"a":"1"`)
	assert.Contains(t, second, `"a":"2"`)
}

func TestSessionSendAfterCloseIsNoop(t *testing.T) {
	m := NewManager(nil)
	s := m.Connect()
	m.Disconnect(s.ID)

	assert.NotPanics(t, func() {
		s.Send("message", "ignored")
	})
}

func TestSessionNextEndsOnCanceledContext(t *testing.T) {
	s := newSession("test")
	defer s.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// With no events queued, a canceled context must end the stream
	// (ok == false) right away instead of waiting for the 30s keepalive.
	quickCtx, quickCancel := context.WithCancel(ctx)
	quickCancel()
	_, ok := s.Next(quickCtx)
	assert.False(t, ok)
}

func TestSessionSendJSONRPC(t *testing.T) {
	s := newSession("test")
	defer s.close()

	s.SendJSONRPC(jsonrpc.NewResult(1, "ok"))
	msg, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Contains(t, msg, "event: message")
}

func TestSessionConcurrentSendAndCloseNeverPanics(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := newSession("test")
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Send("message", "racing")
		}()
		s.close()
		<-done
	}
}

func TestManagerListReportsActiveSessions(t *testing.T) {
	m := NewManager(nil)
	m.Connect()
	m.Connect()

	infos := m.List()
	assert.Len(t, infos, 2)
	for _, info := range infos {
		assert.True(t, info.Active)
	}
}
