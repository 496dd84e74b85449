package httpstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

func TestStreamOfferFIFOUnderCapacity(t *testing.T) {
	s := newStream("req-1")
	s.offer(&protocol.Response{Status: protocol.StatusInProgress})
	s.offer(&protocol.Response{Status: protocol.StatusCompleted})

	first := <-s.fragments
	second := <-s.fragments
	assert.Equal(t, protocol.StatusInProgress, first.Status)
	assert.Equal(t, protocol.StatusCompleted, second.Status)
}

func TestStreamOfferDropsOldestOnOverflow(t *testing.T) {
	s := newStream("req-1")
	for i := 0; i < fragmentDepth; i++ {
		s.offer(&protocol.Response{Status: protocol.StatusStreaming})
	}
	// One more than capacity: the oldest must be evicted to make room.
	s.offer(&protocol.Response{Status: protocol.StatusCompleted})

	s.mu.Lock()
	dropped := s.dropped
	s.mu.Unlock()
	require.Equal(t, 1, dropped)

	// Drain everything; the terminal fragment placed last must still
	// be present (not itself the one dropped).
	var sawCompleted bool
	for i := 0; i < fragmentDepth; i++ {
		resp := <-s.fragments
		if resp.Status == protocol.StatusCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s := newStream("req-1")
	s.close()
	assert.NotPanics(t, func() { s.close() })
	select {
	case <-s.done:
	default:
		t.Fatal("expected done channel to be closed")
	}
}
