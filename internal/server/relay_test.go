package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_fanOut(t *testing.T) {
	origin := &Client{send: make(chan []byte, 1)}
	peer := &Client{send: make(chan []byte, 1)}
	full := &Client{send: make(chan []byte, 1)}
	full.send <- []byte("backlog")

	stalled := fanOut([]*Client{origin, peer, full}, origin, []byte("op"))

	assert.Equal(t, []*Client{full}, stalled)
	assert.Empty(t, origin.send, "expected origin to be excluded")
	assert.Equal(t, []byte("op"), <-peer.send)
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{send: make(chan []byte, 1)}

		res := c.queueMessage([]byte("msg"))
		assert.True(t, res, "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1)
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{send: make(chan []byte, 1)}
		c.send <- []byte("msg")

		res := c.queueMessage([]byte("msg"))
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}
