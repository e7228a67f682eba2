package server

import (
	"github.com/npezzotti/go-drawroom/internal/protocol"
)

// ClientMessage carries an inbound envelope together with the connection
// it arrived on. A nil env on the leave channel means the connection is
// gone.
type ClientMessage struct {
	env    *protocol.Envelope
	client *Client
}

type exitReq struct {
	// force makes the room exit even with members present.
	force bool
	done  chan bool
}
