package server

import "errors"

var (
	// ErrMemberWriteStalled is reported when a member's outbound queue is
	// full and the member is disconnected.
	ErrMemberWriteStalled = errors.New("member write stalled")
	// ErrJoinRejected is reported when a connection asks to join a second
	// room.
	ErrJoinRejected = errors.New("join rejected")
)
