package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/go-drawroom/internal/types"
)

type MessageType string

const (
	TypeJoin       MessageType = "JOIN"
	TypeLeave      MessageType = "LEAVE"
	TypeUsers      MessageType = "USERS"
	TypeCursorMove MessageType = "CURSOR_MOVE"
	TypeDraw       MessageType = "DRAW"
)

var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the wire unit. Exactly one payload field is set and it
// always matches Type.
type Envelope struct {
	Type   MessageType
	Join   *Join
	Leave  *Leave
	Users  *Users
	Cursor *CursorMove
	Draw   *types.Operation
}

type Join struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	RoomId   string `json:"roomId"`
	Color    string `json:"color"`
}

type Leave struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	RoomId   string `json:"roomId"`
}

type Users struct {
	Users []types.User `json:"users"`
}

type CursorMove struct {
	UserId   string         `json:"userId"`
	Position types.Position `json:"position"`
	RoomId   string         `json:"roomId"`
}

type wireEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewJoin(userId, username, roomId, color string) *Envelope {
	return &Envelope{
		Type: TypeJoin,
		Join: &Join{UserId: userId, Username: username, RoomId: roomId, Color: color},
	}
}

func NewLeave(userId, username, roomId string) *Envelope {
	return &Envelope{
		Type:  TypeLeave,
		Leave: &Leave{UserId: userId, Username: username, RoomId: roomId},
	}
}

func NewUsers(users []types.User) *Envelope {
	if users == nil {
		users = []types.User{}
	}
	return &Envelope{
		Type:  TypeUsers,
		Users: &Users{Users: users},
	}
}

func NewCursorMove(userId, roomId string, pos types.Position) *Envelope {
	return &Envelope{
		Type:   TypeCursorMove,
		Cursor: &CursorMove{UserId: userId, Position: pos, RoomId: roomId},
	}
}

func NewDraw(op types.Operation) *Envelope {
	return &Envelope{
		Type: TypeDraw,
		Draw: &op,
	}
}

func (e *Envelope) payload() (any, error) {
	var p any
	switch e.Type {
	case TypeJoin:
		p = e.Join
	case TypeLeave:
		p = e.Leave
	case TypeUsers:
		p = e.Users
	case TypeCursorMove:
		p = e.Cursor
	case TypeDraw:
		p = e.Draw
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}

	if isNilPayload(p) {
		return nil, fmt.Errorf("missing %s payload", e.Type)
	}
	return p, nil
}

func isNilPayload(p any) bool {
	switch v := p.(type) {
	case *Join:
		return v == nil
	case *Leave:
		return v == nil
	case *Users:
		return v == nil
	case *CursorMove:
		return v == nil
	case *types.Operation:
		return v == nil
	}
	return true
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	p, err := e.payload()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireEnvelope{Type: e.Type, Payload: raw})
}

// Encode serializes an envelope for the wire.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a wire envelope. Every failure wraps
// ErrMalformedMessage.
func Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil, fmt.Errorf("%w: missing payload for %q", ErrMalformedMessage, w.Type)
	}

	e := &Envelope{Type: w.Type}
	var target any
	switch w.Type {
	case TypeJoin:
		e.Join = &Join{}
		target = e.Join
	case TypeLeave:
		e.Leave = &Leave{}
		target = e.Leave
	case TypeUsers:
		e.Users = &Users{}
		target = e.Users
	case TypeCursorMove:
		e.Cursor = &CursorMove{}
		target = e.Cursor
	case TypeDraw:
		e.Draw = &types.Operation{}
		target = e.Draw
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}

	if err := json.Unmarshal(w.Payload, target); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, w.Type, err)
	}

	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return e, nil
}

func (e *Envelope) validate() error {
	switch e.Type {
	case TypeJoin:
		if e.Join.RoomId == "" {
			return errors.New("join: room id is required")
		}
	case TypeUsers:
		for _, u := range e.Users.Users {
			if u.Id == "" {
				return errors.New("users: user without id")
			}
		}
	case TypeDraw:
		if !e.Draw.Kind.Valid() {
			return fmt.Errorf("draw: unknown kind %q", e.Draw.Kind)
		}
		if e.Draw.Kind == types.KindModify && e.Draw.ObjectId == "" {
			return errors.New("draw: modify requires an object id")
		}
	}
	return nil
}
