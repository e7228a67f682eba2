package protocol

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("join", func(t *testing.T) {
		b, err := Encode(NewJoin("u1", "alice", "demo", "#3498db"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"JOIN","payload":{"userId":"u1","username":"alice","roomId":"demo","color":"#3498db"}}`, string(b))
	})

	t.Run("users omits absent cursor", func(t *testing.T) {
		b, err := Encode(NewUsers([]types.User{
			{Id: "u1", Name: "alice", Color: "#3498db"},
			{Id: "u2", Name: "bob", Color: "#9b59b6", Cursor: &types.Position{X: 1, Y: 2}},
		}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"USERS","payload":{"users":[
			{"id":"u1","name":"alice","color":"#3498db"},
			{"id":"u2","name":"bob","color":"#9b59b6","cursor":{"x":1,"y":2}}]}}`, string(b))
	})

	t.Run("empty users is an empty list", func(t *testing.T) {
		b, err := Encode(NewUsers(nil))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"USERS","payload":{"users":[]}}`, string(b))
	})

	t.Run("draw is flat", func(t *testing.T) {
		b, err := Encode(NewDraw(types.Operation{
			UserId:    "u1",
			Username:  "alice",
			RoomId:    "demo",
			Timestamp: 42,
			Kind:      types.KindRect,
			ObjectId:  "o1",
			Left:      10,
			Top:       10,
			Width:     100,
			Height:    100,
		}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"DRAW","payload":{"userId":"u1","username":"alice","roomId":"demo",
			"timestamp":42,"kind":"rect","objectId":"o1","left":10,"top":10,"width":100,"height":100}}`, string(b))
	})

	t.Run("payload must match type", func(t *testing.T) {
		_, err := Encode(&Envelope{Type: TypeLeave})
		assert.Error(t, err)

		_, err = Encode(&Envelope{Type: "PING", Join: &Join{}})
		assert.Error(t, err)
	})
}

func TestDecode(t *testing.T) {
	tcases := []struct {
		name  string
		input string
		check func(t *testing.T, e *Envelope)
	}{
		{
			name:  "join",
			input: `{"type":"JOIN","payload":{"userId":"u1","username":"alice","roomId":"demo","color":"#fff"}}`,
			check: func(t *testing.T, e *Envelope) {
				require.NotNil(t, e.Join)
				assert.Equal(t, "demo", e.Join.RoomId)
				assert.Equal(t, "alice", e.Join.Username)
			},
		},
		{
			name:  "leave",
			input: `{"type":"LEAVE","payload":{"userId":"u1","username":"alice","roomId":"demo"}}`,
			check: func(t *testing.T, e *Envelope) {
				require.NotNil(t, e.Leave)
				assert.Equal(t, "u1", e.Leave.UserId)
			},
		},
		{
			name:  "cursor move",
			input: `{"type":"CURSOR_MOVE","payload":{"userId":"u1","position":{"x":3.5,"y":4},"roomId":"demo"}}`,
			check: func(t *testing.T, e *Envelope) {
				require.NotNil(t, e.Cursor)
				assert.Equal(t, types.Position{X: 3.5, Y: 4}, e.Cursor.Position)
			},
		},
		{
			name:  "draw path keeps raw path",
			input: `{"type":"DRAW","payload":{"userId":"u1","roomId":"demo","timestamp":1,"kind":"path","path":{"path":[["M",0,0],["L",5,5]]}}}`,
			check: func(t *testing.T, e *Envelope) {
				require.NotNil(t, e.Draw)
				assert.Equal(t, types.KindPath, e.Draw.Kind)
				assert.JSONEq(t, `{"path":[["M",0,0],["L",5,5]]}`, string(e.Draw.Path))
			},
		},
		{
			name:  "draw clear",
			input: `{"type":"DRAW","payload":{"kind":"clear"}}`,
			check: func(t *testing.T, e *Envelope) {
				assert.Equal(t, types.KindClear, e.Draw.Kind)
			},
		},
		{
			name:  "users",
			input: `{"type":"USERS","payload":{"users":[{"id":"u1","name":"a","color":"#fff","cursor":{"x":1,"y":1}}]}}`,
			check: func(t *testing.T, e *Envelope) {
				require.Len(t, e.Users.Users, 1)
				assert.NotNil(t, e.Users.Users[0].Cursor)
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Decode([]byte(tc.input))
			require.NoError(t, err)
			tc.check(t, e)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tcases := []struct {
		name  string
		input string
	}{
		{name: "not json", input: `not json`},
		{name: "unknown type", input: `{"type":"PING","payload":{}}`},
		{name: "missing payload", input: `{"type":"JOIN"}`},
		{name: "null payload", input: `{"type":"DRAW","payload":null}`},
		{name: "payload wrong shape", input: `{"type":"CURSOR_MOVE","payload":{"position":"here"}}`},
		{name: "join without room", input: `{"type":"JOIN","payload":{"username":"alice"}}`},
		{name: "unknown draw kind", input: `{"type":"DRAW","payload":{"kind":"triangle"}}`},
		{name: "modify without object", input: `{"type":"DRAW","payload":{"kind":"modify","shape":"rect"}}`},
		{name: "users without id", input: `{"type":"USERS","payload":{"users":[{"name":"a"}]}}`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Decode([]byte(tc.input))
			assert.Nil(t, e)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestNewDraw_CopiesOperation(t *testing.T) {
	op := types.Operation{Kind: types.KindRect, Left: 1}
	e := NewDraw(op)
	op.Left = 2
	assert.Equal(t, float64(1), e.Draw.Left, "expected envelope to hold its own copy")

	var decoded map[string]any
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "DRAW", decoded["type"])
}
