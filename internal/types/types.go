package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Palette is the fixed set of colours handed out to room members.
var Palette = []string{
	"#3498db", "#9b59b6", "#2ecc71", "#f39c12", "#1abc9c",
	"#e74c3c", "#34495e", "#16a085", "#27ae60", "#d35400",
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type User struct {
	Id     string    `json:"id"`
	Name   string    `json:"name"`
	Color  string    `json:"color"`
	Cursor *Position `json:"cursor,omitempty"`
}

type OperationKind string

const (
	KindRect   OperationKind = "rect"
	KindCircle OperationKind = "circle"
	KindText   OperationKind = "text"
	KindPath   OperationKind = "path"
	KindModify OperationKind = "modify"
	KindClear  OperationKind = "clear"
)

func (k OperationKind) Valid() bool {
	switch k {
	case KindRect, KindCircle, KindText, KindPath, KindModify, KindClear:
		return true
	}
	return false
}

// CreatesObject reports whether operations of this kind introduce a new
// object on the drawing surface.
func (k OperationKind) CreatesObject() bool {
	switch k {
	case KindRect, KindCircle, KindText, KindPath:
		return true
	}
	return false
}

// Operation is a single drawing action. The identity fields are set by the
// author and stamped by the server; the geometry is relayed untouched.
type Operation struct {
	UserId    string        `json:"userId"`
	Username  string        `json:"username"`
	RoomId    string        `json:"roomId"`
	Timestamp int64         `json:"timestamp"`
	Kind      OperationKind `json:"kind"`
	ObjectId  string        `json:"objectId,omitempty"`

	// Shape names the kind of object a modify operation targets.
	Shape       OperationKind   `json:"shape,omitempty"`
	Left        float64         `json:"left,omitempty"`
	Top         float64         `json:"top,omitempty"`
	Width       float64         `json:"width,omitempty"`
	Height      float64         `json:"height,omitempty"`
	Radius      float64         `json:"radius,omitempty"`
	Angle       float64         `json:"angle,omitempty"`
	Fill        string          `json:"fill,omitempty"`
	Stroke      string          `json:"stroke,omitempty"`
	StrokeWidth float64         `json:"strokeWidth,omitempty"`
	Text        string          `json:"text,omitempty"`
	FontSize    float64         `json:"fontSize,omitempty"`
	Path        json.RawMessage `json:"path,omitempty"`
}

func NewUserId() string {
	return uuid.NewString()
}

func NewObjectId() string {
	return uuid.NewString()
}

// NowMillis returns the current wall clock in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
