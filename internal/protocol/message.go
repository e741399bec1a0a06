// Package protocol defines the JSON messages exchanged over the duplex
// channel and normalizes inbound payloads into the store's canonical types.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LiveCanvas/internal/state"
)

// ErrMalformed marks an inbound message that could not be decoded.
var ErrMalformed = errors.New("protocol: malformed message")

// Type is the message discriminator.
type Type string

const (
	TypeCanvasSync       Type = "CANVAS_SYNC"
	TypeCanvasUpdate     Type = "CANVAS_UPDATE"
	TypeShapeCreate      Type = "SHAPE_CREATE"
	TypeShapeUpdate      Type = "SHAPE_UPDATE"
	TypeShapeDelete      Type = "SHAPE_DELETE"
	TypeCursorMove       Type = "CURSOR_MOVE"
	TypeUserJoin         Type = "USER_JOIN"
	TypeUserLeave        Type = "USER_LEAVE"
	TypeActiveUsers      Type = "ACTIVE_USERS"
	TypeError            Type = "ERROR"
	TypeReconnectRequest Type = "RECONNECT_REQUEST"
	TypeSwitchCanvas     Type = "SWITCH_CANVAS"
	TypeCanvasSwitched   Type = "CANVAS_SWITCHED"
)

// Envelope is the wire form of every message.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Canvas is the metadata of a canvas record.
type Canvas struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

// Event is a decoded inbound message. The concrete types below form a closed
// set discriminated by Type.
type Event interface {
	Type() Type
}

// SyncEvent is a full snapshot. Shape records that could not be normalized
// are left out of Shapes and reported in Rejected.
type SyncEvent struct {
	Canvas   Canvas
	Shapes   []state.Shape
	Users    []state.User
	Rejected []error
}

type CanvasUpdateEvent struct {
	Canvas Canvas
}

type CanvasSwitchedEvent struct {
	Canvas   Canvas
	Shapes   []state.Shape
	Users    []state.User
	Rejected []error
}

type ShapeCreateEvent struct {
	Shape  state.Shape
	TempID string
	Actor  string
}

type ShapeUpdateEvent struct {
	ID    string
	Patch state.Patch
	Actor string
}

type ShapeDeleteEvent struct {
	ID    string
	Actor string
}

type CursorEvent struct {
	UserID string
	Point  state.Point
	At     time.Time
}

type UserJoinEvent struct {
	User state.User
}

type UserLeaveEvent struct {
	UserID string
}

type ActiveUsersEvent struct {
	Users []state.User
}

type ErrorEvent struct {
	Code    string
	Message string
}

func (SyncEvent) Type() Type           { return TypeCanvasSync }
func (CanvasUpdateEvent) Type() Type   { return TypeCanvasUpdate }
func (CanvasSwitchedEvent) Type() Type { return TypeCanvasSwitched }
func (ShapeCreateEvent) Type() Type    { return TypeShapeCreate }
func (ShapeUpdateEvent) Type() Type    { return TypeShapeUpdate }
func (ShapeDeleteEvent) Type() Type    { return TypeShapeDelete }
func (CursorEvent) Type() Type         { return TypeCursorMove }
func (UserJoinEvent) Type() Type       { return TypeUserJoin }
func (UserLeaveEvent) Type() Type      { return TypeUserLeave }
func (ActiveUsersEvent) Type() Type    { return TypeActiveUsers }
func (ErrorEvent) Type() Type          { return TypeError }

// Decode parses one inbound message. Unknown types and payloads that cannot
// be normalized return an error wrapping ErrMalformed.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	payload := map[string]any{}
	if len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(env.Payload))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	at := time.UnixMilli(env.Timestamp)
	if env.Timestamp == 0 {
		at = time.Time{}
	}

	ev, err := decodePayload(env.Type, payload, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return ev, nil
}

func decodePayload(t Type, p map[string]any, at time.Time) (Event, error) {
	switch t {
	case TypeCanvasSync:
		shapes, rejected, users, canvas := decodeSnapshot(p)
		return SyncEvent{Canvas: canvas, Shapes: shapes, Users: users, Rejected: rejected}, nil
	case TypeCanvasSwitched:
		shapes, rejected, users, canvas := decodeSnapshot(p)
		return CanvasSwitchedEvent{Canvas: canvas, Shapes: shapes, Users: users, Rejected: rejected}, nil
	case TypeCanvasUpdate:
		return CanvasUpdateEvent{Canvas: decodeCanvas(objectOr(p, "canvas"))}, nil
	case TypeShapeCreate:
		rec := objectOr(p, "shape")
		sh, err := NormalizeShape(rec)
		if err != nil {
			return nil, err
		}
		return ShapeCreateEvent{
			Shape:  sh,
			TempID: firstString(p, "tempId", "temp_id", "clientId", "client_id"),
			Actor:  firstString(p, "userId", "user_id", "actorId"),
		}, nil
	case TypeShapeUpdate:
		id := firstString(p, "shapeId", "shape_id", "id")
		if id == "" {
			if rec, ok := p["shape"].(map[string]any); ok {
				id = firstString(rec, "id")
			}
		}
		if id == "" {
			return nil, errors.New("missing shape id")
		}
		patch, err := NormalizePatch(updatesOf(p))
		if err != nil {
			return nil, err
		}
		return ShapeUpdateEvent{ID: id, Patch: patch, Actor: firstString(p, "userId", "user_id", "actorId")}, nil
	case TypeShapeDelete:
		id := firstString(p, "shapeId", "shape_id", "id")
		if id == "" {
			return nil, errors.New("missing shape id")
		}
		return ShapeDeleteEvent{ID: id, Actor: firstString(p, "userId", "user_id", "actorId")}, nil
	case TypeCursorMove:
		x, xok := number(p["x"])
		y, yok := number(p["y"])
		if !xok || !yok {
			return nil, errors.New("cursor without coordinates")
		}
		return CursorEvent{UserID: firstString(p, "userId", "user_id", "id"), Point: state.Point{X: x, Y: y}, At: at}, nil
	case TypeUserJoin:
		u := decodeUser(objectOr(p, "user"))
		if u.ID == "" {
			return nil, errors.New("user without id")
		}
		return UserJoinEvent{User: u}, nil
	case TypeUserLeave:
		id := firstString(objectOr(p, "user"), "id", "userId", "user_id")
		if id == "" {
			id = firstString(p, "userId", "user_id", "id")
		}
		if id == "" {
			return nil, errors.New("user without id")
		}
		return UserLeaveEvent{UserID: id}, nil
	case TypeActiveUsers:
		return ActiveUsersEvent{Users: decodeUsers(p["users"])}, nil
	case TypeError:
		return ErrorEvent{Code: firstString(p, "code"), Message: firstString(p, "message", "error")}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", t)
}

// decodeSnapshot keeps every shape record that normalizes. One bad record
// never costs the rest of the canvas.
func decodeSnapshot(p map[string]any) ([]state.Shape, []error, []state.User, Canvas) {
	raw, _ := p["shapes"].([]any)
	shapes := make([]state.Shape, 0, len(raw))
	var rejected []error
	for i, item := range raw {
		rec, ok := item.(map[string]any)
		if !ok {
			rejected = append(rejected, fmt.Errorf("shape entry %d is %T", i, item))
			continue
		}
		sh, err := NormalizeShape(rec)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		shapes = append(shapes, sh)
	}
	users := decodeUsers(firstPresent(p, "activeUsers", "active_users", "users"))
	return shapes, rejected, users, decodeCanvas(objectOr(p, "canvas"))
}

func decodeCanvas(p map[string]any) Canvas {
	return Canvas{
		ID:              firstString(p, "id", "canvasId", "canvas_id"),
		Name:            firstString(p, "name", "title"),
		BackgroundColor: firstString(p, "backgroundColor", "background_color"),
	}
}

func decodeUsers(v any) []state.User {
	raw, _ := v.([]any)
	users := make([]state.User, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]any); ok {
			if u := decodeUser(rec); u.ID != "" {
				users = append(users, u)
			}
		}
	}
	return users
}

func decodeUser(p map[string]any) state.User {
	return state.User{
		ID:    firstString(p, "id", "userId", "user_id"),
		Name:  firstString(p, "name", "username", "displayName", "display_name", "email"),
		Color: firstString(p, "color", "cursorColor", "cursor_color"),
	}
}

func updatesOf(p map[string]any) map[string]any {
	for _, key := range []string{"updates", "changes", "attrs", "shape"} {
		if rec, ok := p[key].(map[string]any); ok {
			return rec
		}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch k {
		case "shapeId", "shape_id", "id", "userId", "user_id", "actorId", "type":
			continue
		}
		out[k] = v
	}
	return out
}

// objectOr returns p[key] when it is an object, otherwise p itself.
func objectOr(p map[string]any, key string) map[string]any {
	if rec, ok := p[key].(map[string]any); ok {
		return rec
	}
	return p
}

func firstPresent(p map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(p map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

// DecodeCanvas parses a canvas record as served over HTTP, either bare or
// wrapped in a "canvas" object.
func DecodeCanvas(raw []byte) (Canvas, error) {
	var rec map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Canvas{}, fmt.Errorf("%w: canvas record: %v", ErrMalformed, err)
	}
	return decodeCanvas(objectOr(rec, "canvas")), nil
}
