package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"LiveCanvas/internal/state"
)

// Intent is an outbound request. Only the fields relevant to Type are set.
type Intent struct {
	Type     Type
	ShapeID  string
	Shape    *state.Shape
	Patch    state.Patch
	Point    state.Point
	CanvasID string
}

// Create asks the server to create sh. The shape's id doubles as the tempId
// the server echoes back with the authoritative record.
func Create(sh state.Shape) Intent {
	return Intent{Type: TypeShapeCreate, ShapeID: sh.ID, Shape: &sh}
}

func Update(id string, p state.Patch) Intent {
	return Intent{Type: TypeShapeUpdate, ShapeID: id, Patch: p.Clone()}
}

func Delete(id string) Intent {
	return Intent{Type: TypeShapeDelete, ShapeID: id}
}

func Cursor(at state.Point) Intent {
	return Intent{Type: TypeCursorMove, Point: at}
}

// ReconnectRequest asks the server for a full resync of canvasID.
func ReconnectRequest(canvasID string) Intent {
	return Intent{Type: TypeReconnectRequest, CanvasID: canvasID}
}

func SwitchCanvas(canvasID string) Intent {
	return Intent{Type: TypeSwitchCanvas, CanvasID: canvasID}
}

// Queueable reports whether the intent is worth replaying after an outage.
// Cursor positions and resync requests are stale by then.
func (i Intent) Queueable() bool {
	switch i.Type {
	case TypeCursorMove, TypeReconnectRequest:
		return false
	}
	return true
}

func (i Intent) String() string {
	switch i.Type {
	case TypeShapeUpdate:
		return fmt.Sprintf("%s(%s %v)", i.Type, i.ShapeID, i.Patch.Fields())
	case TypeShapeCreate, TypeShapeDelete:
		return fmt.Sprintf("%s(%s)", i.Type, i.ShapeID)
	case TypeReconnectRequest, TypeSwitchCanvas:
		return fmt.Sprintf("%s(%s)", i.Type, i.CanvasID)
	}
	return string(i.Type)
}

// Encode renders the intent as a wire envelope stamped with at.
func (i Intent) Encode(at time.Time) ([]byte, error) {
	var payload map[string]any
	switch i.Type {
	case TypeShapeCreate:
		if i.Shape == nil {
			return nil, fmt.Errorf("protocol: create intent without shape")
		}
		rec := wirePatch(i.Shape.Attrs())
		rec["id"] = i.Shape.ID
		rec["type"] = string(i.Shape.Kind)
		if i.Shape.CreatedBy != "" {
			rec["createdBy"] = i.Shape.CreatedBy
		}
		payload = map[string]any{"shape": rec, "tempId": i.Shape.ID}
	case TypeShapeUpdate:
		payload = map[string]any{"shapeId": i.ShapeID, "updates": wirePatch(i.Patch)}
	case TypeShapeDelete:
		payload = map[string]any{"shapeId": i.ShapeID}
	case TypeCursorMove:
		payload = map[string]any{"x": i.Point.X, "y": i.Point.Y}
	case TypeReconnectRequest, TypeSwitchCanvas:
		payload = map[string]any{"canvasId": i.CanvasID}
	default:
		return nil, fmt.Errorf("protocol: cannot encode intent %q", i.Type)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", i.Type, err)
	}
	return json.Marshal(Envelope{Type: i.Type, Payload: body, Timestamp: at.UnixMilli()})
}

func wirePatch(p state.Patch) map[string]any {
	out := make(map[string]any, len(p))
	for f, v := range p {
		if t, ok := v.(time.Time); ok {
			if t.IsZero() {
				out[string(f)] = nil
				continue
			}
			out[string(f)] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[string(f)] = v
	}
	return out
}
