package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
	"LiveCanvas/internal/tools"
)

var (
	numberSchema = map[string]any{"type": "number"}
	stringSchema = map[string]any{"type": "string"}
	idsSchema    = map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string", "minLength": 1},
		"description": "Shape ids; the current selection when omitted",
	}
	kindSchema = map[string]any{
		"type": "string",
		"enum": []string{string(state.KindRectangle), string(state.KindCircle), string(state.KindText)},
	}
)

// attributeSchema lists the editable shape attributes. Snake case spellings
// are accepted as well, as on the wire.
func attributeSchema() map[string]any {
	props := map[string]any{}
	for _, f := range []state.Field{
		state.FieldX, state.FieldY, state.FieldWidth, state.FieldHeight, state.FieldRadius,
		state.FieldRotation, state.FieldOpacity, state.FieldShadowStrength, state.FieldBorderRadius,
		state.FieldFontSize, state.FieldZIndex,
	} {
		props[string(f)] = numberSchema
	}
	for _, f := range []state.Field{
		state.FieldColor, state.FieldShadowColor, state.FieldTextContent,
		state.FieldFontFamily, state.FieldFontWeight, state.FieldTextAlign,
	} {
		props[string(f)] = stringSchema
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}

// RegisterTools adds the agent operations to reg. Every tool runs on the
// session loop through the same methods a human gesture uses, so agent
// edits are lock-checked, recorded in history and queued while offline.
func (s *Session) RegisterTools(reg *tools.Registry) error {
	attrs := attributeSchema()
	defs := []tools.Tool{
		{
			Name:        "create_shape",
			Description: "Create a rectangle, circle or text shape",
			Schema: tools.Object(map[string]any{
				"kind":       kindSchema,
				"attributes": attrs,
			}, "kind"),
			Handler: s.toolCreate,
		},
		{
			Name:        "update_shape",
			Description: "Change attributes of one shape",
			Schema: tools.Object(map[string]any{
				"id":         map[string]any{"type": "string", "minLength": 1},
				"attributes": attrs,
			}, "id", "attributes"),
			Handler: s.toolUpdate,
		},
		{
			Name:        "delete_shapes",
			Description: "Delete shapes",
			Schema:      tools.Object(map[string]any{"ids": idsSchema}),
			Handler:     s.toolDelete,
		},
		{
			Name:        "select_shapes",
			Description: "Select and lock shapes",
			Schema: tools.Object(map[string]any{
				"ids":    idsSchema,
				"extend": map[string]any{"type": "boolean"},
			}, "ids"),
			Handler: s.toolSelect,
		},
		{
			Name:        "clear_selection",
			Description: "Deselect everything and release the locks",
			Schema:      tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return s.onLoop(ctx, func() (any, error) {
					s.ClearSelection()
					return map[string]any{"selected": []string{}}, nil
				})
			},
		},
		{
			Name:        "arrange",
			Description: "Move shapes in the stacking order",
			Schema: tools.Object(map[string]any{
				"ids": idsSchema,
				"mode": map[string]any{
					"type": "string",
					"enum": []string{string(BringToFront), string(SendToBack), string(BringForward), string(SendBackward)},
				},
			}, "mode"),
			Handler: s.toolArrange,
		},
		{
			Name:        "align",
			Description: "Align shapes to a common edge or centre line",
			Schema: tools.Object(map[string]any{
				"ids": idsSchema,
				"edge": map[string]any{
					"type": "string",
					"enum": []string{
						string(AlignLeft), string(AlignRight), string(AlignTop),
						string(AlignBottom), string(AlignCenterX), string(AlignCenterY),
					},
				},
			}, "edge"),
			Handler: s.toolAlign,
		},
		{
			Name:        "duplicate_shapes",
			Description: "Copy shapes, shifted by offset",
			Schema: tools.Object(map[string]any{
				"ids":    idsSchema,
				"offset": numberSchema,
			}),
			Handler: s.toolDuplicate,
		},
		{
			Name:        "undo",
			Description: "Undo the last change",
			Schema:      tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return s.onLoop(ctx, func() (any, error) {
					ok, err := s.Undo()
					return map[string]any{"applied": ok}, err
				})
			},
		},
		{
			Name:        "redo",
			Description: "Redo the last undone change",
			Schema:      tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return s.onLoop(ctx, func() (any, error) {
					ok, err := s.Redo()
					return map[string]any{"applied": ok}, err
				})
			},
		},
		{
			Name:        "list_shapes",
			Description: "List shapes in stacking order",
			Schema:      tools.Object(map[string]any{"kind": kindSchema}),
			Handler:     s.toolList,
		},
	}
	for _, t := range defs {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// onLoop runs fn on the session loop and hands back its result.
func (s *Session) onLoop(ctx context.Context, fn func() (any, error)) (any, error) {
	var (
		out any
		err error
	)
	if derr := s.Do(ctx, func() { out, err = fn() }); derr != nil {
		return nil, derr
	}
	return out, err
}

// idsOrSelection falls back to the selection when ids is empty. Must run on
// the loop.
func (s *Session) idsOrSelection(ids []string) []string {
	if len(ids) > 0 {
		return ids
	}
	return s.selection.IDs()
}

func toolPatch(raw map[string]any) (state.Patch, error) {
	p, err := protocol.NormalizePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tools.ErrInvalidArguments, err)
	}
	return p, nil
}

func (s *Session) toolCreate(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Kind       state.Kind     `json:"kind"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	p, err := toolPatch(in.Attributes)
	if err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		return s.CreateShape(in.Kind, p)
	})
}

func (s *Session) toolUpdate(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	p, err := toolPatch(in.Attributes)
	if err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		if err := s.UpdateShape(in.ID, p); err != nil {
			return nil, err
		}
		sh, _ := s.store.Get(in.ID)
		return sh, nil
	})
}

func (s *Session) toolDelete(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		ids := s.idsOrSelection(in.IDs)
		var known []string
		for _, id := range ids {
			if _, ok := s.store.Get(id); ok {
				known = append(known, id)
			}
		}
		err := s.DeleteShapes(ids)
		deleted, kept := []string{}, []string{}
		for _, id := range known {
			if _, ok := s.store.Get(id); ok {
				kept = append(kept, id)
			} else {
				deleted = append(deleted, id)
			}
		}
		return map[string]any{"deleted": deleted, "kept": kept}, err
	})
}

func (s *Session) toolSelect(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		IDs    []string `json:"ids"`
		Extend bool     `json:"extend"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		err := s.Select(in.IDs, in.Extend)
		return map[string]any{"selected": s.selection.IDs()}, err
	})
}

func (s *Session) toolArrange(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		IDs  []string    `json:"ids"`
		Mode ArrangeMode `json:"mode"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		return nil, s.Arrange(s.idsOrSelection(in.IDs), in.Mode)
	})
}

func (s *Session) toolAlign(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		IDs  []string  `json:"ids"`
		Edge AlignEdge `json:"edge"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		return nil, s.Align(s.idsOrSelection(in.IDs), in.Edge)
	})
}

func (s *Session) toolDuplicate(ctx context.Context, args json.RawMessage) (any, error) {
	in := struct {
		IDs    []string `json:"ids"`
		Offset *float64 `json:"offset"`
	}{}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	offset := 20.0
	if in.Offset != nil {
		offset = *in.Offset
	}
	return s.onLoop(ctx, func() (any, error) {
		return s.Duplicate(s.idsOrSelection(in.IDs), offset)
	})
}

func (s *Session) toolList(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Kind state.Kind `json:"kind"`
	}
	if err := tools.Decode(args, &in); err != nil {
		return nil, err
	}
	return s.onLoop(ctx, func() (any, error) {
		out := []state.Shape{}
		for _, sh := range s.store.Shapes() {
			if in.Kind == "" || sh.Kind == in.Kind {
				out = append(out, sh)
			}
		}
		return out, nil
	})
}
