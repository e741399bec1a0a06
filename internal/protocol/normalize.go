package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"LiveCanvas/internal/state"
)

var fieldAliases = map[string]state.Field{
	"fill":      state.FieldColor,
	"fillColor": state.FieldColor,
	"text":      state.FieldTextContent,
	"content":   state.FieldTextContent,
	"angle":     state.FieldRotation,
	"z":         state.FieldZIndex,
	"lockOwner": state.FieldLockedBy,
}

var kindKeys = []string{"type", "kind", "shapeType", "shape_type"}

// Spelling ranks: when several keys of one record name the same field, the
// lowest rank wins.
const (
	rankCanonical = iota
	rankSnake
	rankAlias
)

// CanonicalField maps a wire attribute name in either snake_case or camelCase
// to the store's field name. ok is false for names the store does not hold.
func CanonicalField(key string) (state.Field, bool) {
	f, _, ok := canonicalField(key)
	return f, ok
}

func canonicalField(key string) (state.Field, int, bool) {
	if f := state.Field(key); f.Known() {
		return f, rankCanonical, true
	}
	camel := snakeToCamel(key)
	if f := state.Field(camel); f.Known() {
		return f, rankSnake, true
	}
	if f, ok := fieldAliases[camel]; ok {
		return f, rankAlias, true
	}
	return "", 0, false
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	upper := false
	for i, r := range s {
		switch {
		case r == '_':
			upper = i > 0
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePatch converts a wire attribute object into a canonical Patch.
// Unknown keys are skipped; values that cannot be converted are an error.
func NormalizePatch(rec map[string]any) (state.Patch, error) {
	type source struct {
		key  string
		rank int
	}
	raw := make(state.Patch, len(rec))
	from := make(map[state.Field]source, len(rec))
	for k, v := range rec {
		if k == "id" {
			continue
		}
		f, rank, ok := canonicalField(k)
		if !ok {
			continue
		}
		// Canonical beats snake_case beats aliases; ties go to the smaller key.
		if prev, dup := from[f]; dup && (prev.rank < rank || prev.rank == rank && prev.key < k) {
			continue
		}
		from[f] = source{key: k, rank: rank}
		raw[f] = v
	}
	p, errs := state.Coerce(raw)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// NormalizeShape converts a wire shape record into a Shape. The record must
// carry an id and a known kind.
func NormalizeShape(rec map[string]any) (state.Shape, error) {
	id := firstString(rec, "id", "shapeId", "shape_id")
	if id == "" {
		return state.Shape{}, errors.New("shape without id")
	}
	kind := state.Kind(strings.ToLower(firstString(rec, kindKeys...)))
	if kind == "rect" {
		kind = state.KindRectangle
	}
	if !kind.Valid() {
		return state.Shape{}, fmt.Errorf("shape %s: unknown kind %q", id, kind)
	}
	attrs := make(map[string]any, len(rec))
	for k, v := range rec {
		switch k {
		case "type", "kind", "shapeType", "shape_type", "shapeId", "shape_id":
			continue
		}
		attrs[k] = v
	}
	p, err := NormalizePatch(attrs)
	if err != nil {
		return state.Shape{}, fmt.Errorf("shape %s: %w", id, err)
	}
	// Some producers describe circles by their bounding box.
	if kind == state.KindCircle {
		if _, ok := p[state.FieldRadius]; !ok {
			if w, ok := p.Float(state.FieldWidth); ok && w > 0 {
				p[state.FieldRadius] = w / 2
			}
		}
	}
	return state.NewShape(id, kind, p), nil
}
