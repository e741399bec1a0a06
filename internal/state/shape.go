package state

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind discriminates shape records.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindText      Kind = "text"
)

// Valid reports whether k is a kind the store knows how to hold.
func (k Kind) Valid() bool {
	switch k {
	case KindRectangle, KindCircle, KindText:
		return true
	}
	return false
}

// Field names one shape attribute. The names match the camelCase wire form.
type Field string

const (
	FieldX              Field = "x"
	FieldY              Field = "y"
	FieldWidth          Field = "width"
	FieldHeight         Field = "height"
	FieldRadius         Field = "radius"
	FieldRotation       Field = "rotation"
	FieldColor          Field = "color"
	FieldOpacity        Field = "opacity"
	FieldShadowColor    Field = "shadowColor"
	FieldShadowStrength Field = "shadowStrength"
	FieldBorderRadius   Field = "borderRadius"
	FieldTextContent    Field = "textContent"
	FieldFontSize       Field = "fontSize"
	FieldFontFamily     Field = "fontFamily"
	FieldFontWeight     Field = "fontWeight"
	FieldTextAlign      Field = "textAlign"
	FieldZIndex         Field = "zIndex"
	FieldLockedBy       Field = "lockedBy"
	FieldLockedAt       Field = "lockedAt"
	FieldCreatedBy      Field = "createdBy"
	FieldUpdatedBy      Field = "updatedBy"
	FieldUpdatedAt      Field = "updatedAt"
)

type fieldType int

const (
	typeFloat fieldType = iota
	typeInt
	typeString
	typeTime
)

var fieldTypes = map[Field]fieldType{
	FieldX:              typeFloat,
	FieldY:              typeFloat,
	FieldWidth:          typeFloat,
	FieldHeight:         typeFloat,
	FieldRadius:         typeFloat,
	FieldRotation:       typeFloat,
	FieldColor:          typeString,
	FieldOpacity:        typeFloat,
	FieldShadowColor:    typeString,
	FieldShadowStrength: typeFloat,
	FieldBorderRadius:   typeFloat,
	FieldTextContent:    typeString,
	FieldFontSize:       typeFloat,
	FieldFontFamily:     typeString,
	FieldFontWeight:     typeString,
	FieldTextAlign:      typeString,
	FieldZIndex:         typeInt,
	FieldLockedBy:       typeString,
	FieldLockedAt:       typeTime,
	FieldCreatedBy:      typeString,
	FieldUpdatedBy:      typeString,
	FieldUpdatedAt:      typeTime,
}

// Known reports whether f is a recognised attribute.
func (f Field) Known() bool {
	_, ok := fieldTypes[f]
	return ok
}

func (f Field) textOnly() bool {
	switch f {
	case FieldTextContent, FieldFontSize, FieldFontFamily, FieldFontWeight, FieldTextAlign:
		return true
	}
	return false
}

// Allowed reports whether f is meaningful for shapes of kind k. A circle
// never carries width/height and only text carries typography.
func (k Kind) Allowed(f Field) bool {
	switch {
	case f.textOnly():
		return k == KindText
	case f == FieldWidth || f == FieldHeight:
		return k != KindCircle
	case f == FieldRadius:
		return k == KindCircle
	}
	return f.Known()
}

// Patch is a partial set of shape attributes keyed by canonical field name.
// A nil value clears the attribute (used for lock release).
type Patch map[Field]any

// Clone returns a shallow copy of p.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge overlays other onto p and returns p.
func (p Patch) Merge(other Patch) Patch {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Without returns a copy of p with fields removed.
func (p Patch) Without(fields ...Field) Patch {
	out := p.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Fields returns the keys of p in sorted order.
func (p Patch) Fields() []Field {
	out := make([]Field, 0, len(p))
	for f := range p {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Float returns the numeric value of f.
func (p Patch) Float(f Field) (float64, bool) {
	v, ok := p[f]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// String returns the string value of f.
func (p Patch) String(f Field) (string, bool) {
	v, ok := p[f].(string)
	return v, ok
}

// Coerce converts every value of p to the canonical Go type for its field:
// float64, int, string or time.Time. Unknown fields and unconvertible values
// are dropped and reported.
func Coerce(p Patch) (Patch, []error) {
	out := make(Patch, len(p))
	var errs []error
	for f, v := range p {
		typ, ok := fieldTypes[f]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown field %q", f))
			continue
		}
		if v == nil {
			out[f] = nil
			continue
		}
		var (
			cv  any
			cok bool
		)
		switch typ {
		case typeFloat:
			cv, cok = toFloat(v)
		case typeInt:
			var fv float64
			fv, cok = toFloat(v)
			cv = int(math.Round(fv))
		case typeString:
			cv, cok = v.(string)
		case typeTime:
			cv, cok = toTime(v)
		}
		if !cok {
			errs = append(errs, fmt.Errorf("field %q: unexpected value %v (%T)", f, v, v))
			continue
		}
		out[f] = cv
	}
	return out, errs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is the canonical record held by the Store.
type Shape struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"type"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	Width          float64   `json:"width,omitempty"`
	Height         float64   `json:"height,omitempty"`
	Radius         float64   `json:"radius,omitempty"`
	Rotation       float64   `json:"rotation"`
	Color          string    `json:"color,omitempty"`
	Opacity        float64   `json:"opacity"`
	ShadowColor    string    `json:"shadowColor,omitempty"`
	ShadowStrength float64   `json:"shadowStrength,omitempty"`
	BorderRadius   float64   `json:"borderRadius,omitempty"`
	TextContent    string    `json:"textContent,omitempty"`
	FontSize       float64   `json:"fontSize,omitempty"`
	FontFamily     string    `json:"fontFamily,omitempty"`
	FontWeight     string    `json:"fontWeight,omitempty"`
	TextAlign      string    `json:"textAlign,omitempty"`
	ZIndex         int       `json:"zIndex"`
	LockedBy       string    `json:"lockedBy,omitempty"`
	LockedAt       time.Time `json:"lockedAt,omitempty"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`

	order uint64
}

// NewShape builds a shape of kind with sensible defaults, then applies attrs.
func NewShape(id string, kind Kind, attrs Patch) Shape {
	sh := Shape{ID: id, Kind: kind, Opacity: 1, Color: "#3b82f6"}
	switch kind {
	case KindCircle:
		sh.Radius = 50
	case KindText:
		sh.Width, sh.Height = 200, 40
		sh.FontSize, sh.FontFamily, sh.FontWeight, sh.TextAlign = 16, "Inter", "normal", "left"
		sh.Color = "#111827"
	default:
		sh.Width, sh.Height = 100, 100
	}
	sh.Apply(attrs)
	return sh
}

// Get returns the current value of f, or nil when f is not meaningful for
// the shape's kind. Lock fields return nil when absent.
func (s *Shape) Get(f Field) any {
	if !s.Kind.Allowed(f) {
		return nil
	}
	switch f {
	case FieldX:
		return s.X
	case FieldY:
		return s.Y
	case FieldWidth:
		return s.Width
	case FieldHeight:
		return s.Height
	case FieldRadius:
		return s.Radius
	case FieldRotation:
		return s.Rotation
	case FieldColor:
		return s.Color
	case FieldOpacity:
		return s.Opacity
	case FieldShadowColor:
		return s.ShadowColor
	case FieldShadowStrength:
		return s.ShadowStrength
	case FieldBorderRadius:
		return s.BorderRadius
	case FieldTextContent:
		return s.TextContent
	case FieldFontSize:
		return s.FontSize
	case FieldFontFamily:
		return s.FontFamily
	case FieldFontWeight:
		return s.FontWeight
	case FieldTextAlign:
		return s.TextAlign
	case FieldZIndex:
		return s.ZIndex
	case FieldLockedBy:
		if s.LockedBy == "" {
			return nil
		}
		return s.LockedBy
	case FieldLockedAt:
		if s.LockedAt.IsZero() {
			return nil
		}
		return s.LockedAt
	case FieldCreatedBy:
		return s.CreatedBy
	case FieldUpdatedBy:
		return s.UpdatedBy
	case FieldUpdatedAt:
		return s.UpdatedAt
	}
	return nil
}

// Snapshot captures the current values of fields as a Patch.
func (s *Shape) Snapshot(fields ...Field) Patch {
	p := make(Patch, len(fields))
	for _, f := range fields {
		if s.Kind.Allowed(f) {
			p[f] = s.Get(f)
		}
	}
	return p
}

// Attrs returns every user-editable attribute of the shape.
func (s *Shape) Attrs() Patch {
	p := make(Patch)
	for f := range fieldTypes {
		switch f {
		case FieldLockedBy, FieldLockedAt, FieldCreatedBy, FieldUpdatedBy, FieldUpdatedAt:
			continue
		}
		if s.Kind.Allowed(f) {
			p[f] = s.Get(f)
		}
	}
	return p
}

// Apply writes p into the shape and returns the fields that changed.
// Fields that are not meaningful for the shape's kind are ignored.
func (s *Shape) Apply(p Patch) []Field {
	var changed []Field
	for _, f := range p.Fields() {
		if !s.Kind.Allowed(f) {
			continue
		}
		if s.set(f, p[f]) {
			changed = append(changed, f)
		}
	}
	return changed
}

func (s *Shape) set(f Field, v any) bool {
	switch fieldTypes[f] {
	case typeFloat:
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		ptr := s.floatField(f)
		if *ptr == n {
			return false
		}
		*ptr = n
	case typeInt:
		n, ok := toFloat(v)
		if !ok || s.ZIndex == int(math.Round(n)) {
			return false
		}
		s.ZIndex = int(math.Round(n))
	case typeString:
		str, _ := v.(string)
		ptr := s.stringField(f)
		if *ptr == str {
			return false
		}
		*ptr = str
	case typeTime:
		var t time.Time
		if v != nil {
			parsed, ok := toTime(v)
			if !ok {
				return false
			}
			t = parsed
		}
		ptr := s.timeField(f)
		if ptr.Equal(t) {
			return false
		}
		*ptr = t
	}
	return true
}

func (s *Shape) floatField(f Field) *float64 {
	switch f {
	case FieldX:
		return &s.X
	case FieldY:
		return &s.Y
	case FieldWidth:
		return &s.Width
	case FieldHeight:
		return &s.Height
	case FieldRadius:
		return &s.Radius
	case FieldRotation:
		return &s.Rotation
	case FieldOpacity:
		return &s.Opacity
	case FieldShadowStrength:
		return &s.ShadowStrength
	case FieldBorderRadius:
		return &s.BorderRadius
	case FieldFontSize:
		return &s.FontSize
	}
	panic("state: not a float field: " + string(f))
}

func (s *Shape) stringField(f Field) *string {
	switch f {
	case FieldColor:
		return &s.Color
	case FieldShadowColor:
		return &s.ShadowColor
	case FieldTextContent:
		return &s.TextContent
	case FieldFontFamily:
		return &s.FontFamily
	case FieldFontWeight:
		return &s.FontWeight
	case FieldTextAlign:
		return &s.TextAlign
	case FieldLockedBy:
		return &s.LockedBy
	case FieldCreatedBy:
		return &s.CreatedBy
	case FieldUpdatedBy:
		return &s.UpdatedBy
	}
	panic("state: not a string field: " + string(f))
}

func (s *Shape) timeField(f Field) *time.Time {
	switch f {
	case FieldLockedAt:
		return &s.LockedAt
	case FieldUpdatedAt:
		return &s.UpdatedAt
	}
	panic("state: not a time field: " + string(f))
}

// Bounds is the size of the drawing surface.
type Bounds struct {
	Width  float64
	Height float64
}

// DefaultBounds is the 50,000 x 50,000 canvas.
var DefaultBounds = Bounds{Width: 50000, Height: 50000}

// ClampPosition keeps a shape of the given geometry inside the canvas. For
// circles (x, y) is the centre and the radius is the margin; for everything
// else (x, y) is the top-left corner and width/height are the margin.
func (b Bounds) ClampPosition(s Shape, x, y float64) (float64, float64) {
	if s.Kind == KindCircle {
		return clamp(x, s.Radius, b.Width-s.Radius), clamp(y, s.Radius, b.Height-s.Radius)
	}
	return clamp(x, 0, b.Width-s.Width), clamp(y, 0, b.Height-s.Height)
}

// ClampGeometry clamps the geometry fields present in p, interpreting them
// against the shape's current values for anything p omits.
func (b Bounds) ClampGeometry(s Shape, p Patch) Patch {
	out := p.Clone()
	next := s
	next.Apply(p)
	if next.Kind == KindCircle {
		maxR := math.Min(b.Width, b.Height) / 2
		next.Radius = clamp(next.Radius, 1, maxR)
		if _, ok := p[FieldRadius]; ok {
			out[FieldRadius] = next.Radius
		}
	} else {
		next.Width = clamp(next.Width, 1, b.Width)
		next.Height = clamp(next.Height, 1, b.Height)
		if _, ok := p[FieldWidth]; ok {
			out[FieldWidth] = next.Width
		}
		if _, ok := p[FieldHeight]; ok {
			out[FieldHeight] = next.Height
		}
	}
	x, y := b.ClampPosition(next, next.X, next.Y)
	_, hasX := p[FieldX]
	_, hasY := p[FieldY]
	_, hasW := p[FieldWidth]
	_, hasH := p[FieldHeight]
	_, hasR := p[FieldRadius]
	resized := hasW || hasH || hasR
	if hasX || (resized && x != s.X) {
		out[FieldX] = x
	}
	if hasY || (resized && y != s.Y) {
		out[FieldY] = y
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
