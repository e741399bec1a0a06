// Package ui shows a session's canvas in a fyne window.
package ui

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"LiveCanvas/internal/engine"
	"LiveCanvas/internal/export"
	"LiveCanvas/internal/net"
	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

// View is a window projecting the shape store of one session. It also
// implements engine.Notifier, so notices show up in the status bar.
type View struct {
	app       fyne.App
	window    fyne.Window
	board     *fyne.Container
	backdrop  *canvas.Rectangle
	notice    *widget.Label
	status    *widget.Label
	users     *widget.Label
	noticeFor time.Duration
	logger    *slog.Logger

	session *engine.Session

	mu        sync.Mutex
	latest    []state.Shape
	scheduled bool
	clearAt   *time.Timer
}

// New creates the window. Nothing is shown until Run.
func New(title string, noticeFor time.Duration, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	a := app.New()
	v := &View{
		app:       a,
		window:    a.NewWindow(title),
		backdrop:  canvas.NewRectangle(color.White),
		notice:    widget.NewLabel(""),
		status:    widget.NewLabel(net.StateDisconnected.String()),
		users:     widget.NewLabel(""),
		noticeFor: noticeFor,
		logger:    logger.With("component", "ui"),
	}
	v.board = container.NewWithoutLayout(v.backdrop)
	v.window.Resize(fyne.NewSize(1024, 768))
	return v
}

// Bind connects the view to s. It must be called before Run.
func (v *View) Bind(ctx context.Context, s *engine.Session) error {
	v.session = s
	v.window.SetContent(container.NewBorder(v.toolbar(), v.statusBar(), nil, nil, container.NewScroll(v.board)))
	v.shortcuts()

	return s.Do(ctx, func() {
		s.Subscribe(func(state.Change) { v.shapesChanged(s.Shapes()) })
		s.OnCanvas(func(c protocol.Canvas) {
			fyne.Do(func() { v.canvasChanged(c) })
		})
		s.OnPresence(func(users []state.User) {
			text := usersText(users)
			fyne.Do(func() { v.users.SetText(text) })
		})
		s.OnConnection(func(st net.State) {
			text := statusText(st, s.Queued())
			fyne.Do(func() { v.status.SetText(text) })
		})
		v.shapesChanged(s.Shapes())
		c := s.Canvas()
		fyne.Do(func() { v.canvasChanged(c) })
	})
}

// Run shows the window and blocks until it is closed. It must be called
// from the main goroutine.
func (v *View) Run() {
	v.window.ShowAndRun()
}

// Notify shows msg in the status bar for the configured duration.
func (v *View) Notify(msg string) {
	v.logger.Info("notice", "message", msg)
	fyne.Do(func() { v.notice.SetText(msg) })

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.clearAt != nil {
		v.clearAt.Stop()
	}
	v.clearAt = time.AfterFunc(v.noticeFor, func() {
		fyne.Do(func() { v.notice.SetText("") })
	})
}

// shapesChanged runs on the session loop. Bursts of changes between two
// redraws collapse into one.
func (v *View) shapesChanged(shapes []state.Shape) {
	v.mu.Lock()
	v.latest = shapes
	scheduled := v.scheduled
	v.scheduled = true
	v.mu.Unlock()
	if !scheduled {
		fyne.Do(v.redraw)
	}
}

func (v *View) redraw() {
	v.mu.Lock()
	shapes := v.latest
	v.scheduled = false
	v.mu.Unlock()

	size := surface(shapes)
	v.backdrop.Resize(size)
	v.board.Resize(size)
	v.board.Objects = append([]fyne.CanvasObject{v.backdrop}, objects(shapes)...)
	v.board.Refresh()
}

func (v *View) canvasChanged(c protocol.Canvas) {
	v.backdrop.FillColor = export.ParseColor(c.BackgroundColor, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	v.backdrop.Refresh()
	title := c.Name
	if title == "" {
		title = c.ID
	}
	v.window.SetTitle("LiveCanvas - " + title)
}

func (v *View) toolbar() fyne.CanvasObject {
	s := v.session
	tb := widget.NewToolbar(
		widget.NewToolbarAction(theme.ContentUndoIcon(), func() { s.Post(v.undo) }),
		widget.NewToolbarAction(theme.ContentRedoIcon(), func() { s.Post(v.redo) }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.CancelIcon(), func() { s.Post(s.ClearSelection) }),
		widget.NewToolbarAction(theme.ViewRefreshIcon(), func() { s.Post(s.Reconnect) }),
	)
	return container.NewHBox(tb, layout.NewSpacer(), v.users)
}

func (v *View) statusBar() fyne.CanvasObject {
	return container.NewHBox(v.status, widget.NewSeparator(), v.notice)
}

func (v *View) shortcuts() {
	c := v.window.Canvas()
	s := v.session
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) {
		s.Post(v.undo)
	})
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyY, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) {
		s.Post(v.redo)
	})
	c.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyEscape}, func(fyne.Shortcut) {
		s.Post(s.ClearSelection)
	})
}

// undo and redo run on the session loop.
func (v *View) undo() {
	if _, err := v.session.Undo(); err != nil {
		v.logger.Debug("undo refused", "err", err)
	}
}

func (v *View) redo() {
	if _, err := v.session.Redo(); err != nil {
		v.logger.Debug("redo refused", "err", err)
	}
}

// surface is the scrollable area needed to show every shape.
func surface(shapes []state.Shape) fyne.Size {
	w, h := float32(1024), float32(768)
	for _, sh := range shapes {
		right, bottom := sh.X+sh.Width, sh.Y+sh.Height
		if sh.Kind == state.KindCircle {
			right, bottom = sh.X+sh.Radius, sh.Y+sh.Radius
		}
		w = max(w, float32(right))
		h = max(h, float32(bottom))
	}
	return fyne.NewSize(w, h)
}

// objects converts shapes into canvas objects in stacking order. fyne has
// no rotated primitives, so rotation is not shown.
func objects(shapes []state.Shape) []fyne.CanvasObject {
	out := make([]fyne.CanvasObject, 0, len(shapes))
	for _, sh := range shapes {
		fill := export.ParseColor(sh.Color, color.NRGBA{A: 255})
		fill.A = uint8(255 * min(1, max(0, sh.Opacity)))

		switch sh.Kind {
		case state.KindCircle:
			c := canvas.NewCircle(fill)
			c.Position1 = fyne.NewPos(float32(sh.X-sh.Radius), float32(sh.Y-sh.Radius))
			c.Position2 = fyne.NewPos(float32(sh.X+sh.Radius), float32(sh.Y+sh.Radius))
			out = append(out, withLock(c, sh))
		case state.KindText:
			t := canvas.NewText(sh.TextContent, fill)
			t.TextSize = float32(sh.FontSize)
			t.TextStyle.Bold = sh.FontWeight == "bold" || sh.FontWeight == "700"
			switch sh.TextAlign {
			case "center":
				t.Alignment = fyne.TextAlignCenter
			case "right":
				t.Alignment = fyne.TextAlignTrailing
			}
			t.Move(fyne.NewPos(float32(sh.X), float32(sh.Y)))
			t.Resize(fyne.NewSize(float32(sh.Width), float32(sh.Height)))
			out = append(out, withLock(t, sh))
		default:
			r := canvas.NewRectangle(fill)
			r.CornerRadius = float32(sh.BorderRadius)
			r.Move(fyne.NewPos(float32(sh.X), float32(sh.Y)))
			r.Resize(fyne.NewSize(float32(sh.Width), float32(sh.Height)))
			out = append(out, withLock(r, sh))
		}
	}
	return out
}

// withLock outlines shapes somebody is editing.
func withLock(obj fyne.CanvasObject, sh state.Shape) fyne.CanvasObject {
	if sh.LockedBy == "" {
		return obj
	}
	switch o := obj.(type) {
	case *canvas.Rectangle:
		o.StrokeColor = theme.PrimaryColor()
		o.StrokeWidth = 2
	case *canvas.Circle:
		o.StrokeColor = theme.PrimaryColor()
		o.StrokeWidth = 2
	}
	return obj
}

func statusText(st net.State, queued int) string {
	if queued > 0 {
		return fmt.Sprintf("%s (%d queued)", st, queued)
	}
	return st.String()
}

func usersText(users []state.User) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = u.ID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
