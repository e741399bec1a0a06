package net

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiveCanvas/internal/protocol"
)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws?canvasId=c1&token=t"},
		{"https://canvas.example.com/", "wss://canvas.example.com/ws?canvasId=c1&token=t"},
		{"ws://10.0.0.2:9000/ws", "ws://10.0.0.2:9000/ws?canvasId=c1&token=t"},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.base, "c1", "t")
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}

	_, err := WebSocketURL("ftp://host", "c1", "")
	assert.Error(t, err)
	_, err = WebSocketURL("localhost:8080", "c1", "")
	assert.Error(t, err)

	root, err := HTTPURL("wss://canvas.example.com/ws?canvasId=x")
	require.NoError(t, err)
	assert.Equal(t, "https://canvas.example.com", root)
}

func TestWSDialerRoundTrip(t *testing.T) {
	var gotAuth, gotCanvas atomic.Value
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotCanvas.Store(r.URL.Query().Get("canvasId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &WSDialer{BaseURL: srv.URL, HandshakeTimeout: time.Second}
	ch, err := d.Dial(context.Background(), "canvas-9", "secret")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.Write(ctx, []byte(`{"type":"CURSOR_MOVE"}`)))
	msg, err := ch.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CURSOR_MOVE"}`, string(msg))

	assert.Equal(t, "Bearer secret", gotAuth.Load())
	assert.Equal(t, "canvas-9", gotCanvas.Load())

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "close is idempotent")
	assert.ErrorIs(t, ch.Write(ctx, []byte("late")), ErrClosed)
	_, err = ch.Read()
	assert.Error(t, err)
}

func TestWSDialerReportsHandshakeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := &WSDialer{BaseURL: srv.URL}
	_, err := d.Dial(context.Background(), "c1", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestFetchCanvasRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/canvases/c1", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"canvas":{"id":"c1","name":"Plan","background_color":"#fafafa"}}`))
	}))
	defer srv.Close()

	canvas, err := FetchCanvas(context.Background(), srv.Client(), srv.URL, "c1", "", backoff.NewConstantBackOff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, protocol.Canvas{ID: "c1", Name: "Plan", BackgroundColor: "#fafafa"}, canvas)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchCanvasDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := FetchCanvas(context.Background(), srv.Client(), srv.URL, "missing", "", backoff.NewConstantBackOff(time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEntryURL(t *testing.T) {
	_, ok := entryURL(&mdns.ServiceEntry{Port: 80})
	assert.False(t, ok, "no address")

	got, ok := entryURL(&mdns.ServiceEntry{AddrV4: net.IPv4(192, 168, 1, 20), Port: 8080})
	require.True(t, ok)
	assert.Equal(t, "ws://192.168.1.20:8080", got)

	got, ok = entryURL(&mdns.ServiceEntry{
		AddrV4:     net.IPv4(10, 0, 0, 1),
		Port:       443,
		InfoFields: []string{"LiveCanvas", "scheme=wss", "path=canvas"},
	})
	require.True(t, ok)
	assert.Equal(t, "wss://10.0.0.1:443/canvas", got)
}

func TestQueueRequeueKeepsOrder(t *testing.T) {
	var q Queue
	at := time.Unix(0, 0)
	q.Enqueue(protocol.Delete("a"), at)
	q.Enqueue(protocol.Delete("b"), at)
	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Zero(t, q.Len())

	q.Enqueue(protocol.Delete("c"), at)
	q.Requeue(drained[1:])
	ids := []string{}
	for _, e := range q.Snapshot() {
		ids = append(ids, e.Intent.ShapeID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
	assert.NotEqual(t, drained[0].ID, drained[1].ID)
}
