package net

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"LiveCanvas/internal/protocol"
)

// FetchCanvas loads the canvas record (id, name, background) over HTTP,
// retrying transient failures with bo. Client errors are not retried.
func FetchCanvas(ctx context.Context, client *http.Client, base, canvasID, token string, bo backoff.BackOff) (protocol.Canvas, error) {
	root, err := HTTPURL(base)
	if err != nil {
		return protocol.Canvas{}, err
	}
	target := root + "/api/canvases/" + url.PathEscape(canvasID)
	if client == nil {
		client = http.DefaultClient
	}

	var canvas protocol.Canvas
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("fetch canvas %s: %s", canvasID, resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("fetch canvas %s: %s", canvasID, resp.Status))
		}
		c, err := protocol.DecodeCanvas(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		canvas = c
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return protocol.Canvas{}, err
	}
	if canvas.ID == "" {
		canvas.ID = canvasID
	}
	return canvas, nil
}
