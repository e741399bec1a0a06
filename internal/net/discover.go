package net

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service canvas servers advertise.
const ServiceType = "_livecanvas._tcp"

// ErrNotFound is returned when discovery times out without an answer.
var ErrNotFound = errors.New("net: no canvas server found")

// Discover browses the local network for a canvas server and returns the
// first usable base url, e.g. "ws://192.168.1.20:8080".
func Discover(ctx context.Context, timeout time.Duration, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")

	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	done := make(chan error, 1)
	go func() {
		done <- mdns.Query(params)
	}()

	for {
		select {
		case e := <-entries:
			if base, ok := entryURL(e); ok {
				logger.Info("found canvas server", "name", e.Name, "url", base)
				return base, nil
			}
		case err := <-done:
			if err != nil {
				return "", fmt.Errorf("mdns query: %w", err)
			}
			return "", ErrNotFound
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// entryURL builds a base url from a browse answer. The TXT record may carry
// "scheme=wss" and "path=/..." overrides.
func entryURL(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	scheme, path := "ws", ""
	for _, field := range e.InfoFields {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "scheme":
			if v == "ws" || v == "wss" {
				scheme = v
			}
		case "path":
			path = "/" + strings.TrimPrefix(v, "/")
		}
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, e.AddrV4.String(), e.Port, path), true
}
