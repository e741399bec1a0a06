package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"LiveCanvas/internal/config"
	"LiveCanvas/internal/engine"
	"LiveCanvas/internal/export"
	"LiveCanvas/internal/metrics"
	"LiveCanvas/internal/net"
	"LiveCanvas/internal/state"
	"LiveCanvas/internal/tools"
	"LiveCanvas/internal/ui"
)

// syncTimeout bounds how long -export waits for the first snapshot.
const syncTimeout = 30 * time.Second

func main() {
	if err := mainInner(); err != nil {
		fmt.Fprintln(os.Stderr, "livecanvas:", err)
		os.Exit(1)
	}
}

func mainInner() error {
	configPath := flag.String("config", "", "path to livecanvas.yaml")
	exportPath := flag.String("export", "", "write the synced canvas to a .pdf or .png file and exit")
	headless := flag.Bool("headless", false, "run without a window")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverURL := cfg.Server.URL
	if serverURL == "" {
		logger.Info("looking for a canvas server", "service", net.ServiceType, "timeout", cfg.Server.DiscoverTimeout)
		serverURL, err = net.Discover(ctx, cfg.Server.DiscoverTimeout, logger)
		if err != nil {
			return fmt.Errorf("discover server: %w", err)
		}
	}

	actor := cfg.Auth.UserID
	if actor == "" {
		actor = net.OutgoingIP() + "-" + uuid.NewString()[:8]
	}
	logger = logger.With("canvas", cfg.Canvas.ID)
	logger.Info("starting", "server", serverURL, "actor", actor)

	fetchPolicy := backoff.WithMaxRetries(net.NewBackOff(cfg.ConnectionConfig()), 3)
	record, err := net.FetchCanvas(ctx, nil, serverURL, cfg.Canvas.ID, cfg.Auth.Token, fetchPolicy)
	if err != nil {
		// The channel snapshot carries the canvas too; carry on without it.
		logger.Warn("canvas record unavailable", "err", err)
	}

	m := metrics.New()
	var view *ui.View
	var notifier engine.Notifier
	if cfg.UI.Enabled && !*headless && *exportPath == "" {
		view = ui.New("LiveCanvas", cfg.UI.NoticeDuration, logger)
		notifier = view
	}

	session := engine.New(engine.Options{
		Dialer: &net.WSDialer{
			BaseURL:          serverURL,
			HandshakeTimeout: 10 * time.Second,
			Logger:           logger,
		},
		CanvasID:       cfg.Canvas.ID,
		Token:          cfg.Auth.Token,
		Actor:          actor,
		Gesture:        cfg.GestureConfig(),
		Connection:     cfg.ConnectionConfig(),
		GestureGrace:   cfg.Sync.GestureGrace,
		LockTTL:        cfg.Sync.LockTTL,
		DebounceWindow: cfg.Sync.DebounceWindow,
		HistoryLimit:   cfg.Sync.HistoryLimit,
		Metrics:        m,
		Notifier:       notifier,
		Logger:         logger,
	})
	if record.ID != "" {
		session.Post(func() { session.SetCanvas(record) })
	}

	reg := tools.NewRegistry(logger)
	if err := session.RegisterTools(reg); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Metrics.Addr != "" {
		srv := newServer(cfg.Metrics.Addr, m, reg, logger)
		go func() {
			if err := serve(runCtx, srv); err != nil {
				logger.Error("http server stopped", "err", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(runCtx) }()

	switch {
	case *exportPath != "":
		err = exportWhenSynced(ctx, session, *exportPath)
		if err == nil {
			logger.Info("canvas exported", "path", *exportPath)
		}
	case view != nil:
		if err = view.Bind(ctx, session); err == nil {
			view.Run()
		}
	default:
		session.Post(func() {
			session.OnConnection(func(s net.State) { logger.Info("connection", "state", s) })
		})
		<-ctx.Done()
	}

	cancel()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, net.ErrClosed) {
		logger.Debug("session closed", "err", rerr)
	}
	return err
}

// exportWhenSynced waits for the first full snapshot and writes it to path.
func exportWhenSynced(ctx context.Context, s *engine.Session, path string) error {
	synced := make(chan struct{})
	fired := false
	err := s.Do(ctx, func() {
		s.Subscribe(func(c state.Change) {
			if c.Kind == state.ChangeReset && !fired {
				fired = true
				close(synced)
			}
		})
	})
	if err != nil {
		return err
	}

	select {
	case <-synced:
	case <-time.After(syncTimeout):
		return fmt.Errorf("no snapshot within %s", syncTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	var snap export.Snapshot
	if err := s.Do(ctx, func() {
		snap = export.Snapshot{Canvas: s.Canvas(), Shapes: s.Shapes()}
	}); err != nil {
		return err
	}
	return export.File(path, snap)
}
