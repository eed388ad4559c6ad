package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"hackohio/miniui/internal/config"
	"hackohio/miniui/internal/dispatch"
	"hackohio/miniui/internal/logging"
	"hackohio/miniui/internal/metrics"
	"hackohio/miniui/internal/service"
	"hackohio/miniui/pkg/procexec"
)

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.New(logging.Options{App: "miniuid", Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := listen(cfg, logger)
	if err != nil {
		return err
	}
	defer lis.Close()

	programs := cfg.DispatchPrograms()
	d := dispatch.New(dispatch.Options{
		Programs:   programs,
		ScratchDir: cfg.ScratchDir,
		Executor: procexec.NewLocal(procexec.Config{
			AllowedBinaries: programs.List(),
			Intermediary:    cfg.Intermediary,
		}),
		Logger: &logger,
	})
	return serve(ctx, d, lis, cfg.Metrics.Addr, logger)
}

// serve runs the call loop and the gRPC server until ctx is done. In-flight
// calls finish before the loop stops.
func serve(ctx context.Context, d *dispatch.Dispatcher, lis net.Listener, metricsAddr string, logger zerolog.Logger) error {
	srv := service.NewServer(d, logger)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go d.Run(loopCtx)

	var ready atomic.Bool
	ready.Store(true)
	srv.SetServing(true)

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, logger, ready.Load); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	logger.Info().Str("addr", lis.Addr().String()).Msg("miniui listening")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errc:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	ready.Store(false)
	srv.Stop()
	stopLoop()
	<-d.Stopped()
	return serveErr
}

// listen returns the socket-activated listener when started by systemd,
// otherwise a fresh unix socket at cfg.Socket.
func listen(cfg config.Config, logger zerolog.Logger) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	for _, l := range listeners {
		if l != nil {
			logger.Info().Str("addr", l.Addr().String()).Msg("using socket-activated listener")
			return l, nil
		}
	}

	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	// Remove a stale socket left by a previous run.
	if fi, err := os.Lstat(cfg.Socket); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("listen: %s exists and is not a socket", cfg.Socket)
		}
		_ = os.Remove(cfg.Socket)
	}
	l, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(cfg.Socket, mode); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return l, nil
}
